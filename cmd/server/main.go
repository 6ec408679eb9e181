// Local development harness: serves the Lambda handler over plain HTTP by
// translating each request into an API Gateway proxy event, so the full
// routing and dispatch path runs without a deploy.
package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/vantagebi/vantage-mcp/internal/app"
)

func main() {
	application := app.NewApp(context.Background())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "unreadable request body", http.StatusBadRequest)
			return
		}

		resp, err := application.HandleRequest(r.Context(), toProxyRequest(r, body))
		if err != nil {
			log.Printf("handler error: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.WriteString(w, resp.Body); err != nil {
			log.Printf("write response: %v", err)
		}
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("local harness listening on :%s", port)
	log.Fatal(srv.ListenAndServe())
}

// toProxyRequest flattens an http.Request into the proxy event shape the
// handler expects. Repeated headers are joined; API Gateway delivers them
// the same way in its single-value map.
func toProxyRequest(r *http.Request, body []byte) events.APIGatewayProxyRequest {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
	}
	query := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		query[k] = v[0]
	}
	return events.APIGatewayProxyRequest{
		Path:                  r.URL.Path,
		HTTPMethod:            r.Method,
		Headers:               headers,
		QueryStringParameters: query,
		Body:                  string(body),
	}
}
