// Package app wires the application together and routes API Gateway
// requests into the JSON-RPC tool dispatcher.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantagebi/vantage-mcp/internal/cache"
	"github.com/vantagebi/vantage-mcp/internal/handler"
	"github.com/vantagebi/vantage-mcp/internal/logger"
	"github.com/vantagebi/vantage-mcp/internal/platform"
	"github.com/vantagebi/vantage-mcp/internal/query"
	"github.com/vantagebi/vantage-mcp/internal/secret"
	"github.com/vantagebi/vantage-mcp/internal/store"
)

const (
	serverName      = "vantage-mcp"
	serverVersion   = "0.3.0"
	protocolVersion = "2025-06-18"
)

// App holds the dependencies for the Lambda function.
type App struct {
	log       *zap.Logger
	tools     []Tool
	toolIndex map[string]Tool

	jwtSecret        string
	apiGatewaySecret string
	devMode          bool
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context) *App {
	devMode := os.Getenv("DEV_MODE") == "true"

	env := "production"
	if devMode {
		env = "development"
	}
	log, err := logger.New(env)
	if err != nil {
		panic(fmt.Sprintf("unable to build logger, %v", err))
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}

	// ---------- Secret Resolver ----------
	var resolver secret.Resolver
	if devMode {
		resolver = secret.NewEnvResolver()
		log.Info("using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(cfg))
		log.Info("using SSMResolver (SSM Parameter Store)")
	}

	clientSecret, err := resolver.GetSecret(ctx, envOr("CLIENT_SECRET_PARAM", "/vantage/client-secret"))
	if err != nil {
		log.Warn("failed to resolve CLIENT_SECRET", zap.Error(err))
	}
	jwtSecret, err := resolver.GetSecret(ctx, envOr("JWT_SECRET_PARAM", "/vantage/jwt-secret"))
	if err != nil {
		log.Warn("failed to resolve JWT_SECRET", zap.Error(err))
		jwtSecret = "default-dev-secret"
	}
	apiGatewaySecret, err := resolver.GetSecret(ctx, envOr("API_GATEWAY_SECRET_PARAM", "/vantage/api-gateway-secret"))
	if err != nil {
		log.Warn("failed to resolve API_GATEWAY_SECRET", zap.Error(err))
	}

	// ---------- Durable Store ----------
	// The backend is chosen once here; everything downstream sees only the
	// DocumentStore interface.
	var docStore store.DocumentStore
	if os.Getenv("USE_FILE_STORE") == "true" {
		path := envOr("CACHE_FILE_PATH", "/tmp/vantage-cache.json")
		docStore = store.NewFileStore(path)
		log.Info("using FileStore", zap.String("path", path))
	} else {
		table := envOr("DOCUMENT_CACHE_TABLE", "DocumentCache")
		docStore = store.NewDynamoStore(dynamodb.NewFromConfig(cfg), table)
		log.Info("using DynamoStore", zap.String("table", table))
	}

	// ---------- Remote Platform Client ----------
	client := platform.NewClient(platform.Config{
		BaseURL:      envOr("PLATFORM_BASE_URL", "https://api.vantagebi.com"),
		ClientID:     os.Getenv("PLATFORM_CLIENT_ID"),
		ClientSecret: clientSecret,
	}, log)

	// ---------- Document Cache ----------
	docCache := cache.New(docStore, log)
	docCache.Initialize(ctx)

	// ---------- Record Query Engine ----------
	engine := query.NewEngine(log)

	tools := handler.NewTools(docCache, client, engine, log)

	a := &App{
		log:              log,
		jwtSecret:        jwtSecret,
		apiGatewaySecret: apiGatewaySecret,
		devMode:          devMode,
	}
	a.registerTools(tools)
	return a
}

func (a *App) registerTools(t *handler.Tools) {
	a.tools = []Tool{
		{
			Name:        "search_documents",
			Description: "Search cached workbooks and datasets by relevance.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"type":  map[string]any{"type": "string", "enum": []string{"workbook", "dataset", "all"}},
					"limit": map[string]any{"type": "number"},
				},
				"required": []string{"query"},
			},
			Run: t.SearchDocuments,
		},
		{
			Name:        "list_workbooks",
			Description: "List all cached workbooks.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Run:         t.ListWorkbooks,
		},
		{
			Name:        "list_datasets",
			Description: "List all cached datasets.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Run:         t.ListDatasets,
		},
		{
			Name:        "refresh_documents",
			Description: "Rebuild the document cache from the platform.",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
			Run:         t.RefreshDocuments,
		},
		{
			Name:        "export_data",
			Description: "Run a synchronous export and return the raw payload.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"workbookId": map[string]any{"type": "string"},
					"elementId":  map[string]any{"type": "string"},
					"format":     map[string]any{"type": "string"},
					"parameters": map[string]any{"type": "object"},
				},
				"required": []string{"workbookId"},
			},
			Run: t.ExportData,
		},
		{
			Name:        "get_document_analytics",
			Description: "Fetch usage analytics for a workbook element, cached for 30 minutes.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"workbookId": map[string]any{"type": "string"},
					"elementId":  map[string]any{"type": "string"},
					"parameters": map[string]any{"type": "object"},
					"query":      map[string]any{"type": "string"},
					"refresh":    map[string]any{"type": "boolean"},
				},
				"required": []string{"workbookId"},
			},
			Run: t.GetDocumentAnalytics,
		},
	}

	a.toolIndex = make(map[string]Tool, len(a.tools))
	for _, tool := range a.tools {
		a.toolIndex[tool.Name] = tool
	}
}

// HandleRequest routes API Gateway requests into the dispatcher.
func (a *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	path := req.Path
	method := req.HTTPMethod
	reqID := uuid.New().String()

	a.log.Info("request", zap.String("request_id", reqID), zap.String("method", method), zap.String("path", path))

	// CORS Preflight
	if method == "OPTIONS" {
		return corsResponse(events.APIGatewayProxyResponse{StatusCode: 204}), nil
	}

	// Security: verify request origin (CloudFront only) outside dev mode.
	// An unresolved secret fails closed; it must never match the absent header.
	if !a.devMode {
		if a.apiGatewaySecret == "" || header(req, "X-Origin-Verify") != a.apiGatewaySecret {
			a.log.Warn("blocked request with invalid origin header", zap.String("request_id", reqID))
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusForbidden,
				Body:       "Forbidden: Access denied",
			}, nil
		}
	}

	// Strip /api prefix if present (for CloudFront proxying)
	path = strings.TrimPrefix(path, "/api")

	if path == "/healthz" && method == "GET" {
		return corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Body: "ok"}), nil
	}

	if path == "/mcp" && method == "POST" {
		if !a.devMode {
			if _, err := handler.GetUserID(req, a.jwtSecret); err != nil {
				return corsResponse(events.APIGatewayProxyResponse{
					StatusCode: http.StatusUnauthorized,
					Body:       "Unauthorized",
				}), nil
			}
		}
		return corsResponse(a.serveMCP(ctx, req.Body)), nil
	}

	return corsResponse(events.APIGatewayProxyResponse{
		StatusCode: http.StatusNotFound,
		Body:       fmt.Sprintf("Not Found: %s %s", method, path),
	}), nil
}

func (a *App) serveMCP(ctx context.Context, body string) events.APIGatewayProxyResponse {
	var mcpReq MCPRequest
	var resp MCPResponse
	if err := json.Unmarshal([]byte(body), &mcpReq); err != nil {
		resp = errorResponse(nil, ErrCodeParseError, err.Error())
	} else {
		resp = a.dispatch(ctx, mcpReq)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		a.log.Error("failed to encode response", zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: "Internal Server Error"}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Body:       string(out),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// header does a case-insensitive lookup in API Gateway headers.
func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// corsResponse adds CORS headers to an API Gateway response.
func corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	origin := os.Getenv("FRONTEND_URL")
	if origin == "" {
		origin = "http://localhost:3000"
	}
	resp.Headers["Access-Control-Allow-Origin"] = origin
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}
