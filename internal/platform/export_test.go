package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vantagebi/vantage-mcp/internal/model"
)

// testClient builds a Client against an httptest server that always serves
// the token endpoint, plus whatever handlers the test registers on mux.
// Sleeps are recorded instead of performed.
func testClient(t *testing.T, mux *http.ServeMux) (*Client, *[]time.Duration, func()) {
	t.Helper()

	mux.HandleFunc("/v2/auth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-abc","token_type":"Bearer","expires_in":3600}`))
	})
	srv := httptest.NewServer(mux)

	c := NewClient(Config{
		BaseURL:      srv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
	}, zap.NewNop())

	var sleeps []time.Duration
	c.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	return c, &sleeps, srv.Close
}

func TestPollExport_ReadyAfterEmptyResponses(t *testing.T) {
	mux := http.NewServeMux()
	attempts := 0
	mux.HandleFunc("/v2/query/q-1/download", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte("col_a,col_b\n1,2\n"))
	})

	c, sleeps, closeFn := testClient(t, mux)
	defer closeFn()

	data, err := c.PollExport(context.Background(), "q-1")
	if err != nil {
		t.Fatalf("PollExport failed: %v", err)
	}
	if string(data) != "col_a,col_b\n1,2\n" {
		t.Errorf("Unexpected payload: %q", data)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 download attempts, got %d", attempts)
	}
	// One sleep per not-ready attempt, each at the fixed delay.
	if len(*sleeps) != 2 {
		t.Fatalf("Expected 2 sleeps, got %d", len(*sleeps))
	}
	for _, d := range *sleeps {
		if d != defaultPollDelay {
			t.Errorf("Expected %v delay, got %v", defaultPollDelay, d)
		}
	}
}

func TestPollExport_ExhaustsAttemptBudget(t *testing.T) {
	mux := http.NewServeMux()
	attempts := 0
	mux.HandleFunc("/v2/query/q-2/download", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNoContent)
	})

	c, sleeps, closeFn := testClient(t, mux)
	defer closeFn()

	_, err := c.PollExport(context.Background(), "q-2")
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	var timeoutErr *ExportTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected *ExportTimeoutError, got %T: %v", err, err)
	}
	if timeoutErr.Attempts != defaultMaxPollAttempts {
		t.Errorf("Expected %d attempts in error, got %d", defaultMaxPollAttempts, timeoutErr.Attempts)
	}
	if attempts != defaultMaxPollAttempts {
		t.Errorf("Expected %d download attempts, got %d", defaultMaxPollAttempts, attempts)
	}
	// No sleep after the final attempt.
	if len(*sleeps) != defaultMaxPollAttempts-1 {
		t.Errorf("Expected %d sleeps, got %d", defaultMaxPollAttempts-1, len(*sleeps))
	}
}

func TestPollExport_TransportErrorIsTransient(t *testing.T) {
	mux := http.NewServeMux()
	attempts := 0
	mux.HandleFunc("/v2/query/q-3/download", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ready"))
	})

	c, _, closeFn := testClient(t, mux)
	defer closeFn()

	data, err := c.PollExport(context.Background(), "q-3")
	if err != nil {
		t.Fatalf("Expected recovery after transient failure, got %v", err)
	}
	if string(data) != "ready" {
		t.Errorf("Unexpected payload: %q", data)
	}
}

func TestRunExport_CompactsJSONPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/workbooks/wb1/export", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		w.Write([]byte(`{"queryId":"q-9"}`))
	})
	mux.HandleFunc("/v2/query/q-9/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{\n  \"rows\": [1, 2]\n}\n"))
	})

	c, _, closeFn := testClient(t, mux)
	defer closeFn()

	out, err := c.RunExport(context.Background(), "wb1", "", "json", nil)
	if err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	if out != `{"rows":[1,2]}` {
		t.Errorf("Expected compact JSON, got %q", out)
	}
}

func TestRunExport_NonJSONPassthrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/workbooks/wb1/export", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"queryId":"q-10"}`))
	})
	mux.HandleFunc("/v2/query/q-10/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a,b\n1,2\n"))
	})

	c, _, closeFn := testClient(t, mux)
	defer closeFn()

	out, err := c.RunExport(context.Background(), "wb1", "", "csv", nil)
	if err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	if out != "a,b\n1,2\n" {
		t.Errorf("Expected CSV passthrough, got %q", out)
	}
}

func TestFetchAnalytics_ParsesJSONL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/workbooks/wb1/export", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"queryId":"q-11"}`))
	})
	mux.HandleFunc("/v2/query/q-11/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Doc ID":"wb1","Doc Type":"workbook","Doc Created By (email)":"owner@example.com","# Opens":42,"# Unique Users":"7","Opens %ile":0.93}
not json at all
{"Doc ID":"wb2","# Opens":3}

`))
	})

	c, _, closeFn := testClient(t, mux)
	defer closeFn()

	records, err := c.FetchAnalytics(context.Background(), "wb1", "el1", nil)
	if err != nil {
		t.Fatalf("FetchAnalytics failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records (malformed line skipped), got %d", len(records))
	}

	first := records[0]
	if first.DocumentID != "wb1" || first.DocumentType != "workbook" {
		t.Errorf("Identity columns wrong: %+v", first)
	}
	if first.CreatedBy != "owner@example.com" {
		t.Errorf("CreatedBy wrong: %q", first.CreatedBy)
	}
	if first.Opens != 42 {
		t.Errorf("Expected numeric Opens 42, got %d", first.Opens)
	}
	if first.UniqueUsers != 7 {
		t.Errorf("Expected string-coerced UniqueUsers 7, got %d", first.UniqueUsers)
	}
	if first.OpensPercentile != 0.93 {
		t.Errorf("Expected OpensPercentile 0.93, got %v", first.OpensPercentile)
	}

	second := records[1]
	if second.DocumentID != "wb2" || second.Opens != 3 {
		t.Errorf("Second record wrong: %+v", second)
	}
	if second.Interactions != 0 || second.CreatedBy != "" {
		t.Errorf("Absent columns should zero-default: %+v", second)
	}
}

func TestRequest_NonSuccessStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/workbooks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"nope"}`))
	})

	c, _, closeFn := testClient(t, mux)
	defer closeFn()

	_, err := c.Request(context.Background(), http.MethodGet, "/v2/workbooks", nil)
	if err == nil {
		t.Fatal("Expected error for 403 response")
	}
	var apiErr *RemoteAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *RemoteAPIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Endpoint != "/v2/workbooks" {
		t.Errorf("Error fields wrong: %+v", apiErr)
	}
}

func TestListDocuments_FollowsPageCursor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/datasets", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			w.Write([]byte(`{"entries":[{"datasetId":"ds1","name":"Orders"}],"nextPage":"p2"}`))
			return
		}
		w.Write([]byte(`{"entries":[{"datasetId":"ds2","name":"Returns"}]}`))
	})

	c, _, closeFn := testClient(t, mux)
	defer closeFn()

	docs, err := c.ListDocuments(context.Background(), model.TypeDataset)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents across pages, got %d", len(docs))
	}
	if docs[0].ID != "ds1" || docs[1].ID != "ds2" {
		t.Errorf("Page order wrong: %v, %v", docs[0].ID, docs[1].ID)
	}
}
