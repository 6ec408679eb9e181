package platform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vantagebi/vantage-mcp/internal/model"
)

// ExportState tracks an export job through its lifecycle.
type ExportState string

const (
	StateNotStarted ExportState = "NOT_STARTED"
	StateInitiated  ExportState = "INITIATED"
	StatePolling    ExportState = "POLLING"
	StateCompleted  ExportState = "COMPLETED"
	StateTimedOut   ExportState = "TIMED_OUT"
	StateFailed     ExportState = "FAILED"
)

const (
	defaultMaxPollAttempts = 30
	defaultPollDelay       = 2 * time.Second
)

type exportRequest struct {
	Format     map[string]string `json:"format"`
	ElementID  string            `json:"elementId,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type exportResponse struct {
	QueryID string `json:"queryId"`
}

// InitiateExport asks the platform to start an asynchronous export and
// returns the opaque query id used to poll for the result.
func (c *Client) InitiateExport(ctx context.Context, workbookID, elementID, format string, parameters map[string]string) (string, error) {
	body := exportRequest{
		Format:     map[string]string{"type": format},
		ElementID:  elementID,
		Parameters: parameters,
	}
	data, err := c.Request(ctx, http.MethodPost, "/v2/workbooks/"+workbookID+"/export", body)
	if err != nil {
		return "", err
	}

	var resp exportResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode export response: %w", err)
	}
	if resp.QueryID == "" {
		return "", fmt.Errorf("export response missing queryId")
	}
	return resp.QueryID, nil
}

// PollExport attempts downloads until the export is ready, using a fixed
// inter-attempt delay and a bounded attempt budget. An empty response body
// means "not ready", not an error. Transport errors on non-final attempts are
// logged and treated as transient. Exhausting the budget fails with
// *ExportTimeoutError.
func (c *Client) PollExport(ctx context.Context, queryID string) ([]byte, error) {
	state := StatePolling
	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		data, err := c.Request(ctx, http.MethodGet, "/v2/query/"+queryID+"/download", nil)
		if err != nil {
			if attempt == c.maxPollAttempts {
				state = StateFailed
				c.log.Warn("export poll failed on final attempt",
					zap.String("query_id", queryID),
					zap.String("state", string(state)),
					zap.Error(err))
				return nil, err
			}
			c.log.Warn("export poll attempt failed, retrying",
				zap.String("query_id", queryID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else if len(bytes.TrimSpace(data)) > 0 {
			state = StateCompleted
			c.log.Debug("export ready",
				zap.String("query_id", queryID),
				zap.String("state", string(state)),
				zap.Int("attempts", attempt))
			return data, nil
		}

		if attempt < c.maxPollAttempts {
			c.sleep(c.pollDelay)
		}
	}

	state = StateTimedOut
	c.log.Warn("export timed out",
		zap.String("query_id", queryID),
		zap.String("state", string(state)),
		zap.Int("attempts", c.maxPollAttempts))
	return nil, &ExportTimeoutError{QueryID: queryID, Attempts: c.maxPollAttempts}
}

// RunExport drives the full initiate/poll/download state machine and returns
// the raw payload: text passed through as-is, JSON re-serialized compactly.
func (c *Client) RunExport(ctx context.Context, workbookID, elementID, format string, parameters map[string]string) (string, error) {
	queryID, err := c.InitiateExport(ctx, workbookID, elementID, format, parameters)
	if err != nil {
		return "", err
	}
	c.log.Debug("export initiated",
		zap.String("workbook_id", workbookID),
		zap.String("query_id", queryID),
		zap.String("state", string(StateInitiated)))

	data, err := c.PollExport(ctx, queryID)
	if err != nil {
		return "", err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err == nil {
		compact, err := json.Marshal(parsed)
		if err == nil {
			return string(compact), nil
		}
	}
	return string(data), nil
}

// Analytics export columns as emitted by the platform, mapped onto
// AnalyticsRecord fields. Absent numerics default to 0, absent strings to "".
const (
	colOpens           = "# Opens"
	colInteractions    = "# Interactions"
	colPublishes       = "# Publishes"
	colUniqueUsers     = "# Unique Users"
	colOpensPctile     = "Opens %ile"
	colInteractPctile  = "Interactions %ile"
	colFirstActivity   = "First Activity"
	colLastActivity    = "Last Activity"
	colLastOpened      = "Last Opened"
	colLastInteracted  = "Last Interacted"
	colLastPublished   = "Last Published"
	colCreatedBy       = "Doc Created By (email)"
	colDocumentID      = "Doc ID"
	colDocumentType    = "Doc Type"
	colDocumentVersion = "Doc Version"
)

// FetchAnalytics runs an analytics export and parses the JSONL payload. Each
// line parses independently; a malformed line is logged and skipped without
// aborting the batch.
func (c *Client) FetchAnalytics(ctx context.Context, workbookID, elementID string, parameters map[string]string) ([]model.AnalyticsRecord, error) {
	queryID, err := c.InitiateExport(ctx, workbookID, elementID, "json", parameters)
	if err != nil {
		return nil, err
	}

	data, err := c.PollExport(ctx, queryID)
	if err != nil {
		return nil, err
	}

	records := make([]model.AnalyticsRecord, 0)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			c.log.Warn("skipping malformed analytics line",
				zap.String("query_id", queryID),
				zap.Int("line", line),
				zap.Error(err))
			continue
		}
		records = append(records, mapAnalyticsRow(row))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan analytics payload: %w", err)
	}
	return records, nil
}

func mapAnalyticsRow(row map[string]any) model.AnalyticsRecord {
	return model.AnalyticsRecord{
		DocumentID:             asString(row[colDocumentID]),
		DocumentType:           asString(row[colDocumentType]),
		Version:                asString(row[colDocumentVersion]),
		CreatedBy:              asString(row[colCreatedBy]),
		Opens:                  asInt(row[colOpens]),
		Interactions:           asInt(row[colInteractions]),
		Publishes:              asInt(row[colPublishes]),
		UniqueUsers:            asInt(row[colUniqueUsers]),
		OpensPercentile:        asFloat(row[colOpensPctile]),
		InteractionsPercentile: asFloat(row[colInteractPctile]),
		FirstActivity:          asString(row[colFirstActivity]),
		LastActivity:           asString(row[colLastActivity]),
		LastOpened:             asString(row[colLastOpened]),
		LastInteracted:         asString(row[colLastInteracted]),
		LastPublished:          asString(row[colLastPublished]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}
