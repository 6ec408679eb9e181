package handler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vantagebi/vantage-mcp/internal/cache"
	"github.com/vantagebi/vantage-mcp/internal/model"
)

// DocumentCache is the slice of *cache.DocumentCache the handlers need.
type DocumentCache interface {
	Workbooks() []model.CachedDocument
	Datasets() []model.CachedDocument
	Search(query, docType string, limit int) []model.CachedDocument
	Refresh(ctx context.Context, lister cache.DocumentLister) error
	CachedAnalytics(ctx context.Context, workbookID, elementID string) ([]model.AnalyticsRecord, bool)
	CacheAnalytics(ctx context.Context, workbookID, elementID string, records []model.AnalyticsRecord) error
}

// Exporter is the slice of *platform.Client the handlers need.
type Exporter interface {
	cache.DocumentLister
	RunExport(ctx context.Context, workbookID, elementID, format string, parameters map[string]string) (string, error)
	FetchAnalytics(ctx context.Context, workbookID, elementID string, parameters map[string]string) ([]model.AnalyticsRecord, error)
}

// RecordQuerier evaluates a declarative expression over analytics records.
type RecordQuerier interface {
	Query(ctx context.Context, records []model.AnalyticsRecord, expr string) ([]model.AnalyticsRecord, error)
}

// Tools bundles the collaborators behind the tool operations.
type Tools struct {
	cache    DocumentCache
	platform Exporter
	querier  RecordQuerier
	log      *zap.Logger
}

// NewTools wires the tool handlers.
func NewTools(c DocumentCache, p Exporter, q RecordQuerier, log *zap.Logger) *Tools {
	return &Tools{cache: c, platform: p, querier: q, log: log}
}

const defaultSearchLimit = 10

// SearchDocuments handles the search_documents tool.
func (t *Tools) SearchDocuments(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	docType := stringArg(args, "type", cache.SearchTypeAll)
	limit := intArg(args, "limit", defaultSearchLimit)

	// Non-string or blank queries return an empty result, not an error.
	return t.cache.Search(query, docType, limit), nil
}

// ListWorkbooks handles the list_workbooks tool.
func (t *Tools) ListWorkbooks(_ context.Context, _ map[string]any) (any, error) {
	return t.cache.Workbooks(), nil
}

// ListDatasets handles the list_datasets tool.
func (t *Tools) ListDatasets(_ context.Context, _ map[string]any) (any, error) {
	return t.cache.Datasets(), nil
}

// RefreshDocuments handles the refresh_documents tool.
func (t *Tools) RefreshDocuments(ctx context.Context, _ map[string]any) (any, error) {
	if err := t.cache.Refresh(ctx, t.platform); err != nil {
		return nil, err
	}
	return map[string]any{
		"workbooks": len(t.cache.Workbooks()),
		"datasets":  len(t.cache.Datasets()),
	}, nil
}

// ExportData handles the export_data tool and returns the raw export payload.
func (t *Tools) ExportData(ctx context.Context, args map[string]any) (any, error) {
	workbookID, err := requiredString(args, "workbookId")
	if err != nil {
		return nil, err
	}
	elementID := stringArg(args, "elementId", "")
	format := stringArg(args, "format", "csv")
	return t.platform.RunExport(ctx, workbookID, elementID, format, paramsArg(args))
}

// GetDocumentAnalytics handles the get_document_analytics tool. The TTL
// cache is consulted first; a miss or an explicit refresh flag falls back to
// the export pipeline and repopulates the cache. An optional query argument
// post-filters the records through the record query engine.
func (t *Tools) GetDocumentAnalytics(ctx context.Context, args map[string]any) (any, error) {
	workbookID, err := requiredString(args, "workbookId")
	if err != nil {
		return nil, err
	}
	elementID := stringArg(args, "elementId", "")
	bypass, _ := args["refresh"].(bool)

	var records []model.AnalyticsRecord
	cached := false
	if !bypass {
		records, cached = t.cache.CachedAnalytics(ctx, workbookID, elementID)
	}
	if !cached {
		records, err = t.platform.FetchAnalytics(ctx, workbookID, elementID, paramsArg(args))
		if err != nil {
			return nil, err
		}
		if err := t.cache.CacheAnalytics(ctx, workbookID, elementID, records); err != nil {
			return nil, err
		}
	}

	if expr := stringArg(args, "query", ""); expr != "" {
		return t.querier.Query(ctx, records, expr)
	}
	return records, nil
}

func requiredString(args map[string]any, key string) (string, error) {
	val, _ := args[key].(string)
	if val == "" {
		return "", fmt.Errorf("argument %q is required", key)
	}
	return val, nil
}

func stringArg(args map[string]any, key, fallback string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return fallback
}

// intArg reads a numeric argument; JSON numbers decode as float64.
func intArg(args map[string]any, key string, fallback int) int {
	switch n := args[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return fallback
	}
}

func paramsArg(args map[string]any) map[string]string {
	raw, ok := args["parameters"].(map[string]any)
	if !ok {
		return nil
	}
	params := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			params[k] = s
		} else {
			params[k] = fmt.Sprint(v)
		}
	}
	return params
}
