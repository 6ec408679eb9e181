// Package cache owns the in-memory document index, relevance search, and the
// TTL-bounded analytics cache layered over the durable store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vantagebi/vantage-mcp/internal/model"
	"github.com/vantagebi/vantage-mcp/internal/store"
)

// SearchTypeAll selects both document partitions in Search.
const SearchTypeAll = "all"

// DocumentLister fetches the full document list of one type from the remote
// platform. *platform.Client satisfies it.
type DocumentLister interface {
	ListDocuments(ctx context.Context, docType model.DocumentType) ([]model.Document, error)
}

// DocumentCache mirrors the durable store in memory and serves reads and
// scored searches from the mirror. Partitions are replaced wholesale, never
// mutated in place, so readers always observe a full pre- or post-refresh
// partition.
type DocumentCache struct {
	store store.DocumentStore
	log   *zap.Logger
	now   func() time.Time

	mu    sync.RWMutex
	index map[model.DocumentType][]model.CachedDocument
}

// New builds an empty cache over the given durable store.
func New(st store.DocumentStore, log *zap.Logger) *DocumentCache {
	return &DocumentCache{
		store: st,
		log:   log,
		now:   time.Now,
		index: map[model.DocumentType][]model.CachedDocument{
			model.TypeWorkbook: {},
			model.TypeDataset:  {},
		},
	}
}

// Initialize loads both document partitions from the durable store. Load
// failures never fail the caller: an empty cache is a safe degraded state
// awaiting a refresh, so errors are logged and the partition stays empty.
func (c *DocumentCache) Initialize(ctx context.Context) {
	for _, docType := range []model.DocumentType{model.TypeWorkbook, model.TypeDataset} {
		docs, err := c.store.LoadDocuments(ctx, docType)
		if err != nil {
			c.log.Warn("document partition load failed, starting empty",
				zap.String("type", string(docType)),
				zap.Error(err))
			docs = nil
		}
		if docs == nil {
			docs = []model.CachedDocument{}
		}
		c.mu.Lock()
		c.index[docType] = docs
		c.mu.Unlock()
	}
	c.log.Info("document cache initialized",
		zap.Int("workbooks", len(c.Workbooks())),
		zap.Int("datasets", len(c.Datasets())))
}

// Workbooks returns the current workbook partition.
func (c *DocumentCache) Workbooks() []model.CachedDocument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index[model.TypeWorkbook]
}

// Datasets returns the current dataset partition.
func (c *DocumentCache) Datasets() []model.CachedDocument {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index[model.TypeDataset]
}

// Search scores candidates of the requested type ("workbook", "dataset" or
// "all") against the query, keeps scores above zero, orders descending with
// insertion order preserved on ties, and truncates to limit. An empty or
// blank query returns an empty result, never an error.
func (c *DocumentCache) Search(query, docType string, limit int) []model.CachedDocument {
	if strings.TrimSpace(query) == "" {
		return []model.CachedDocument{}
	}
	if limit <= 0 {
		limit = 10
	}

	var candidates []model.CachedDocument
	switch docType {
	case string(model.TypeWorkbook):
		candidates = c.Workbooks()
	case string(model.TypeDataset):
		candidates = c.Datasets()
	default:
		candidates = append(append([]model.CachedDocument{}, c.Workbooks()...), c.Datasets()...)
	}

	type scored struct {
		doc   model.CachedDocument
		score int
	}
	matches := make([]scored, 0, len(candidates))
	for _, doc := range candidates {
		if s := RelevanceScore(doc, query); s > 0 {
			matches = append(matches, scored{doc: doc, score: s})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	results := make([]model.CachedDocument, len(matches))
	for i, m := range matches {
		results[i] = m.doc
	}
	return results
}

// Refresh fetches the full document list from the platform, rebuilds both
// partitions wholesale, persists them, and swaps the in-memory index. On any
// error the previous partitions remain authoritative; there is no partial
// success.
func (c *DocumentCache) Refresh(ctx context.Context, lister DocumentLister) error {
	now := c.now()
	fresh := make(map[model.DocumentType][]model.CachedDocument, 2)

	for _, docType := range []model.DocumentType{model.TypeWorkbook, model.TypeDataset} {
		docs, err := lister.ListDocuments(ctx, docType)
		if err != nil {
			return fmt.Errorf("refresh %s partition: %w", docType, err)
		}
		cached := make([]model.CachedDocument, len(docs))
		for i, doc := range docs {
			cached[i] = model.NewCachedDocument(doc, now)
		}
		fresh[docType] = cached
	}

	for docType, cached := range fresh {
		if err := c.store.SaveDocuments(ctx, docType, cached); err != nil {
			return fmt.Errorf("persist %s partition: %w", docType, err)
		}
	}

	c.mu.Lock()
	for docType, cached := range fresh {
		c.index[docType] = cached
	}
	c.mu.Unlock()

	c.log.Info("document cache refreshed",
		zap.Int("workbooks", len(fresh[model.TypeWorkbook])),
		zap.Int("datasets", len(fresh[model.TypeDataset])))
	return nil
}

// CachedAnalytics returns the cached records for the key if an entry exists
// and is still inside its TTL window. Expired or absent entries report a
// miss; a stale payload is never returned. Store errors degrade to a miss.
func (c *DocumentCache) CachedAnalytics(ctx context.Context, workbookID, elementID string) ([]model.AnalyticsRecord, bool) {
	key := model.AnalyticsKey(workbookID, elementID)
	entry, err := c.store.LoadAnalytics(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Warn("analytics cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if !entry.Valid(c.now()) {
		return nil, false
	}
	return entry.Records, true
}

// CacheAnalytics unconditionally overwrites any prior entry for the key with
// a freshly timestamped one.
func (c *DocumentCache) CacheAnalytics(ctx context.Context, workbookID, elementID string, records []model.AnalyticsRecord) error {
	entry := model.AnalyticsCacheEntry{
		WorkbookID: workbookID,
		ElementID:  elementID,
		Records:    records,
		LastCached: c.now(),
	}
	if err := c.store.SaveAnalytics(ctx, entry); err != nil {
		return fmt.Errorf("persist analytics %s: %w", model.AnalyticsKey(workbookID, elementID), err)
	}
	return nil
}
