package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vantagebi/vantage-mcp/internal/model"
	"github.com/vantagebi/vantage-mcp/internal/store"
)

// fakeStore is an in-memory DocumentStore for cache tests.
type fakeStore struct {
	docs      map[model.DocumentType][]model.CachedDocument
	analytics map[string]model.AnalyticsCacheEntry

	loadErr error
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:      make(map[model.DocumentType][]model.CachedDocument),
		analytics: make(map[string]model.AnalyticsCacheEntry),
	}
}

func (f *fakeStore) LoadDocuments(_ context.Context, docType model.DocumentType) ([]model.CachedDocument, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.docs[docType], nil
}

func (f *fakeStore) SaveDocuments(_ context.Context, docType model.DocumentType, docs []model.CachedDocument) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.docs[docType] = docs
	return nil
}

func (f *fakeStore) LoadAnalytics(_ context.Context, key string) (*model.AnalyticsCacheEntry, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	entry, ok := f.analytics[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (f *fakeStore) SaveAnalytics(_ context.Context, entry model.AnalyticsCacheEntry) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.analytics[model.AnalyticsKey(entry.WorkbookID, entry.ElementID)] = entry
	return nil
}

type fakeLister struct {
	docs map[model.DocumentType][]model.Document
	err  error
}

func (f *fakeLister) ListDocuments(_ context.Context, docType model.DocumentType) ([]model.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs[docType], nil
}

func testCache(st store.DocumentStore) *DocumentCache {
	return New(st, zap.NewNop())
}

func TestInitialize_LoadsPartitions(t *testing.T) {
	st := newFakeStore()
	st.docs[model.TypeWorkbook] = []model.CachedDocument{
		model.NewCachedDocument(model.Document{ID: "wb1", Type: model.TypeWorkbook, Name: "Revenue"}, time.Now()),
	}

	c := testCache(st)
	c.Initialize(context.Background())

	if len(c.Workbooks()) != 1 {
		t.Errorf("Expected 1 workbook, got %d", len(c.Workbooks()))
	}
	if len(c.Datasets()) != 0 {
		t.Errorf("Expected 0 datasets, got %d", len(c.Datasets()))
	}
}

func TestInitialize_LoadFailureDegradesToEmpty(t *testing.T) {
	st := newFakeStore()
	st.loadErr = errors.New("table offline")

	c := testCache(st)
	c.Initialize(context.Background())

	if got := c.Workbooks(); got == nil || len(got) != 0 {
		t.Errorf("Expected empty workbook partition, got %v", got)
	}
	if got := c.Datasets(); got == nil || len(got) != 0 {
		t.Errorf("Expected empty dataset partition, got %v", got)
	}
}

func TestSearch_EmptyQueryReturnsEmpty(t *testing.T) {
	c := testCache(newFakeStore())

	for _, q := range []string{"", "   ", "\t"} {
		if got := c.Search(q, SearchTypeAll, 10); len(got) != 0 {
			t.Errorf("Expected empty result for query %q, got %d docs", q, len(got))
		}
	}
}

func TestSearch_ScenarioSalesQuery(t *testing.T) {
	st := newFakeStore()
	c := testCache(st)
	now := time.Now()
	c.index[model.TypeWorkbook] = []model.CachedDocument{
		model.NewCachedDocument(model.Document{
			ID: "wb1", Type: model.TypeWorkbook,
			Name: "Sales Dashboard", BadgeStatus: model.BadgeEndorsed,
		}, now),
		model.NewCachedDocument(model.Document{
			ID: "wb2", Type: model.TypeWorkbook,
			Name: "Ops Report", BadgeStatus: model.BadgeDeprecated,
			Tags: []string{"sales"},
		}, now),
	}

	results := c.Search("sales", SearchTypeAll, 10)
	if len(results) != 1 {
		t.Fatalf("Expected exactly 1 result, got %d", len(results))
	}
	if results[0].ID != "wb1" {
		t.Errorf("Expected wb1 first, got %s", results[0].ID)
	}
}

func TestSearch_LimitAndStableOrder(t *testing.T) {
	st := newFakeStore()
	c := testCache(st)
	now := time.Now()
	var docs []model.CachedDocument
	for i := 0; i < 5; i++ {
		docs = append(docs, model.NewCachedDocument(model.Document{
			ID: fmt.Sprintf("wb%d", i), Type: model.TypeWorkbook,
			Name: fmt.Sprintf("Revenue %d", i),
		}, now))
	}
	c.index[model.TypeWorkbook] = docs

	results := c.Search("revenue", "workbook", 3)
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	// Equal scores keep insertion order.
	for i, r := range results {
		want := fmt.Sprintf("wb%d", i)
		if r.ID != want {
			t.Errorf("Expected %s at position %d, got %s", want, i, r.ID)
		}
	}
}

func TestRefresh_ReplacesPartitionsAndPersists(t *testing.T) {
	st := newFakeStore()
	c := testCache(st)
	lister := &fakeLister{docs: map[model.DocumentType][]model.Document{
		model.TypeWorkbook: {{ID: "wb1", Type: model.TypeWorkbook, Name: "Revenue"}},
		model.TypeDataset:  {{ID: "ds1", Type: model.TypeDataset, Name: "Orders"}},
	}}

	if err := c.Refresh(context.Background(), lister); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if len(c.Workbooks()) != 1 || c.Workbooks()[0].ID != "wb1" {
		t.Errorf("Workbook partition not replaced: %v", c.Workbooks())
	}
	if len(st.docs[model.TypeDataset]) != 1 {
		t.Errorf("Dataset partition not persisted")
	}
	if c.Workbooks()[0].SearchableText == "" {
		t.Errorf("SearchableText not derived on refresh")
	}
}

func TestRefresh_FailureKeepsPreviousPartition(t *testing.T) {
	st := newFakeStore()
	c := testCache(st)
	now := time.Now()
	previous := []model.CachedDocument{
		model.NewCachedDocument(model.Document{ID: "old", Type: model.TypeWorkbook, Name: "Old"}, now),
	}
	c.index[model.TypeWorkbook] = previous

	if err := c.Refresh(context.Background(), &fakeLister{err: errors.New("platform down")}); err == nil {
		t.Fatal("Expected refresh error, got nil")
	}
	if len(c.Workbooks()) != 1 || c.Workbooks()[0].ID != "old" {
		t.Errorf("Previous partition should remain authoritative, got %v", c.Workbooks())
	}
}

func TestRefresh_PersistFailureKeepsIndex(t *testing.T) {
	st := newFakeStore()
	st.saveErr = errors.New("write denied")
	c := testCache(st)
	lister := &fakeLister{docs: map[model.DocumentType][]model.Document{
		model.TypeWorkbook: {{ID: "wb1", Type: model.TypeWorkbook, Name: "Revenue"}},
	}}

	if err := c.Refresh(context.Background(), lister); err == nil {
		t.Fatal("Expected persist error, got nil")
	}
	if len(c.Workbooks()) != 0 {
		t.Errorf("Index should stay untouched after persist failure, got %v", c.Workbooks())
	}
}

func TestAnalyticsCache_TTLWindow(t *testing.T) {
	st := newFakeStore()
	c := testCache(st)
	base := time.Now()
	c.now = func() time.Time { return base }

	records := []model.AnalyticsRecord{{DocumentID: "wb1", Opens: 12}}
	if err := c.CacheAnalytics(context.Background(), "wb1", "el1", records); err != nil {
		t.Fatalf("CacheAnalytics failed: %v", err)
	}

	// 29 minutes later: still valid.
	c.now = func() time.Time { return base.Add(29 * time.Minute) }
	got, ok := c.CachedAnalytics(context.Background(), "wb1", "el1")
	if !ok {
		t.Fatal("Expected cache hit at T+29m")
	}
	if len(got) != 1 || got[0].Opens != 12 {
		t.Errorf("Unexpected cached records: %v", got)
	}

	// 31 minutes later: logically absent.
	c.now = func() time.Time { return base.Add(31 * time.Minute) }
	if _, ok := c.CachedAnalytics(context.Background(), "wb1", "el1"); ok {
		t.Error("Expected cache miss at T+31m")
	}
}

func TestAnalyticsCache_ExactBoundaryIsInvalid(t *testing.T) {
	base := time.Now()
	entry := model.AnalyticsCacheEntry{LastCached: base}

	if !entry.Valid(base.Add(model.AnalyticsTTL - time.Millisecond)) {
		t.Error("Expected entry to be valid just inside the TTL window")
	}
	if entry.Valid(base.Add(model.AnalyticsTTL)) {
		t.Error("Expected entry to be invalid at exactly the TTL boundary")
	}
}

func TestAnalyticsCache_MissOnAbsentKey(t *testing.T) {
	c := testCache(newFakeStore())

	if _, ok := c.CachedAnalytics(context.Background(), "wb1", "el1"); ok {
		t.Error("Expected miss for never-written key")
	}
}

func TestAnalyticsCache_OverwriteRefreshesTimestamp(t *testing.T) {
	st := newFakeStore()
	c := testCache(st)
	base := time.Now()

	c.now = func() time.Time { return base }
	c.CacheAnalytics(context.Background(), "wb1", "el1", []model.AnalyticsRecord{{Opens: 1}})

	c.now = func() time.Time { return base.Add(25 * time.Minute) }
	c.CacheAnalytics(context.Background(), "wb1", "el1", []model.AnalyticsRecord{{Opens: 2}})

	// 29 minutes after the rewrite the entry is still valid and carries the
	// newer payload.
	c.now = func() time.Time { return base.Add(54 * time.Minute) }
	got, ok := c.CachedAnalytics(context.Background(), "wb1", "el1")
	if !ok {
		t.Fatal("Expected hit after overwrite")
	}
	if got[0].Opens != 2 {
		t.Errorf("Expected overwritten records, got %v", got)
	}
}
