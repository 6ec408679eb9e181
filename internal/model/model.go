package model

import (
	"strings"
	"time"
)

// DocumentType distinguishes the two document kinds tracked by the cache.
type DocumentType string

const (
	TypeWorkbook DocumentType = "workbook"
	TypeDataset  DocumentType = "dataset"
)

// BadgeStatus is the endorsement classification attached to a document.
// It is derived from the platform, never user-supplied.
type BadgeStatus string

const (
	BadgeEndorsed   BadgeStatus = "Endorsed"
	BadgeWarning    BadgeStatus = "Warning"
	BadgeDeprecated BadgeStatus = "Deprecated"
)

// Element is a sub-object of a document (e.g. a chart or table on a workbook page).
type Element struct {
	ID          string `json:"id" dynamodbav:"id"`
	Name        string `json:"name" dynamodbav:"name"`
	Type        string `json:"type" dynamodbav:"type"`
	Description string `json:"description,omitempty" dynamodbav:"description"`
}

// Document represents a workbook or dataset as reported by the platform.
// ID and Type together are stable across cache refreshes.
type Document struct {
	ID          string       `json:"id" dynamodbav:"id"`
	Type        DocumentType `json:"type" dynamodbav:"type"`
	Name        string       `json:"name" dynamodbav:"name"`
	Description string       `json:"description,omitempty" dynamodbav:"description"`
	URL         string       `json:"url,omitempty" dynamodbav:"url"`
	CreatedBy   string       `json:"created_by,omitempty" dynamodbav:"created_by"`
	UpdatedAt   time.Time    `json:"updated_at" dynamodbav:"updated_at"`
	BadgeStatus BadgeStatus  `json:"badge_status,omitempty" dynamodbav:"badge_status"`
	Tags        []string     `json:"tags,omitempty" dynamodbav:"tags"`
	Elements    []Element    `json:"elements,omitempty" dynamodbav:"elements"`
}

// CachedDocument is a Document plus its derived search text and cache timestamp.
type CachedDocument struct {
	Document
	SearchableText string    `json:"searchable_text" dynamodbav:"searchable_text"`
	LastCachedAt   time.Time `json:"last_cached_at" dynamodbav:"last_cached_at"`
}

// NewCachedDocument derives SearchableText from the current document fields.
// The text is always regenerated at write time, never carried over stale.
func NewCachedDocument(doc Document, now time.Time) CachedDocument {
	parts := []string{doc.Name, doc.Description, doc.CreatedBy, string(doc.BadgeStatus)}
	parts = append(parts, doc.Tags...)
	return CachedDocument{
		Document:       doc,
		SearchableText: strings.ToLower(strings.Join(parts, " ")),
		LastCachedAt:   now,
	}
}

// AnalyticsRecord is one row of platform usage analytics. Immutable once fetched.
type AnalyticsRecord struct {
	DocumentID             string  `json:"document_id" dynamodbav:"document_id"`
	DocumentType           string  `json:"document_type" dynamodbav:"document_type"`
	Version                string  `json:"version" dynamodbav:"version"`
	CreatedBy              string  `json:"created_by" dynamodbav:"created_by"`
	Opens                  int64   `json:"opens" dynamodbav:"opens"`
	Interactions           int64   `json:"interactions" dynamodbav:"interactions"`
	Publishes              int64   `json:"publishes" dynamodbav:"publishes"`
	UniqueUsers            int64   `json:"unique_users" dynamodbav:"unique_users"`
	OpensPercentile        float64 `json:"opens_percentile" dynamodbav:"opens_percentile"`
	InteractionsPercentile float64 `json:"interactions_percentile" dynamodbav:"interactions_percentile"`
	FirstActivity          string  `json:"first_activity" dynamodbav:"first_activity"`
	LastActivity           string  `json:"last_activity" dynamodbav:"last_activity"`
	LastOpened             string  `json:"last_opened" dynamodbav:"last_opened"`
	LastInteracted         string  `json:"last_interacted" dynamodbav:"last_interacted"`
	LastPublished          string  `json:"last_published" dynamodbav:"last_published"`
}

// AnalyticsTTL is the validity window for cached analytics entries.
const AnalyticsTTL = 30 * time.Minute

// AnalyticsCacheEntry holds the analytics rows fetched for one (workbook, element) pair.
type AnalyticsCacheEntry struct {
	WorkbookID string            `json:"workbook_id" dynamodbav:"workbook_id"`
	ElementID  string            `json:"element_id" dynamodbav:"element_id"`
	Records    []AnalyticsRecord `json:"records" dynamodbav:"records"`
	LastCached time.Time         `json:"last_cached" dynamodbav:"last_cached"`
}

// AnalyticsKey builds the composite key used by both durable backends.
func AnalyticsKey(workbookID, elementID string) string {
	return "analytics:" + workbookID + ":" + elementID
}

// Valid reports whether the entry is still inside the TTL window at the given
// instant. An entry exactly TTL old is already invalid (strict inequality).
func (e AnalyticsCacheEntry) Valid(now time.Time) bool {
	return now.Sub(e.LastCached) < AnalyticsTTL
}
