// Package store provides durable persistence for cached documents and
// analytics entries, with a DynamoDB table backend and a local file backend
// behind the same contract.
package store

import (
	"context"
	"errors"

	"github.com/vantagebi/vantage-mcp/internal/model"
)

var (
	// ErrNotFound is returned when a requested entry is not present.
	ErrNotFound = errors.New("entry not found")

	// ErrUnavailable is returned when the durable backend is not
	// initialized or reachable.
	ErrUnavailable = errors.New("durable store unavailable")
)

// DocumentStore is the persistence contract shared by both backends.
// A store that has never been written to returns empty results from the
// load operations, not errors.
type DocumentStore interface {
	// LoadDocuments returns the persisted partition for one document type.
	LoadDocuments(ctx context.Context, docType model.DocumentType) ([]model.CachedDocument, error)

	// SaveDocuments replaces the persisted partition for one document type.
	SaveDocuments(ctx context.Context, docType model.DocumentType, docs []model.CachedDocument) error

	// LoadAnalytics returns the entry for the composite key, or ErrNotFound.
	LoadAnalytics(ctx context.Context, key string) (*model.AnalyticsCacheEntry, error)

	// SaveAnalytics overwrites the entry for its composite key.
	SaveAnalytics(ctx context.Context, entry model.AnalyticsCacheEntry) error
}
