package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vantagebi/vantage-mcp/internal/model"
)

// fileBlob is the single JSON document holding both partitions plus the
// analytics entries, keyed by their composite key.
type fileBlob struct {
	Workbooks   []model.CachedDocument               `json:"workbooks"`
	Datasets    []model.CachedDocument               `json:"datasets"`
	Analytics   map[string]model.AnalyticsCacheEntry `json:"analytics,omitempty"`
	LastUpdated time.Time                            `json:"lastUpdated"`
}

// FileStore persists the whole cache as one JSON file on local disk.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a DocumentStore backed by a local JSON file.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// read loads the blob from disk. A missing file is an empty blob, not an
// error, so a store that was never written reads as unpopulated.
func (s *FileStore) read() (*fileBlob, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &fileBlob{Analytics: make(map[string]model.AnalyticsCacheEntry)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache file: %w", err)
	}

	var blob fileBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decode cache file: %w", err)
	}
	if blob.Analytics == nil {
		blob.Analytics = make(map[string]model.AnalyticsCacheEntry)
	}
	return &blob, nil
}

// write replaces the blob on disk via a temp file rename so readers never
// observe a partially written file.
func (s *FileStore) write(blob *fileBlob) error {
	blob.LastUpdated = time.Now()
	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// LoadDocuments returns the persisted partition for one document type.
func (s *FileStore) LoadDocuments(_ context.Context, docType model.DocumentType) ([]model.CachedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.read()
	if err != nil {
		return nil, err
	}
	if docType == model.TypeDataset {
		return blob.Datasets, nil
	}
	return blob.Workbooks, nil
}

// SaveDocuments replaces the persisted partition for one document type.
func (s *FileStore) SaveDocuments(_ context.Context, docType model.DocumentType, docs []model.CachedDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.read()
	if err != nil {
		return err
	}
	if docType == model.TypeDataset {
		blob.Datasets = docs
	} else {
		blob.Workbooks = docs
	}
	return s.write(blob)
}

// LoadAnalytics returns the entry for the composite key, or ErrNotFound.
func (s *FileStore) LoadAnalytics(_ context.Context, key string) (*model.AnalyticsCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.read()
	if err != nil {
		return nil, err
	}
	entry, ok := blob.Analytics[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

// SaveAnalytics overwrites the entry for its composite key.
func (s *FileStore) SaveAnalytics(_ context.Context, entry model.AnalyticsCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := s.read()
	if err != nil {
		return err
	}
	blob.Analytics[model.AnalyticsKey(entry.WorkbookID, entry.ElementID)] = entry
	return s.write(blob)
}
