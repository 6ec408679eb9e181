// Package platform implements the remote analytics-platform client: OAuth
// token lifecycle, authenticated request execution, document listings, and
// the asynchronous export pipeline.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/vantagebi/vantage-mcp/internal/model"
)

// Config carries the connection settings for the remote platform.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client issues authenticated requests against the platform API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *TokenManager
	log     *zap.Logger

	// Poll behavior, overridable in tests.
	maxPollAttempts int
	pollDelay       time.Duration
	sleep           func(time.Duration)
}

// NewClient builds a Client with its own TokenManager.
func NewClient(cfg Config, log *zap.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:         cfg.BaseURL,
		http:            httpClient,
		tokens:          NewTokenManager(cfg.ClientID, cfg.ClientSecret, cfg.BaseURL+"/v2/auth/token", log),
		log:             log,
		maxPollAttempts: defaultMaxPollAttempts,
		pollDelay:       defaultPollDelay,
		sleep:           time.Sleep,
	}
}

// Request ensures a valid token, attaches it as a bearer credential, and
// issues the HTTP call. A non-2xx response fails with *RemoteAPIError.
// No retry happens at this level; callers retry where idempotent.
func (c *Client) Request(ctx context.Context, method, path string, body any) ([]byte, error) {
	token, err := c.tokens.EnsureValidToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteAPIError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Body:       string(data),
		}
	}
	return data, nil
}

// listEntry is one element of a paginated listing response. Workbook and
// dataset listings share the shape apart from the ID field name.
type listEntry struct {
	WorkbookID  string    `json:"workbookId"`
	DatasetID   string    `json:"datasetId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	CreatedBy   string    `json:"createdBy"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Badge       string    `json:"badge"`
	Tags        []string  `json:"tags"`
}

type listResponse struct {
	Entries  []listEntry `json:"entries"`
	NextPage string      `json:"nextPage"`
}

// ListDocuments fetches the full document list of one type, following the
// page cursor until exhausted.
func (c *Client) ListDocuments(ctx context.Context, docType model.DocumentType) ([]model.Document, error) {
	path := "/v2/workbooks"
	if docType == model.TypeDataset {
		path = "/v2/datasets"
	}

	var docs []model.Document
	page := ""
	for {
		endpoint := path
		if page != "" {
			endpoint = path + "?page=" + url.QueryEscape(page)
		}
		data, err := c.Request(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		var resp listResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("decode %s listing: %w", docType, err)
		}
		for _, e := range resp.Entries {
			docs = append(docs, e.toDocument(docType))
		}
		if resp.NextPage == "" {
			break
		}
		page = resp.NextPage
	}

	c.log.Debug("listed documents", zap.String("type", string(docType)), zap.Int("count", len(docs)))
	return docs, nil
}

func (e listEntry) toDocument(docType model.DocumentType) model.Document {
	id := e.WorkbookID
	if docType == model.TypeDataset && e.DatasetID != "" {
		id = e.DatasetID
	}
	return model.Document{
		ID:          id,
		Type:        docType,
		Name:        e.Name,
		Description: e.Description,
		URL:         e.URL,
		CreatedBy:   e.CreatedBy,
		UpdatedAt:   e.UpdatedAt,
		BadgeStatus: model.BadgeStatus(e.Badge),
		Tags:        e.Tags,
	}
}
