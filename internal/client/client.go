// Package client provides an HTTP client for the Syncwell server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jkoenig/syncwell/internal/metrics"
	"github.com/jkoenig/syncwell/internal/models"
	"github.com/jkoenig/syncwell/internal/service"
)

// Client talks to the Syncwell server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
// If baseURL is empty, uses SYNCWELL_SERVER_URL env var or defaults to localhost:8720.
// Timeout can be configured via SYNCWELL_CLIENT_TIMEOUT env var (default 2m).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("SYNCWELL_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8720"
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("SYNCWELL_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsConflict reports whether the server rejected the call with 409, e.g.
// a sync already in progress or locked preferences.
func (e *APIError) IsConflict() bool {
	return e.Status == http.StatusConflict
}

// do sends one API request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
		}
		return &APIError{Status: resp.StatusCode, Message: string(raw)}
	}

	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// StartSync starts a sync batch for a user and provider.
func (c *Client) StartSync(ctx context.Context, userID string, provider models.Provider) (string, error) {
	var result struct {
		BatchID string `json:"batch_id"`
	}
	err := c.do(ctx, http.MethodPost, "/api/sync", map[string]any{
		"user_id":  userID,
		"provider": provider,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.BatchID, nil
}

// Run asks the server to run one pass of pending jobs.
func (c *Client) Run(ctx context.Context) (int, error) {
	var result struct {
		Processed int `json:"processed"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/run", nil, &result); err != nil {
		return 0, err
	}
	return result.Processed, nil
}

// GetStatus returns the per-provider sync status for a user.
func (c *Client) GetStatus(ctx context.Context, userID string) (*service.StatusView, error) {
	var view service.StatusView
	path := "/api/status?user=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListBatches returns a user's recent batches.
func (c *Client) ListBatches(ctx context.Context, userID string, provider models.Provider, limit int) ([]service.BatchView, error) {
	q := url.Values{"user": {userID}}
	if provider != "" {
		q.Set("provider", string(provider))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var views []service.BatchView
	if err := c.do(ctx, http.MethodGet, "/api/batches?"+q.Encode(), nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// GetBatch returns one batch with per-stage progress.
func (c *Client) GetBatch(ctx context.Context, batchID string) (*service.BatchView, error) {
	var view service.BatchView
	if err := c.do(ctx, http.MethodGet, "/api/batches/"+url.PathEscape(batchID), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ErrorSummary is the error report of one batch.
type ErrorSummary struct {
	BatchID string                    `json:"batch_id"`
	State   models.BatchState         `json:"state"`
	Count   int                       `json:"count"`
	Reasons map[models.ReasonCode]int `json:"reasons"`
}

// GetBatchErrors returns a batch's failure counts by reason.
func (c *Client) GetBatchErrors(ctx context.Context, batchID string) (*ErrorSummary, error) {
	var summary ErrorSummary
	path := "/api/batches/" + url.PathEscape(batchID) + "/errors"
	if err := c.do(ctx, http.MethodGet, path, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// RetryResult describes the retry batch the server created.
type RetryResult struct {
	BatchID   string         `json:"batch_id"`
	From      models.JobKind `json:"from"`
	ItemCount int            `json:"item_count"`
}

// RetryFailed creates a retry batch for a terminal batch's failed items.
func (c *Client) RetryFailed(ctx context.Context, batchID string) (*RetryResult, error) {
	var result RetryResult
	path := "/api/batches/" + url.PathEscape(batchID) + "/retry"
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Connect links a provider account.
func (c *Client) Connect(ctx context.Context, userID string, provider models.Provider, scopes []string) error {
	return c.do(ctx, http.MethodPost, "/api/connections", map[string]any{
		"user_id":  userID,
		"provider": provider,
		"scopes":   scopes,
	}, nil)
}

// Disconnect unlinks a provider account.
func (c *Client) Disconnect(ctx context.Context, userID string, provider models.Provider) error {
	connected := false
	return c.do(ctx, http.MethodPost, "/api/connections", map[string]any{
		"user_id":   userID,
		"provider":  provider,
		"connected": &connected,
	}, nil)
}

// ListConnections returns a user's provider connections.
func (c *Client) ListConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	var conns []models.Connection
	path := "/api/connections?user=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &conns); err != nil {
		return nil, err
	}
	return conns, nil
}

// GetPreferences returns the sync preferences for a user and provider.
func (c *Client) GetPreferences(ctx context.Context, userID string, provider models.Provider) (*models.Preferences, error) {
	q := url.Values{"user": {userID}, "provider": {string(provider)}}
	var prefs models.Preferences
	if err := c.do(ctx, http.MethodGet, "/api/preferences?"+q.Encode(), nil, &prefs); err != nil {
		return nil, err
	}
	return &prefs, nil
}

// UpdatePreferences saves sync preferences. Returns a 409 APIError once
// the first completed sync locked them.
func (c *Client) UpdatePreferences(ctx context.Context, prefs models.Preferences) error {
	return c.do(ctx, http.MethodPut, "/api/preferences", prefs, nil)
}

// GetStats returns the server's in-memory runtime statistics.
func (c *Client) GetStats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Health checks whether the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}
