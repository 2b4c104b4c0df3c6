package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jkoenig/syncwell/internal/models"
)

// gatewayClient talks to a provider gateway over HTTP. The gateway owns the
// OAuth credential; this client only passes the user ID and pagination
// state.
type gatewayClient struct {
	provider models.Provider
	baseURL  string
	path     string
	client   *http.Client
}

type gatewayItem struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload"`
}

type gatewayPage struct {
	Items      []gatewayItem `json:"items"`
	NextCursor string        `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

func newGatewayClient(provider models.Provider, baseURL, path string) *gatewayClient {
	return &gatewayClient{
		provider: provider,
		baseURL:  baseURL,
		path:     path,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *gatewayClient) Provider() models.Provider {
	return g.provider
}

// Fetch retrieves one page of items. A "ts:" cursor is sent as a lower
// time bound for the first page; anything else is an opaque gateway page
// token.
func (g *gatewayClient) Fetch(ctx context.Context, userID, cursor string, pageSize int) (*Page, error) {
	q := url.Values{}
	q.Set("user", userID)
	q.Set("limit", strconv.Itoa(pageSize))
	if since, ok := ParseTimeCursor(cursor); ok {
		q.Set("since", since.Format(time.RFC3339Nano))
	} else if cursor != "" {
		q.Set("cursor", cursor)
	}

	reqURL := g.baseURL + g.path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// Transport failures are retried like throttling.
		return nil, fmt.Errorf("%s gateway request failed: %w: %v", g.provider, ErrThrottled, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s gateway response: %w", g.provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(g.provider, resp.StatusCode, string(body))
	}

	var page gatewayPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to parse %s gateway response: %w", g.provider, err)
	}

	out := &Page{
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
		Items:      make([]Item, 0, len(page.Items)),
	}
	for _, it := range page.Items {
		out.Items = append(out.Items, Item{
			ID:         it.ID,
			Collection: it.Collection,
			Timestamp:  it.Timestamp,
			Payload:    it.Payload,
		})
	}
	return out, nil
}

// NewMailAdapter returns the adapter for the mail gateway.
func NewMailAdapter(baseURL string) Adapter {
	return newGatewayClient(models.ProviderMail, baseURL, "/v1/messages")
}

// NewCalendarAdapter returns the adapter for the calendar gateway.
func NewCalendarAdapter(baseURL string) Adapter {
	return newGatewayClient(models.ProviderCalendar, baseURL, "/v1/events")
}
