// Package provider defines the adapter contract for external data sources
// and the gateway clients for the mail and calendar providers.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jkoenig/syncwell/internal/models"
)

// Sentinel errors adapters translate upstream failures into. Callers use
// errors.Is to pick the failure path.
var (
	// ErrCredentialInvalid means the stored credential was rejected; the
	// Import job fails outright and the user must reconnect.
	ErrCredentialInvalid = errors.New("provider credential invalid")

	// ErrThrottled covers rate limits and upstream unavailability; the
	// fetch is retried on a later runner pass.
	ErrThrottled = errors.New("provider throttled")
)

// Item is one provider record as fetched.
type Item struct {
	// ID is the provider-assigned identifier, stable across fetches.
	ID string

	// Collection is the folder (mail) or calendar name the item lives in.
	Collection string

	// Timestamp orders items for watermark tracking.
	Timestamp time.Time

	// Payload is the raw provider representation, opaque to the
	// orchestrator.
	Payload map[string]any
}

// Page is one bounded fetch result.
type Page struct {
	Items      []Item
	NextCursor string
	HasMore    bool
}

// Adapter fetches raw items from one external data source. Repeating a
// Fetch with the same cursor after a crash must not silently drop items;
// re-delivered items are deduplicated by the raw-item upsert key.
type Adapter interface {
	Provider() models.Provider
	Fetch(ctx context.Context, userID, cursor string, pageSize int) (*Page, error)
}

const timeCursorPrefix = "ts:"

// TimeCursor encodes a point in time as an adapter cursor. Both gateway
// adapters accept it as a lower bound; it doubles as the watermark format.
func TimeCursor(t time.Time) string {
	return timeCursorPrefix + t.UTC().Format(time.RFC3339Nano)
}

// ParseTimeCursor decodes a cursor produced by TimeCursor. Returns false
// for opaque page cursors.
func ParseTimeCursor(cursor string) (time.Time, bool) {
	if !strings.HasPrefix(cursor, timeCursorPrefix) {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(cursor, timeCursorPrefix))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// LaterTimeCursor returns the later of two time cursors, tolerating empty
// values. Used to keep watermark candidates monotonic.
func LaterTimeCursor(a, b string) string {
	ta, okA := ParseTimeCursor(a)
	tb, okB := ParseTimeCursor(b)
	switch {
	case !okA:
		return b
	case !okB:
		return a
	case tb.After(ta):
		return b
	default:
		return a
	}
}

// statusError converts a gateway HTTP status into the adapter error
// taxonomy.
func statusError(provider models.Provider, status int, body string) error {
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%s gateway status %d: %w", provider, status, ErrCredentialInvalid)
	case status == 429 || status >= 500:
		return fmt.Errorf("%s gateway status %d: %w", provider, status, ErrThrottled)
	default:
		return fmt.Errorf("%s gateway status %d: %s", provider, status, strings.TrimSpace(body))
	}
}
