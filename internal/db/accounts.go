// Package db provides SurrealDB query functions for connections and
// preferences.
package db

import (
	"context"
	"fmt"

	"github.com/jkoenig/syncwell/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// UpsertConnection records a provider account link.
func (c *Client) UpsertConnection(ctx context.Context, conn models.Connection) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("connection", $id) SET
			user_id = $user_id,
			provider = $provider,
			connected = $connected,
			scopes = $scopes,
			connected_at = time::now()
	`, map[string]any{
		"id":        models.StateKey(conn.UserID, conn.Provider),
		"user_id":   conn.UserID,
		"provider":  conn.Provider,
		"connected": conn.Connected,
		"scopes":    scopeOrEmpty(conn.Scopes),
	})
	if err != nil {
		return fmt.Errorf("upsert connection: %w", wrapQueryError(err))
	}
	return nil
}

// GetConnection retrieves a connection. Returns nil if the provider was
// never linked.
func (c *Client) GetConnection(ctx context.Context, userID string, provider models.Provider) (*models.Connection, error) {
	results, err := surrealdb.Query[[]models.Connection](ctx, c.db, `
		SELECT * FROM type::record("connection", $id)
	`, map[string]any{"id": models.StateKey(userID, provider)})
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// ListConnections returns all of a user's provider links.
func (c *Client) ListConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	results, err := surrealdb.Query[[]models.Connection](ctx, c.db, `
		SELECT * FROM connection WHERE user_id = $user_id
	`, map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Connection{}, nil
	}
	return (*results)[0].Result, nil
}

// UpsertPreferences saves per-provider sync preferences. The service layer
// enforces the lock-after-first-sync rule before calling this.
func (c *Client) UpsertPreferences(ctx context.Context, prefs models.Preferences) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("preference", $id) SET
			user_id = $user_id,
			provider = $provider,
			window_days = $window_days,
			collections = $collections,
			include_body = $include_body,
			include_attendees = $include_attendees
	`, map[string]any{
		"id":                models.StateKey(prefs.UserID, prefs.Provider),
		"user_id":           prefs.UserID,
		"provider":          prefs.Provider,
		"window_days":       prefs.WindowDays,
		"collections":       scopeOrEmpty(prefs.Collections),
		"include_body":      prefs.IncludeBody,
		"include_attendees": prefs.IncludeAttendees,
	})
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", wrapQueryError(err))
	}
	return nil
}

// GetPreferences retrieves saved preferences. Returns nil when the user
// never saved any; callers fall back to defaults.
func (c *Client) GetPreferences(ctx context.Context, userID string, provider models.Provider) (*models.Preferences, error) {
	results, err := surrealdb.Query[[]models.Preferences](ctx, c.db, `
		SELECT * FROM type::record("preference", $id)
	`, map[string]any{"id": models.StateKey(userID, provider)})
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}
