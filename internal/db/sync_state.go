// Package db provides SurrealDB query functions for sync state, the
// per-(user, provider) row holding the committed watermark and the sync
// lock.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jkoenig/syncwell/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// GetSyncState retrieves the sync state row. Returns nil if no sync has
// ever been attempted for the pair.
func (c *Client) GetSyncState(ctx context.Context, userID string, provider models.Provider) (*models.SyncState, error) {
	results, err := surrealdb.Query[[]models.SyncState](ctx, c.db, `
		SELECT * FROM type::record("sync_state", $id)
	`, map[string]any{"id": models.StateKey(userID, provider)})
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// AcquireSyncLock attempts to claim the single-active-batch lock for a
// user+provider on behalf of a batch. The lock lives on the sync_state row
// and is taken with a conditional update, so two concurrent StartSync
// calls cannot both win. A lock older than expiry is treated as abandoned
// by a crashed runner and stolen.
func (c *Client) AcquireSyncLock(ctx context.Context, userID string, provider models.Provider, batchID string, expiry time.Duration) (bool, error) {
	sql := `
		UPSERT type::record("sync_state", $id) SET
			user_id = $user_id,
			provider = $provider,
			updated_at = time::now();
		UPDATE type::record("sync_state", $id) SET
			lock_batch = $batch_id,
			locked_at = time::now(),
			updated_at = time::now()
		WHERE lock_batch IS NONE
			OR locked_at IS NONE
			OR locked_at < time::now() - duration::from::secs($expiry_secs)
		RETURN AFTER;
	`

	results, err := surrealdb.Query[[]models.SyncState](ctx, c.db, sql, map[string]any{
		"id":          models.StateKey(userID, provider),
		"user_id":     userID,
		"provider":    provider,
		"batch_id":    batchID,
		"expiry_secs": int(expiry.Seconds()),
	})
	if err != nil {
		return false, fmt.Errorf("acquire sync lock: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 {
		return false, nil
	}
	claimed := (*results)[len(*results)-1].Result
	return len(claimed) > 0, nil
}

// ReleaseSyncLock releases the lock if the given batch still holds it.
// Releasing a lock another batch stole is a no-op.
func (c *Client) ReleaseSyncLock(ctx context.Context, userID string, provider models.Provider, batchID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("sync_state", $id) SET
			lock_batch = NONE,
			locked_at = NONE,
			updated_at = time::now()
		WHERE lock_batch = $batch_id
	`, map[string]any{
		"id":       models.StateKey(userID, provider),
		"batch_id": batchID,
	})
	if err != nil {
		return fmt.Errorf("release sync lock: %w", err)
	}
	return nil
}

// CommitWatermark advances the committed watermark. Called only once a
// batch finishes with no failed job; a failed batch leaves the old value
// in place so the next sync re-covers the window.
func (c *Client) CommitWatermark(ctx context.Context, userID string, provider models.Provider, watermark string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("sync_state", $id) SET
			user_id = $user_id,
			provider = $provider,
			watermark = $watermark,
			watermark_at = time::now(),
			updated_at = time::now()
	`, map[string]any{
		"id":        models.StateKey(userID, provider),
		"user_id":   userID,
		"provider":  provider,
		"watermark": watermark,
	})
	if err != nil {
		return fmt.Errorf("commit watermark: %w", err)
	}
	return nil
}
