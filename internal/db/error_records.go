// Package db provides SurrealDB query functions for item-level error
// records.
package db

import (
	"context"
	"fmt"

	"github.com/jkoenig/syncwell/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// AppendError records one item-level failure. The attempt counter is
// computed inside the query from the prior records for the same
// (batch, stage, item), so concurrent appends stay consistent with the
// append-only log.
func (c *Client) AppendError(ctx context.Context, in models.ErrorInput) (*models.ErrorRecord, error) {
	sql := `
		LET $prior = (
			SELECT count() AS c FROM error_record
			WHERE batch_id = $batch_id AND kind = $kind AND provider_item_id = $item_id
			GROUP ALL
		);
		CREATE error_record SET
			batch_id = $batch_id,
			job_id = $job_id,
			kind = $kind,
			provider = $provider,
			provider_item_id = $item_id,
			reason = $reason,
			message = $message,
			attempt = ($prior[0].c ?? 0) + 1,
			created_at = time::now()
		RETURN AFTER;
	`

	results, err := surrealdb.Query[[]models.ErrorRecord](ctx, c.db, sql, map[string]any{
		"batch_id": in.BatchID,
		"job_id":   in.JobID,
		"kind":     in.Kind,
		"provider": in.Provider,
		"item_id":  in.ProviderItemID,
		"reason":   in.Reason,
		"message":  in.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("append error: %w", wrapQueryError(err))
	}

	// Last statement result is the CREATE.
	if results == nil || len(*results) == 0 {
		return nil, fmt.Errorf("append error: no result returned")
	}
	created := (*results)[len(*results)-1].Result
	if len(created) == 0 {
		return nil, fmt.Errorf("append error: no result returned")
	}
	return &created[0], nil
}

// ListBatchErrors returns every error record of a batch, oldest first.
// Filtered audit rows are included; callers decide whether they count.
func (c *Client) ListBatchErrors(ctx context.Context, batchID string) ([]models.ErrorRecord, error) {
	results, err := surrealdb.Query[[]models.ErrorRecord](ctx, c.db, `
		SELECT * FROM error_record WHERE batch_id = $batch_id
		ORDER BY created_at ASC
	`, map[string]any{"batch_id": batchID})
	if err != nil {
		return nil, fmt.Errorf("list batch errors: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.ErrorRecord{}, nil
	}
	return (*results)[0].Result, nil
}

type reasonCount struct {
	Reason models.ReasonCode `json:"reason"`
	Count  int               `json:"count"`
}

// GetErrorSummary aggregates a batch's failures by reason. Filtered audit
// rows are excluded since they are not errors.
func (c *Client) GetErrorSummary(ctx context.Context, batchID string) (*models.ErrorSummary, error) {
	results, err := surrealdb.Query[[]reasonCount](ctx, c.db, `
		SELECT reason, count() AS count FROM error_record
		WHERE batch_id = $batch_id AND reason != 'filtered'
		GROUP BY reason
	`, map[string]any{"batch_id": batchID})
	if err != nil {
		return nil, fmt.Errorf("error summary: %w", err)
	}

	summary := &models.ErrorSummary{
		BatchID: batchID,
		Reasons: map[models.ReasonCode]int{},
	}
	if results != nil && len(*results) > 0 {
		for _, rc := range (*results)[0].Result {
			summary.Reasons[rc.Reason] = rc.Count
			summary.Count += rc.Count
		}
	}
	return summary, nil
}
