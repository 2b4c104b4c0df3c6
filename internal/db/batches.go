// Package db provides SurrealDB query functions for batches and jobs.
package db

import (
	"context"
	"fmt"
	"sort"

	"github.com/jkoenig/syncwell/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreateBatch persists a new batch under the given record ID.
func (c *Client) CreateBatch(ctx context.Context, id string, batch models.Batch) (*models.Batch, error) {
	sql := `
		CREATE type::record("sync_batch", $id) SET
			user_id = $user_id,
			provider = $provider,
			preferences = $preferences,
			retry_of = $retry_of,
			item_scope = $item_scope,
			from_kind = $from_kind,
			created_at = time::now()
		RETURN AFTER
	`

	results, err := surrealdb.Query[[]models.Batch](ctx, c.db, sql, map[string]any{
		"id":          id,
		"user_id":     batch.UserID,
		"provider":    batch.Provider,
		"preferences": batch.Preferences,
		"retry_of":    batch.RetryOf,
		"item_scope":  scopeOrEmpty(batch.ItemScope),
		"from_kind":   batch.FromKind,
	})
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create batch: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetBatch retrieves a batch by ID. Returns ErrNotFound if absent.
func (c *Client) GetBatch(ctx context.Context, id string) (*models.Batch, error) {
	results, err := surrealdb.Query[[]models.Batch](ctx, c.db, `
		SELECT * FROM type::record("sync_batch", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("get batch %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// ListBatches returns a user's batches, newest first. Provider is optional.
func (c *Client) ListBatches(ctx context.Context, userID string, provider *models.Provider, limit int) ([]models.Batch, error) {
	providerClause := ""
	vars := map[string]any{"user_id": userID, "limit": limit}
	if provider != nil {
		providerClause = "AND provider = $provider"
		vars["provider"] = *provider
	}

	sql := fmt.Sprintf(`
		SELECT * FROM sync_batch WHERE user_id = $user_id %s
		ORDER BY created_at DESC LIMIT $limit
	`, providerClause)

	results, err := surrealdb.Query[[]models.Batch](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Batch{}, nil
	}
	return (*results)[0].Result, nil
}

// SetWatermarkCandidate records the highest item timestamp Import observed.
// Committed to sync_state only when the batch finishes cleanly.
func (c *Client) SetWatermarkCandidate(ctx context.Context, batchID, candidate string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("sync_batch", $id) SET watermark_candidate = $candidate
	`, map[string]any{"id": batchID, "candidate": candidate})
	if err != nil {
		return fmt.Errorf("set watermark candidate: %w", err)
	}
	return nil
}

// CreateJob persists one pipeline stage job under the given record ID.
func (c *Client) CreateJob(ctx context.Context, id string, job models.Job) (*models.Job, error) {
	sql := `
		CREATE type::record("sync_job", $id) SET
			batch_id = $batch_id,
			user_id = $user_id,
			provider = $provider,
			kind = $kind,
			status = $status,
			depends_on = $depends_on,
			total_items = $total_items,
			processed_items = $processed_items,
			created_at = time::now(),
			updated_at = time::now()
		RETURN AFTER
	`

	results, err := surrealdb.Query[[]models.Job](ctx, c.db, sql, map[string]any{
		"id":              id,
		"batch_id":        job.BatchID,
		"user_id":         job.UserID,
		"provider":        job.Provider,
		"kind":            job.Kind,
		"status":          job.Status,
		"depends_on":      job.DependsOn,
		"total_items":     job.TotalItems,
		"processed_items": job.ProcessedItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create job: no result returned")
	}
	return &(*results)[0].Result[0], nil
}

// GetJobs returns all jobs of a batch in pipeline order.
func (c *Client) GetJobs(ctx context.Context, batchID string) ([]models.Job, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, `
		SELECT * FROM sync_job WHERE batch_id = $batch_id
	`, map[string]any{"batch_id": batchID})
	if err != nil {
		return nil, fmt.Errorf("get jobs: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Job{}, nil
	}
	jobs := (*results)[0].Result
	sortJobs(jobs)
	return jobs, nil
}

// ListQueuedJobs returns queued jobs across all batches, oldest batch first.
func (c *Client) ListQueuedJobs(ctx context.Context, limit int) ([]models.Job, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, `
		SELECT * FROM sync_job WHERE status = 'queued'
		ORDER BY created_at ASC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Job{}, nil
	}
	jobs := (*results)[0].Result
	sortJobs(jobs)
	return jobs, nil
}

// ListJobsForUser returns every job of every batch belonging to a user.
func (c *Client) ListJobsForUser(ctx context.Context, userID string) ([]models.Job, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, `
		SELECT * FROM sync_job WHERE user_id = $user_id
	`, map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list jobs for user: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return []models.Job{}, nil
	}
	return (*results)[0].Result, nil
}

// ClaimJob transitions a job from queued to running. The conditional UPDATE
// is the claim: a concurrent runner that lost the race gets an empty result
// and false back.
func (c *Client) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, c.db, `
		UPDATE type::record("sync_job", $id) SET
			status = 'running',
			updated_at = time::now()
		WHERE status = 'queued'
		RETURN AFTER
	`, map[string]any{"id": jobID})
	if err != nil {
		return false, fmt.Errorf("claim job: %w", wrapQueryError(err))
	}

	return results != nil && len(*results) > 0 && len((*results)[0].Result) > 0, nil
}

// RequeueJob returns a running job to queued with updated progress. Used
// when the stage still has input left after processing one page.
func (c *Client) RequeueJob(ctx context.Context, jobID string, p models.JobProgress) error {
	return c.updateJobProgress(ctx, jobID, models.JobQueued, p, nil)
}

// CompleteJob marks a running job completed with final progress.
func (c *Client) CompleteJob(ctx context.Context, jobID string, p models.JobProgress) error {
	return c.updateJobProgress(ctx, jobID, models.JobCompleted, p, nil)
}

// FailJob marks a job as errored with a message. Progress already recorded
// stays in place.
func (c *Client) FailJob(ctx context.Context, jobID, message string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("sync_job", $id) SET
			status = 'error',
			error_message = $message,
			updated_at = time::now()
	`, map[string]any{"id": jobID, "message": message})
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

func (c *Client) updateJobProgress(ctx context.Context, jobID string, status models.JobStatus, p models.JobProgress, message *string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("sync_job", $id) SET
			status = $status,
			cursor = $cursor,
			total_items = $total_items,
			processed_items = $processed,
			errored_items = $errored,
			error_message = $message,
			updated_at = time::now()
	`, map[string]any{
		"id":          jobID,
		"status":      status,
		"cursor":      p.Cursor,
		"total_items": p.TotalItems,
		"processed":   p.ProcessedItems,
		"errored":     p.ErroredItems,
		"message":     message,
	})
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// sortJobs orders jobs by pipeline stage. SurrealDB returns them in record
// order which is not guaranteed to match.
func sortJobs(jobs []models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].Kind.Order() < jobs[j].Kind.Order()
	})
}

func scopeOrEmpty(scope []string) []string {
	if scope == nil {
		return []string{}
	}
	return scope
}
