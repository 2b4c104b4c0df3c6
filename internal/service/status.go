package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jkoenig/syncwell/internal/models"
)

// JobView is the per-stage slice of a status response.
type JobView struct {
	Kind           models.JobKind   `json:"kind"`
	Status         models.JobStatus `json:"status"`
	ProcessedItems int              `json:"processed_items"`
	ErroredItems   int              `json:"errored_items"`
	TotalItems     *int             `json:"total_items,omitempty"`
	Percent        *int             `json:"percent,omitempty"`
	ErrorMessage   *string          `json:"error_message,omitempty"`
}

// BatchView summarizes one batch and its jobs.
type BatchView struct {
	BatchID   string            `json:"batch_id"`
	State     models.BatchState `json:"state"`
	RetryOf   *string           `json:"retry_of,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Jobs      []JobView         `json:"jobs"`
}

// JobCounts buckets jobs of one stage kind by outcome. Running jobs count
// as queued.
type JobCounts struct {
	Queued int `json:"queued"`
	Done   int `json:"done"`
	Error  int `json:"error"`
}

// ProviderStatus is the per-provider slice of a status response.
type ProviderStatus struct {
	Provider  models.Provider `json:"provider"`
	Connected bool            `json:"connected"`
	Scopes    []string        `json:"scopes,omitempty"`
	Syncing   bool            `json:"syncing"`
	LastSync  *time.Time      `json:"last_sync,omitempty"`
	Watermark *string         `json:"watermark,omitempty"`

	// Jobs counts every job the provider ever ran, across all batches,
	// so a caller can tell "never synced" from "synced but all errors".
	Jobs map[models.JobKind]JobCounts `json:"jobs,omitempty"`

	// LatestBatch is nil until the provider has synced at least once.
	LatestBatch *BatchView `json:"latest_batch,omitempty"`
}

// StatusView aggregates a user's sync state across all providers.
type StatusView struct {
	UserID    string           `json:"user_id"`
	Providers []ProviderStatus `json:"providers"`
}

// StatusService answers status and history queries.
type StatusService struct {
	store Store
}

// NewStatusService creates a status service.
func NewStatusService(store Store) *StatusService {
	return &StatusService{store: store}
}

// GetStatus builds the per-provider status view for one user: connection,
// committed watermark, whether a sync is in flight, per-stage job counts
// over every batch the user ever ran, and the latest batch with its
// progress.
func (s *StatusService) GetStatus(ctx context.Context, userID string) (*StatusView, error) {
	view := &StatusView{UserID: userID}

	allJobs, err := s.store.ListJobsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	for _, prov := range models.Providers {
		ps := ProviderStatus{Provider: prov, Jobs: countJobs(allJobs, prov)}

		conn, err := s.store.GetConnection(ctx, userID, prov)
		if err != nil {
			return nil, fmt.Errorf("load connection: %w", err)
		}
		if conn != nil {
			ps.Connected = conn.Connected
			ps.Scopes = conn.Scopes
		}

		state, err := s.store.GetSyncState(ctx, userID, prov)
		if err != nil {
			return nil, fmt.Errorf("load sync state: %w", err)
		}
		if state != nil {
			ps.Syncing = state.Locked()
			ps.LastSync = state.WatermarkAt
			ps.Watermark = state.Watermark
		}

		batches, err := s.store.ListBatches(ctx, userID, &prov, 1)
		if err != nil {
			return nil, fmt.Errorf("list batches: %w", err)
		}
		if len(batches) > 0 {
			bv, err := s.batchView(ctx, &batches[0])
			if err != nil {
				return nil, err
			}
			ps.LatestBatch = bv
		}

		view.Providers = append(view.Providers, ps)
	}

	return view, nil
}

// countJobs buckets one provider's jobs by kind and outcome.
func countJobs(jobs []models.Job, prov models.Provider) map[models.JobKind]JobCounts {
	counts := make(map[models.JobKind]JobCounts)
	for _, j := range jobs {
		if j.Provider != prov {
			continue
		}
		c := counts[j.Kind]
		switch j.Status {
		case models.JobCompleted:
			c.Done++
		case models.JobError:
			c.Error++
		default:
			c.Queued++
		}
		counts[j.Kind] = c
	}
	if len(counts) == 0 {
		return nil
	}
	return counts
}

// GetBatchStatus returns one batch with its derived state and job progress.
func (s *StatusService) GetBatchStatus(ctx context.Context, batchID string) (*BatchView, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return s.batchView(ctx, batch)
}

// ListBatches returns a user's recent batches, newest first, each with its
// derived state.
func (s *StatusService) ListBatches(ctx context.Context, userID string, provider *models.Provider, limit int) ([]BatchView, error) {
	if limit <= 0 {
		limit = 20
	}
	batches, err := s.store.ListBatches(ctx, userID, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	views := make([]BatchView, 0, len(batches))
	for i := range batches {
		bv, err := s.batchView(ctx, &batches[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *bv)
	}
	return views, nil
}

func (s *StatusService) batchView(ctx context.Context, batch *models.Batch) (*BatchView, error) {
	batchID := models.MustRecordIDString(batch.ID)

	jobs, err := s.store.GetJobs(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load jobs for batch %s: %w", batchID, err)
	}

	bv := &BatchView{
		BatchID:   batchID,
		State:     models.DeriveBatchState(jobs),
		RetryOf:   batch.RetryOf,
		CreatedAt: batch.CreatedAt,
	}

	for i := range jobs {
		j := &jobs[i]
		jv := JobView{
			Kind:           j.Kind,
			Status:         j.Status,
			ProcessedItems: j.ProcessedItems,
			ErroredItems:   j.ErroredItems,
			TotalItems:     j.TotalItems,
			ErrorMessage:   j.ErrorMessage,
		}
		if pct, ok := j.ProgressPercent(); ok {
			jv.Percent = &pct
		}
		bv.Jobs = append(bv.Jobs, jv)
	}

	return bv, nil
}
