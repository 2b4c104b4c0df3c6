package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jkoenig/syncwell/internal/models"
)

// Orchestrator starts sync batches and owns the per-(user, provider) sync
// lock lifecycle around them.
type Orchestrator struct {
	store       Store
	lockExpiry  time.Duration
	maxAttempts int
}

// NewOrchestrator creates an orchestrator. maxAttempts must match the
// runner's per-item attempt ceiling so retry sets agree with what the
// pipeline gave up on.
func NewOrchestrator(store Store, lockExpiry time.Duration, maxAttempts int) *Orchestrator {
	if lockExpiry <= 0 {
		lockExpiry = 30 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Orchestrator{store: store, lockExpiry: lockExpiry, maxAttempts: maxAttempts}
}

// StartSync creates one batch with its four stage jobs for a user+provider.
// The preference snapshot is taken here; later preference edits do not
// affect the running batch. Exactly one caller wins when invoked
// concurrently for the same pair; the others get ErrAlreadySyncing.
func (o *Orchestrator) StartSync(ctx context.Context, userID string, provider models.Provider) (*models.Batch, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProvider, provider)
	}

	conn, err := o.store.GetConnection(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("check connection: %w", err)
	}
	if conn == nil || !conn.Connected {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, provider)
	}

	prefs, err := o.store.GetPreferences(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	if prefs == nil {
		defaults := models.DefaultPreferences(userID, provider)
		prefs = &defaults
	}

	batchID := uuid.New().String()[:8] // Short ID for convenience

	// The lock is taken before the batch exists so a concurrent StartSync
	// can never create a second active batch for the pair.
	locked, err := o.store.AcquireSyncLock(ctx, userID, provider, batchID, o.lockExpiry)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: user %s provider %s", ErrAlreadySyncing, userID, provider)
	}

	batch, err := o.createBatchWithJobs(ctx, batchID, models.Batch{
		UserID:      userID,
		Provider:    provider,
		Preferences: *prefs,
		FromKind:    models.JobImport,
	})
	if err != nil {
		// Leave no dangling lock behind a failed create.
		_ = o.store.ReleaseSyncLock(ctx, userID, provider, batchID)
		return nil, err
	}

	slog.Info("sync started",
		"batch_id", batchID, "user_id", userID, "provider", provider,
		"window_days", prefs.WindowDays)
	return batch, nil
}

// createBatchWithJobs persists a batch and one job per pipeline stage.
// Stages before fromKind are created pre-completed so the runner's
// dependency gate lets the target stage start immediately.
func (o *Orchestrator) createBatchWithJobs(ctx context.Context, batchID string, spec models.Batch) (*models.Batch, error) {
	batch, err := o.store.CreateBatch(ctx, batchID, spec)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	fromOrder := spec.FromKind.Order()
	for _, kind := range models.JobKinds {
		job := models.Job{
			BatchID:  batchID,
			UserID:   spec.UserID,
			Provider: spec.Provider,
			Kind:     kind,
			Status:   models.JobQueued,
		}
		if dep, ok := kind.DependsOn(); ok {
			job.DependsOn = &dep
		}
		if kind.Order() < fromOrder {
			job.Status = models.JobCompleted
			zero := 0
			job.TotalItems = &zero
		}

		if _, err := o.store.CreateJob(ctx, jobID(batchID, kind), job); err != nil {
			return nil, fmt.Errorf("create %s job: %w", kind, err)
		}
	}

	return batch, nil
}

// jobID derives the deterministic record ID of a batch's stage job.
func jobID(batchID string, kind models.JobKind) string {
	return batchID + "-" + string(kind)
}
