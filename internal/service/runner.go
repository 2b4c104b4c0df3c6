package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkoenig/syncwell/internal/llm"
	"github.com/jkoenig/syncwell/internal/metrics"
	"github.com/jkoenig/syncwell/internal/models"
	"github.com/jkoenig/syncwell/internal/provider"
)

// Embedder produces vectors for the embed stage.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ContactExtractor finds contact mentions in item text. Optional; when nil
// the extract stage falls back to address parsing.
type ContactExtractor interface {
	ExtractContacts(ctx context.Context, text string) ([]llm.ContactMention, error)
}

// RunnerConfig holds the pipeline tuning knobs.
type RunnerConfig struct {
	// PageSize bounds the work one runner pass does per job.
	PageSize int

	// BatchItemCap bounds how many items a single batch imports.
	BatchItemCap int

	// MaxItemAttempts bounds transient retries per item within a batch.
	MaxItemAttempts int
}

func (c *RunnerConfig) defaults() {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.BatchItemCap <= 0 {
		c.BatchItemCap = 2000
	}
	if c.MaxItemAttempts <= 0 {
		c.MaxItemAttempts = 3
	}
}

// Runner drains queued stage jobs. It is re-entrant: any number of
// concurrent passes (same process or not) coordinate purely through the
// conditional job claim, and a crashed pass leaves nothing worse than a
// job that a later pass picks up again.
type Runner struct {
	store     Store
	adapters  map[models.Provider]provider.Adapter
	embedder  Embedder
	extractor ContactExtractor
	collector *metrics.Collector
	cfg       RunnerConfig
}

// NewRunner creates a pipeline runner.
func NewRunner(store Store, adapters map[models.Provider]provider.Adapter, embedder Embedder, extractor ContactExtractor, collector *metrics.Collector, cfg RunnerConfig) *Runner {
	cfg.defaults()
	if collector == nil {
		collector = metrics.NewCollector()
	}
	return &Runner{
		store:     store,
		adapters:  adapters,
		embedder:  embedder,
		extractor: extractor,
		collector: collector,
		cfg:       cfg,
	}
}

// RunPending claims and runs eligible queued jobs, one bounded page of
// work each, and returns how many jobs ran. Callers loop or tick; a single
// pass never blocks on an entire batch.
func (r *Runner) RunPending(ctx context.Context) (int, error) {
	queued, err := r.store.ListQueuedJobs(ctx, r.cfg.PageSize)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}

	ran := 0
	for i := range queued {
		job := &queued[i]
		id := models.MustRecordIDString(job.ID)

		eligible, depFailed, err := r.dependencyState(ctx, job)
		if err != nil {
			return ran, err
		}
		if depFailed {
			// The upstream stage errored; this job can never become
			// eligible. Resolve it so the batch reaches a terminal state
			// instead of holding the lock until expiry.
			skipped, err := r.skipJob(ctx, job, id)
			if err != nil {
				return ran, err
			}
			if skipped {
				ran++
			}
			continue
		}
		if !eligible {
			continue
		}

		claimed, err := r.store.ClaimJob(ctx, id)
		if err != nil {
			return ran, fmt.Errorf("claim job %s: %w", id, err)
		}
		if !claimed {
			// Another runner got there first.
			continue
		}

		batch, err := r.store.GetBatch(ctx, job.BatchID)
		if err != nil {
			return ran, fmt.Errorf("load batch %s: %w", job.BatchID, err)
		}

		if err := r.runStage(ctx, batch, job); err != nil {
			// Infrastructure failure mid-stage: put the job back so a later
			// pass retries from the recorded cursor. Item work already done
			// is idempotent.
			slog.Error("stage pass failed", "job_id", id, "kind", job.Kind, "error", err)
			_ = r.store.RequeueJob(ctx, id, models.JobProgress{
				ProcessedItems: job.ProcessedItems,
				ErroredItems:   job.ErroredItems,
				TotalItems:     job.TotalItems,
				Cursor:         job.Cursor,
			})
			continue
		}
		ran++

		if err := r.finishIfTerminal(ctx, batch); err != nil {
			return ran, err
		}
	}

	return ran, nil
}

// dependencyState reports whether the job's upstream stage completed, and
// separately whether it entered Error, making the job unrunnable.
func (r *Runner) dependencyState(ctx context.Context, job *models.Job) (eligible, depFailed bool, err error) {
	if job.DependsOn == nil {
		return true, false, nil
	}

	jobs, err := r.store.GetJobs(ctx, job.BatchID)
	if err != nil {
		return false, false, fmt.Errorf("load jobs for batch %s: %w", job.BatchID, err)
	}
	for _, j := range jobs {
		if j.Kind == *job.DependsOn {
			return j.Status == models.JobCompleted, j.Status == models.JobError, nil
		}
	}
	return false, false, nil
}

// skipJob resolves a job whose dependency errored. It claims the job like
// a normal pass so concurrent runners do not race, marks it Error, and
// finishes the batch if that was the last open job.
func (r *Runner) skipJob(ctx context.Context, job *models.Job, id string) (bool, error) {
	claimed, err := r.store.ClaimJob(ctx, id)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	if !claimed {
		return false, nil
	}

	if err := r.store.FailJob(ctx, id, fmt.Sprintf("skipped: %s stage failed", *job.DependsOn)); err != nil {
		return false, fmt.Errorf("skip job %s: %w", id, err)
	}
	slog.Info("stage skipped", "job_id", id, "kind", job.Kind, "failed_dependency", *job.DependsOn)

	batch, err := r.store.GetBatch(ctx, job.BatchID)
	if err != nil {
		return true, fmt.Errorf("load batch %s: %w", job.BatchID, err)
	}
	return true, r.finishIfTerminal(ctx, batch)
}

func (r *Runner) runStage(ctx context.Context, batch *models.Batch, job *models.Job) error {
	switch job.Kind {
	case models.JobImport:
		return r.runImport(ctx, batch, job)
	case models.JobNormalize:
		return r.runNormalize(ctx, batch, job)
	case models.JobExtract:
		return r.runExtract(ctx, batch, job)
	case models.JobEmbed:
		return r.runEmbed(ctx, batch, job)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// finishIfTerminal releases the sync lock and commits the watermark once
// the batch reaches a terminal state: every job terminal, or the Import
// job failed. The watermark moves whenever Import paginated the full
// window, including a full re-import retry; a failed batch or an
// item-scoped retry (which re-runs old items) leaves the committed value
// alone.
func (r *Runner) finishIfTerminal(ctx context.Context, batch *models.Batch) error {
	batchID := models.MustRecordIDString(batch.ID)

	jobs, err := r.store.GetJobs(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load jobs for batch %s: %w", batchID, err)
	}
	if !models.BatchTerminal(jobs) {
		return nil
	}

	state := models.DeriveBatchState(jobs)

	if state != models.BatchFailed && len(batch.ItemScope) == 0 {
		// The candidate was written by the import stage; re-read it.
		fresh, err := r.store.GetBatch(ctx, batchID)
		if err != nil {
			return fmt.Errorf("reload batch %s: %w", batchID, err)
		}
		if fresh.WatermarkCandidate != nil {
			if err := r.store.CommitWatermark(ctx, batch.UserID, batch.Provider, *fresh.WatermarkCandidate); err != nil {
				return fmt.Errorf("commit watermark: %w", err)
			}
		}
	}

	if err := r.store.ReleaseSyncLock(ctx, batch.UserID, batch.Provider, batchID); err != nil {
		return fmt.Errorf("release sync lock: %w", err)
	}

	slog.Info("batch finished",
		"batch_id", batchID, "user_id", batch.UserID, "provider", batch.Provider,
		"state", state)
	return nil
}

// recordItemError appends an item failure and reports whether the item is
// out of attempts within this batch.
func (r *Runner) recordItemError(ctx context.Context, in models.ErrorInput) (exhausted bool, err error) {
	rec, err := r.store.AppendError(ctx, in)
	if err != nil {
		return false, fmt.Errorf("append error record: %w", err)
	}
	if !in.Reason.Retryable() {
		return true, nil
	}
	return rec.Attempt >= r.cfg.MaxItemAttempts, nil
}
