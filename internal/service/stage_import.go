package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jkoenig/syncwell/internal/metrics"
	"github.com/jkoenig/syncwell/internal/models"
	"github.com/jkoenig/syncwell/internal/provider"
)

// runImport fetches one provider page and stores the raw items. The job
// stays queued with an advanced cursor while the provider has more; the
// stage completes when the window is exhausted or the batch item cap is
// hit.
func (r *Runner) runImport(ctx context.Context, batch *models.Batch, job *models.Job) error {
	batchID := models.MustRecordIDString(batch.ID)
	id := models.MustRecordIDString(job.ID)

	adapter, ok := r.adapters[batch.Provider]
	if !ok {
		return r.store.FailJob(ctx, id, fmt.Sprintf("no adapter for provider %s", batch.Provider))
	}

	cursor := ""
	if job.Cursor != nil {
		cursor = *job.Cursor
	} else {
		var err error
		cursor, err = r.initialCursor(ctx, batch)
		if err != nil {
			return err
		}
	}

	start := time.Now()
	page, err := adapter.Fetch(ctx, batch.UserID, cursor, r.cfg.PageSize)
	r.collector.RecordTiming(metrics.OpProviderFetch, time.Since(start))
	if err != nil {
		return r.handleFetchError(ctx, batch, job, err)
	}

	processed := job.ProcessedItems
	candidate := ""
	if batch.WatermarkCandidate != nil {
		candidate = *batch.WatermarkCandidate
	}

	for _, item := range page.Items {
		// The fetched window covers filtered items too, so they advance
		// the watermark candidate and count as processed. The audit row
		// keeps them out of later stages without looking like failures.
		candidate = provider.LaterTimeCursor(candidate, provider.TimeCursor(item.Timestamp))

		if !batch.Preferences.CollectionSelected(item.Collection) {
			if _, err := r.store.AppendError(ctx, models.ErrorInput{
				BatchID:        batchID,
				JobID:          id,
				Kind:           models.JobImport,
				Provider:       batch.Provider,
				ProviderItemID: item.ID,
				Reason:         models.ReasonFiltered,
				Message:        fmt.Sprintf("collection %q not selected", item.Collection),
			}); err != nil {
				return fmt.Errorf("record filtered item: %w", err)
			}
			processed++
			continue
		}

		if err := r.store.UpsertRawItem(ctx, models.RawItem{
			UserID:         batch.UserID,
			Provider:       batch.Provider,
			ProviderItemID: item.ID,
			BatchID:        batchID,
			Collection:     item.Collection,
			Payload:        item.Payload,
		}); err != nil {
			return fmt.Errorf("store raw item %s: %w", item.ID, err)
		}
		processed++
	}

	if candidate != "" {
		if err := r.store.SetWatermarkCandidate(ctx, batchID, candidate); err != nil {
			return fmt.Errorf("set watermark candidate: %w", err)
		}
		batch.WatermarkCandidate = &candidate
	}

	progress := models.JobProgress{
		ProcessedItems: processed,
		ErroredItems:   job.ErroredItems,
	}

	if page.HasMore && processed < r.cfg.BatchItemCap {
		next := page.NextCursor
		progress.Cursor = &next
		return r.store.RequeueJob(ctx, id, progress)
	}

	total := processed
	progress.TotalItems = &total
	return r.store.CompleteJob(ctx, id, progress)
}

// initialCursor picks where the first fetch of a batch starts: the
// committed watermark when one exists, otherwise the preference window.
func (r *Runner) initialCursor(ctx context.Context, batch *models.Batch) (string, error) {
	state, err := r.store.GetSyncState(ctx, batch.UserID, batch.Provider)
	if err != nil {
		return "", fmt.Errorf("load sync state: %w", err)
	}
	if state != nil && state.Watermark != nil {
		return *state.Watermark, nil
	}

	windowDays := batch.Preferences.WindowDays
	if windowDays <= 0 {
		windowDays = 90
	}
	return provider.TimeCursor(time.Now().UTC().AddDate(0, 0, -windowDays)), nil
}

// handleFetchError maps a page fetch failure onto the error taxonomy.
// Invalid credentials fail the Import job outright; throttling and
// transport failures are counted per batch and fail the job only once the
// attempt ceiling is reached.
func (r *Runner) handleFetchError(ctx context.Context, batch *models.Batch, job *models.Job, fetchErr error) error {
	batchID := models.MustRecordIDString(batch.ID)
	id := models.MustRecordIDString(job.ID)

	if errors.Is(fetchErr, provider.ErrCredentialInvalid) {
		if _, err := r.store.AppendError(ctx, models.ErrorInput{
			BatchID:  batchID,
			JobID:    id,
			Kind:     models.JobImport,
			Provider: batch.Provider,
			Reason:   models.ReasonCredentialInvalid,
			Message:  fetchErr.Error(),
		}); err != nil {
			return fmt.Errorf("record credential error: %w", err)
		}
		return r.store.FailJob(ctx, id, "provider credential invalid")
	}

	exhausted, err := r.recordItemError(ctx, models.ErrorInput{
		BatchID:  batchID,
		JobID:    id,
		Kind:     models.JobImport,
		Provider: batch.Provider,
		Reason:   models.ReasonTransient,
		Message:  fetchErr.Error(),
	})
	if err != nil {
		return err
	}
	if exhausted {
		return r.store.FailJob(ctx, id, fmt.Sprintf("repeated provider failures: %v", fetchErr))
	}

	// Same cursor next pass.
	return r.store.RequeueJob(ctx, id, models.JobProgress{
		ProcessedItems: job.ProcessedItems,
		ErroredItems:   job.ErroredItems,
		TotalItems:     job.TotalItems,
		Cursor:         job.Cursor,
	})
}
