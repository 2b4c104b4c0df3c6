package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jkoenig/syncwell/internal/llm"
	"github.com/jkoenig/syncwell/internal/metrics"
	"github.com/jkoenig/syncwell/internal/models"
)

// runEmbed computes vectors for one page of processed records. A record
// with no text is stamped embedded without a vector so the stage can
// finish.
func (r *Runner) runEmbed(ctx context.Context, batch *models.Batch, job *models.Job) error {
	batchID := models.MustRecordIDString(batch.ID)
	id := models.MustRecordIDString(job.ID)
	f := pendingFilter(batch, r.cfg.MaxItemAttempts, r.cfg.PageSize)

	if r.embedder == nil {
		return r.store.FailJob(ctx, id, "no embedder configured")
	}

	total := job.TotalItems
	if total == nil {
		n, err := r.store.CountProcessedRecords(ctx, f)
		if err != nil {
			return fmt.Errorf("count processed records: %w", err)
		}
		total = &n
	}

	page, err := r.store.ListPendingEmbed(ctx, f)
	if err != nil {
		return fmt.Errorf("list pending embed: %w", err)
	}

	processed := job.ProcessedItems
	errored := job.ErroredItems

	if len(page) == 0 {
		return r.store.CompleteJob(ctx, id, models.JobProgress{
			ProcessedItems: processed,
			ErroredItems:   errored,
			TotalItems:     total,
		})
	}

	for _, rec := range page {
		text := embedText(rec)
		var embedding []float32

		if text != "" {
			start := time.Now()
			embedding, err = r.embedder.Embed(ctx, text)
			r.collector.RecordTiming(metrics.OpEmbed, time.Since(start))

			if err != nil {
				if errors.Is(err, llm.ErrFatalAPI) {
					return r.store.FailJob(ctx, id, err.Error())
				}
				exhausted, recErr := r.recordItemError(ctx, models.ErrorInput{
					BatchID:        batchID,
					JobID:          id,
					Kind:           models.JobEmbed,
					Provider:       batch.Provider,
					ProviderItemID: rec.ProviderItemID,
					Reason:         models.ReasonTransient,
					Message:        err.Error(),
				})
				if recErr != nil {
					return recErr
				}
				if exhausted {
					errored++
				}
				continue
			}
		}

		if err := r.store.SetEmbedding(ctx, batch.UserID, batch.Provider, rec.ProviderItemID, embedding); err != nil {
			return fmt.Errorf("store embedding %s: %w", rec.ProviderItemID, err)
		}
		processed++
	}

	return r.store.RequeueJob(ctx, id, models.JobProgress{
		ProcessedItems: processed,
		ErroredItems:   errored,
		TotalItems:     total,
	})
}

// embedText builds the text the vector represents.
func embedText(rec models.ProcessedRecord) string {
	switch {
	case rec.Title != "" && rec.Body != "":
		return rec.Title + "\n" + rec.Body
	case rec.Title != "":
		return rec.Title
	default:
		return rec.Body
	}
}
