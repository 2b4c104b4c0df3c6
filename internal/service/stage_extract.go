package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jkoenig/syncwell/internal/llm"
	"github.com/jkoenig/syncwell/internal/metrics"
	"github.com/jkoenig/syncwell/internal/models"
	"github.com/jkoenig/syncwell/internal/normalize"
)

// runExtract derives contact candidates from one page of processed
// records. Participant headers are always parsed; the record body goes
// through the LLM extractor when one is configured, with address scanning
// as the fallback.
func (r *Runner) runExtract(ctx context.Context, batch *models.Batch, job *models.Job) error {
	batchID := models.MustRecordIDString(batch.ID)
	id := models.MustRecordIDString(job.ID)
	f := pendingFilter(batch, r.cfg.MaxItemAttempts, r.cfg.PageSize)

	total := job.TotalItems
	if total == nil {
		n, err := r.store.CountProcessedRecords(ctx, f)
		if err != nil {
			return fmt.Errorf("count processed records: %w", err)
		}
		total = &n
	}

	page, err := r.store.ListPendingExtract(ctx, f)
	if err != nil {
		return fmt.Errorf("list pending extract: %w", err)
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
		start := time.Now()
		mentions, extErr := r.extractMentions(ctx, rec)
		r.collector.RecordTiming(metrics.OpExtract, time.Since(start))

		if extErr != nil {
			if errors.Is(extErr, llm.ErrFatalAPI) {
				// Bad API credentials stop the whole stage; item retries
				// cannot help.
				return r.store.FailJob(ctx, id, extErr.Error())
			}
			exhausted, err := r.recordItemError(ctx, models.ErrorInput{
				BatchID:        batchID,
				JobID:          id,
				Kind:           models.JobExtract,
				Provider:       batch.Provider,
				ProviderItemID: rec.ProviderItemID,
				Reason:         models.ReasonTransient,
				Message:        extErr.Error(),
			})
			if err != nil {
				return err
			}
			if exhausted {
				errored++
			}
			continue
		}

		for _, m := range mentions {
			if err := r.store.UpsertContactCandidate(ctx, models.ContactCandidate{
				UserID:     batch.UserID,
				Name:       m.Name,
				Email:      m.Email,
				SourceItem: rec.ProviderItemID,
			}); err != nil {
				return fmt.Errorf("store contact candidate: %w", err)
			}
		}

		if err := r.store.MarkExtracted(ctx, batch.UserID, batch.Provider, rec.ProviderItemID); err != nil {
			return fmt.Errorf("mark extracted: %w", err)
		}
		processed++
	}

	return r.store.RequeueJob(ctx, id, models.JobProgress{
		ProcessedItems: processed,
		ErroredItems:   errored,
		TotalItems:     total,
	})
}

func (r *Runner) extractMentions(ctx context.Context, rec models.ProcessedRecord) ([]llm.ContactMention, error) {
	seen := make(map[string]struct{})
	var mentions []llm.ContactMention

	add := func(m llm.ContactMention) {
		if _, ok := seen[m.Email]; ok {
			return
		}
		seen[m.Email] = struct{}{}
		mentions = append(mentions, m)
	}

	for _, part := range rec.Participants {
		if p, ok := normalize.ParseParticipant(part); ok {
			add(llm.ContactMention{Name: p.Name, Email: p.Email})
		}
	}

	if rec.Body == "" {
		return mentions, nil
	}

	if r.extractor != nil {
		start := time.Now()
		found, err := r.extractor.ExtractContacts(ctx, rec.Body)
		r.collector.RecordTiming(metrics.OpLLMExtract, time.Since(start))
		if err != nil {
			return nil, err
		}
		for _, m := range found {
			add(m)
		}
		return mentions, nil
	}

	for _, addr := range normalize.ExtractEmails(rec.Body) {
		add(llm.ContactMention{Email: addr})
	}
	return mentions, nil
}
