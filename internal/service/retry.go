package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/jkoenig/syncwell/internal/models"
)

// GetErrorSummary returns the batch's failure counts by reason together
// with its derived state. Filtered audit rows do not appear.
func (o *Orchestrator) GetErrorSummary(ctx context.Context, batchID string) (*models.ErrorSummary, models.BatchState, error) {
	batch, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, "", err
	}

	jobs, err := o.store.GetJobs(ctx, models.MustRecordIDString(batch.ID))
	if err != nil {
		return nil, "", fmt.Errorf("load jobs: %w", err)
	}

	summary, err := o.store.GetErrorSummary(ctx, batchID)
	if err != nil {
		return nil, "", fmt.Errorf("summarize errors: %w", err)
	}

	return summary, models.DeriveBatchState(jobs), nil
}

// RetryFailed creates a scoped retry batch for a terminal batch's failed
// items. The new batch starts at the earliest stage any failed item was
// lost in, with a preference snapshot copied from the original; stages
// before it are created pre-completed. A failed batch with no item-level
// failures (credential failure, repeated fetch failures) retries as a full
// re-import instead.
func (o *Orchestrator) RetryFailed(ctx context.Context, batchID string) (*models.Batch, error) {
	orig, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	jobs, err := o.store.GetJobs(ctx, models.MustRecordIDString(orig.ID))
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	if !models.BatchTerminal(jobs) {
		return nil, fmt.Errorf("%w: %s", ErrBatchActive, batchID)
	}
	state := models.DeriveBatchState(jobs)

	items, err := o.retrySet(ctx, batchID)
	if err != nil {
		return nil, err
	}

	spec := models.Batch{
		UserID:      orig.UserID,
		Provider:    orig.Provider,
		Preferences: orig.Preferences,
		RetryOf:     &batchID,
	}

	switch {
	case len(items) > 0:
		spec.FromKind = earliestKind(items)
		for _, it := range items {
			spec.ItemScope = append(spec.ItemScope, it.ProviderItemID)
		}
	case state == models.BatchFailed:
		// Nothing item-scoped to re-run; the import itself broke. Fetch the
		// whole window again from the unchanged watermark.
		spec.FromKind = models.JobImport
	default:
		return nil, fmt.Errorf("%w: batch %s", ErrNothingToRetry, batchID)
	}

	retryID := uuid.New().String()[:8] // Short ID for convenience

	locked, err := o.store.AcquireSyncLock(ctx, orig.UserID, orig.Provider, retryID, o.lockExpiry)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: user %s provider %s", ErrAlreadySyncing, orig.UserID, orig.Provider)
	}

	batch, err := o.createBatchWithJobs(ctx, retryID, spec)
	if err != nil {
		_ = o.store.ReleaseSyncLock(ctx, orig.UserID, orig.Provider, retryID)
		return nil, err
	}

	slog.Info("retry started",
		"batch_id", retryID, "retry_of", batchID, "user_id", orig.UserID,
		"provider", orig.Provider, "from", spec.FromKind, "items", len(spec.ItemScope))
	return batch, nil
}

// retrySet collects the batch's distinct failed items: items whose last
// failure at some stage was non-retryable, or that ran out of transient
// attempts. Each item carries the earliest stage it failed at. Filtered
// audit rows and job-level records without an item ID are skipped.
func (o *Orchestrator) retrySet(ctx context.Context, batchID string) ([]models.RetryItem, error) {
	records, err := o.store.ListBatchErrors(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch errors: %w", err)
	}

	type itemState struct {
		kind    models.JobKind
		reason  models.ReasonCode
		attempt int
	}
	states := make(map[string]*itemState)

	for _, rec := range records {
		if rec.ProviderItemID == "" || rec.Reason == models.ReasonFiltered {
			continue
		}
		st, ok := states[rec.ProviderItemID]
		if !ok {
			st = &itemState{kind: rec.Kind}
			states[rec.ProviderItemID] = st
		}
		if rec.Kind.Order() < st.kind.Order() {
			st.kind = rec.Kind
		}
		st.reason = rec.Reason
		if rec.Attempt > st.attempt {
			st.attempt = rec.Attempt
		}
	}

	var items []models.RetryItem
	for id, st := range states {
		failed := !st.reason.Retryable() || st.attempt >= o.maxAttempts
		if !failed {
			// The item recovered on a later pass within the batch.
			continue
		}
		items = append(items, models.RetryItem{
			ProviderItemID: id,
			Kind:           st.kind,
			Reason:         st.reason,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].ProviderItemID < items[j].ProviderItemID
	})
	return items, nil
}

// earliestKind picks the earliest pipeline stage among the retry items.
func earliestKind(items []models.RetryItem) models.JobKind {
	kind := items[0].Kind
	for _, it := range items[1:] {
		if it.Kind.Order() < kind.Order() {
			kind = it.Kind
		}
	}
	return kind
}
