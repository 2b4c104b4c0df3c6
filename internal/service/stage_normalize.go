package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jkoenig/syncwell/internal/metrics"
	"github.com/jkoenig/syncwell/internal/models"
	"github.com/jkoenig/syncwell/internal/normalize"
)

// runNormalize converts one page of raw items into processed records.
// Malformed payloads are recorded per item and skipped; the stage still
// completes.
func (r *Runner) runNormalize(ctx context.Context, batch *models.Batch, job *models.Job) error {
	batchID := models.MustRecordIDString(batch.ID)
	id := models.MustRecordIDString(job.ID)
	f := pendingFilter(batch, r.cfg.MaxItemAttempts, r.cfg.PageSize)

	total := job.TotalItems
	if total == nil {
		n, err := r.store.CountRawItems(ctx, f)
		if err != nil {
			return fmt.Errorf("count raw items: %w", err)
		}
		total = &n
	}

	page, err := r.store.ListPendingNormalize(ctx, f)
	if err != nil {
		return fmt.Errorf("list pending normalize: %w", err)
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

	for _, raw := range page {
		start := time.Now()
		rec, normErr := normalizeItem(raw, batch.Preferences)
		r.collector.RecordTiming(metrics.OpNormalize, time.Since(start))

		if normErr != nil {
			exhausted, err := r.recordItemError(ctx, models.ErrorInput{
				BatchID:        batchID,
				JobID:          id,
				Kind:           models.JobNormalize,
				Provider:       batch.Provider,
				ProviderItemID: raw.ProviderItemID,
				Reason:         models.ReasonMalformed,
				Message:        normErr.Error(),
			})
			if err != nil {
				return err
			}
			if exhausted {
				errored++
			}
			continue
		}

		rec.BatchID = batchID
		if err := r.store.UpsertProcessedRecord(ctx, rec); err != nil {
			return fmt.Errorf("store processed record %s: %w", raw.ProviderItemID, err)
		}
		processed++
	}

	// More input may remain; the next pass either finds it or completes.
	return r.store.RequeueJob(ctx, id, models.JobProgress{
		ProcessedItems: processed,
		ErroredItems:   errored,
		TotalItems:     total,
	})
}

// normalizeItem builds the canonical record for one raw item according to
// the batch's preference snapshot.
func normalizeItem(raw models.RawItem, prefs models.Preferences) (models.ProcessedRecord, error) {
	rec := models.ProcessedRecord{
		UserID:         raw.UserID,
		Provider:       raw.Provider,
		ProviderItemID: raw.ProviderItemID,
		Collection:     raw.Collection,
	}

	switch raw.Provider {
	case models.ProviderMail:
		rec.Kind = "message"
		subject, ok := payloadString(raw.Payload, "subject")
		if !ok {
			return rec, fmt.Errorf("missing subject")
		}
		rec.Title = normalize.CleanText(subject)

		occurred, err := payloadTime(raw.Payload, "date")
		if err != nil {
			return rec, err
		}
		rec.OccurredAt = occurred

		if prefs.IncludeBody {
			body, _ := payloadString(raw.Payload, "body")
			rec.Body = normalize.CleanText(body)
		}

		if from, ok := payloadString(raw.Payload, "from"); ok {
			if p, ok := normalize.ParseParticipant(from); ok {
				rec.Participants = append(rec.Participants, formatParticipant(p))
			}
		}
		for _, to := range payloadStrings(raw.Payload, "to") {
			if p, ok := normalize.ParseParticipant(to); ok {
				rec.Participants = append(rec.Participants, formatParticipant(p))
			}
		}

	case models.ProviderCalendar:
		rec.Kind = "event"
		title, ok := payloadString(raw.Payload, "title")
		if !ok {
			return rec, fmt.Errorf("missing title")
		}
		rec.Title = normalize.CleanText(title)

		occurred, err := payloadTime(raw.Payload, "start")
		if err != nil {
			return rec, err
		}
		rec.OccurredAt = occurred

		if prefs.IncludeBody {
			desc, _ := payloadString(raw.Payload, "description")
			rec.Body = normalize.CleanText(desc)
		}

		if prefs.IncludeAttendees {
			for _, att := range payloadStrings(raw.Payload, "attendees") {
				if p, ok := normalize.ParseParticipant(att); ok {
					rec.Participants = append(rec.Participants, formatParticipant(p))
				}
			}
		}

	default:
		return rec, fmt.Errorf("unknown provider %q", raw.Provider)
	}

	return rec, nil
}

func formatParticipant(p normalize.Participant) string {
	if p.Name != "" {
		return p.Name + " <" + p.Email + ">"
	}
	return p.Email
}

func payloadString(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func payloadStrings(payload map[string]any, key string) []string {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		var out []string
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vv}
	default:
		return nil
	}
}

func payloadTime(payload map[string]any, key string) (time.Time, error) {
	v, ok := payload[key]
	if !ok {
		return time.Time{}, fmt.Errorf("missing %s", key)
	}
	switch vv := v.(type) {
	case time.Time:
		return vv, nil
	case string:
		t, err := time.Parse(time.RFC3339, vv)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad %s: %v", key, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("bad %s type %T", key, v)
	}
}
