// Package db provides SurrealDB query functions for raw items and
// processed records.
package db

import (
	"context"
	"fmt"

	"github.com/jkoenig/syncwell/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// PendingFilter selects the input set of one stage pass. Normal batches
// scope by batch; retry batches scope by the explicit item list carried on
// the batch. Errors recorded against BatchID disqualify an item once they
// are non-retryable or the attempt ceiling is reached.
type PendingFilter struct {
	BatchID     string
	UserID      string
	Provider    models.Provider
	ItemScope   []string
	MaxAttempts int
	Limit       int
}

func (f PendingFilter) scopeClause() (string, map[string]any) {
	vars := map[string]any{
		"batch_id":     f.BatchID,
		"user_id":      f.UserID,
		"provider":     f.Provider,
		"max_attempts": f.MaxAttempts,
		"limit":        f.Limit,
	}
	if len(f.ItemScope) > 0 {
		vars["scope"] = f.ItemScope
		return "AND provider_item_id IN $scope", vars
	}
	return "AND batch_id = $batch_id", vars
}

// UpsertRawItem stores a fetched provider item. Re-delivery of the same
// item overwrites in place, so at-least-once fetches stay idempotent.
func (c *Client) UpsertRawItem(ctx context.Context, item models.RawItem) error {
	key := models.ItemKey(item.UserID, item.Provider, item.ProviderItemID)
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("raw_item", $id) SET
			user_id = $user_id,
			provider = $provider,
			provider_item_id = $item_id,
			batch_id = $batch_id,
			collection = $collection,
			payload = $payload,
			fetched_at = time::now()
	`, map[string]any{
		"id":         key,
		"user_id":    item.UserID,
		"provider":   item.Provider,
		"item_id":    item.ProviderItemID,
		"batch_id":   item.BatchID,
		"collection": item.Collection,
		"payload":    item.Payload,
	})
	if err != nil {
		return fmt.Errorf("upsert raw item: %w", wrapQueryError(err))
	}
	return nil
}

// CountRawItems counts the raw items in a stage's input scope.
func (c *Client) CountRawItems(ctx context.Context, f PendingFilter) (int, error) {
	scopeClause, vars := f.scopeClause()
	sql := fmt.Sprintf(`
		SELECT count() AS c FROM raw_item
		WHERE user_id = $user_id AND provider = $provider %s
		GROUP ALL
	`, scopeClause)
	return c.queryCount(ctx, sql, vars)
}

// CountProcessedRecords counts the processed records in a stage's input
// scope.
func (c *Client) CountProcessedRecords(ctx context.Context, f PendingFilter) (int, error) {
	scopeClause, vars := f.scopeClause()
	sql := fmt.Sprintf(`
		SELECT count() AS c FROM processed_record
		WHERE user_id = $user_id AND provider = $provider %s
		GROUP ALL
	`, scopeClause)
	return c.queryCount(ctx, sql, vars)
}

// ListPendingNormalize returns raw items in scope that have no processed
// record yet and are not disqualified by earlier failures in this batch.
func (c *Client) ListPendingNormalize(ctx context.Context, f PendingFilter) ([]models.RawItem, error) {
	scopeClause, vars := f.scopeClause()
	sql := fmt.Sprintf(`
		SELECT * FROM raw_item
		WHERE user_id = $user_id AND provider = $provider %s
		AND record::id(id) NOT IN (
			SELECT VALUE record::id(id) FROM processed_record
			WHERE user_id = $user_id AND provider = $provider
		)
		AND provider_item_id NOT IN (
			SELECT VALUE provider_item_id FROM error_record
			WHERE batch_id = $batch_id AND kind = 'normalize'
			AND (reason != 'transient' OR attempt >= $max_attempts)
		)
		ORDER BY fetched_at ASC
		LIMIT $limit
	`, scopeClause)

	results, err := surrealdb.Query[[]models.RawItem](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list pending normalize: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.RawItem{}, nil
	}
	return (*results)[0].Result, nil
}

// ListPendingExtract returns processed records in scope not yet extracted
// and not disqualified by earlier failures in this batch.
func (c *Client) ListPendingExtract(ctx context.Context, f PendingFilter) ([]models.ProcessedRecord, error) {
	return c.listPendingRecords(ctx, f, "extracted_at", models.JobExtract)
}

// ListPendingEmbed returns processed records in scope not yet embedded and
// not disqualified by earlier failures in this batch.
func (c *Client) ListPendingEmbed(ctx context.Context, f PendingFilter) ([]models.ProcessedRecord, error) {
	return c.listPendingRecords(ctx, f, "embedded_at", models.JobEmbed)
}

func (c *Client) listPendingRecords(ctx context.Context, f PendingFilter, markerField string, kind models.JobKind) ([]models.ProcessedRecord, error) {
	scopeClause, vars := f.scopeClause()
	vars["kind"] = kind
	sql := fmt.Sprintf(`
		SELECT * FROM processed_record
		WHERE user_id = $user_id AND provider = $provider %s
		AND %s IS NONE
		AND provider_item_id NOT IN (
			SELECT VALUE provider_item_id FROM error_record
			WHERE batch_id = $batch_id AND kind = $kind
			AND (reason != 'transient' OR attempt >= $max_attempts)
		)
		ORDER BY created_at ASC
		LIMIT $limit
	`, scopeClause, markerField)

	results, err := surrealdb.Query[[]models.ProcessedRecord](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list pending %s: %w", kind, err)
	}
	if results == nil || len(*results) == 0 {
		return []models.ProcessedRecord{}, nil
	}
	return (*results)[0].Result, nil
}

// UpsertProcessedRecord stores the canonical form of an item. The
// extracted/embedded markers are left untouched so a re-normalize does not
// force later stages to repeat finished work.
func (c *Client) UpsertProcessedRecord(ctx context.Context, rec models.ProcessedRecord) error {
	key := models.ItemKey(rec.UserID, rec.Provider, rec.ProviderItemID)
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("processed_record", $id) SET
			user_id = $user_id,
			provider = $provider,
			provider_item_id = $item_id,
			batch_id = $batch_id,
			kind = $kind,
			title = $title,
			body = $body,
			participants = $participants,
			collection = $collection,
			occurred_at = <datetime>$occurred_at,
			created_at = IF created_at THEN created_at ELSE time::now() END
	`, map[string]any{
		"id":           key,
		"user_id":      rec.UserID,
		"provider":     rec.Provider,
		"item_id":      rec.ProviderItemID,
		"batch_id":     rec.BatchID,
		"kind":         rec.Kind,
		"title":        rec.Title,
		"body":         rec.Body,
		"participants": participantsOrEmpty(rec.Participants),
		"collection":   rec.Collection,
		"occurred_at":  rec.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("upsert processed record: %w", wrapQueryError(err))
	}
	return nil
}

// MarkExtracted stamps a processed record as having passed the Extract
// stage.
func (c *Client) MarkExtracted(ctx context.Context, userID string, provider models.Provider, providerItemID string) error {
	key := models.ItemKey(userID, provider, providerItemID)
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("processed_record", $id) SET extracted_at = time::now()
	`, map[string]any{"id": key})
	if err != nil {
		return fmt.Errorf("mark extracted: %w", err)
	}
	return nil
}

// SetEmbedding stores the vector for a processed record and stamps the
// Embed stage marker.
func (c *Client) SetEmbedding(ctx context.Context, userID string, provider models.Provider, providerItemID string, embedding []float32) error {
	key := models.ItemKey(userID, provider, providerItemID)
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("processed_record", $id) SET
			embedding = $embedding,
			embedded_at = time::now()
	`, map[string]any{"id": key, "embedding": embedding})
	if err != nil {
		return fmt.Errorf("set embedding: %w", err)
	}
	return nil
}

// UpsertContactCandidate records a contact sighting, keyed by user and
// email. Repeated sightings bump the occurrence count.
func (c *Client) UpsertContactCandidate(ctx context.Context, cand models.ContactCandidate) error {
	key := models.ContactKey(cand.UserID, cand.Email)
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("contact_candidate", $id) SET
			user_id = $user_id,
			name = IF name AND name != '' THEN name ELSE $name END,
			email = $email,
			source_item = $source_item,
			occurrences = (occurrences ?? 0) + 1,
			created_at = IF created_at THEN created_at ELSE time::now() END
	`, map[string]any{
		"id":          key,
		"user_id":     cand.UserID,
		"name":        cand.Name,
		"email":       cand.Email,
		"source_item": cand.SourceItem,
	})
	if err != nil {
		return fmt.Errorf("upsert contact candidate: %w", wrapQueryError(err))
	}
	return nil
}

// ListContactCandidates returns a user's contact candidates by frequency.
func (c *Client) ListContactCandidates(ctx context.Context, userID string, limit int) ([]models.ContactCandidate, error) {
	results, err := surrealdb.Query[[]models.ContactCandidate](ctx, c.db, `
		SELECT * FROM contact_candidate WHERE user_id = $user_id
		ORDER BY occurrences DESC LIMIT $limit
	`, map[string]any{"user_id": userID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list contact candidates: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.ContactCandidate{}, nil
	}
	return (*results)[0].Result, nil
}

type countRow struct {
	C int `json:"c"`
}

func (c *Client) queryCount(ctx context.Context, sql string, vars map[string]any) (int, error) {
	results, err := surrealdb.Query[[]countRow](ctx, c.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}

func participantsOrEmpty(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}
