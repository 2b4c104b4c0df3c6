package models

import (
	"strings"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RawItem is a provider item as fetched, keyed by (user, provider,
// providerItemId). Immutable once written; later stages read it but never
// mutate it, which makes at-least-once delivery from the adapter idempotent.
type RawItem struct {
	ID             surrealmodels.RecordID `json:"id"`
	UserID         string                 `json:"user_id"`
	Provider       Provider               `json:"provider"`
	ProviderItemID string                 `json:"provider_item_id"`
	BatchID        string                 `json:"batch_id"`
	Collection     string                 `json:"collection"`
	Payload        map[string]any         `json:"payload"`
	FetchedAt      time.Time              `json:"fetched_at"`
}

// ProcessedRecord is the canonical, structured form of a RawItem, produced
// by Normalize. One-to-one with its raw item (or absent when filtered).
// The extracted/embedded markers are stage bookkeeping, not content.
type ProcessedRecord struct {
	ID             surrealmodels.RecordID `json:"id"`
	UserID         string                 `json:"user_id"`
	Provider       Provider               `json:"provider"`
	ProviderItemID string                 `json:"provider_item_id"`
	BatchID        string                 `json:"batch_id"`

	Kind         string    `json:"kind"` // "message" or "event"
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Participants []string  `json:"participants"`
	Collection   string    `json:"collection"`
	OccurredAt   time.Time `json:"occurred_at"`

	Embedding   []float32  `json:"embedding,omitempty"`
	EmbeddedAt  *time.Time `json:"embedded_at,omitempty"`
	ExtractedAt *time.Time `json:"extracted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ContactCandidate is a secondary entity derived by the Extract stage.
// Upserted by (user, email); occurrences counts how often it was seen.
type ContactCandidate struct {
	ID          surrealmodels.RecordID `json:"id"`
	UserID      string                 `json:"user_id"`
	Name        string                 `json:"name"`
	Email       string                 `json:"email"`
	SourceItem  string                 `json:"source_item"`
	Occurrences int                    `json:"occurrences"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ItemKey builds the deterministic record key for raw items and processed
// records so adapter re-delivery upserts instead of duplicating.
func ItemKey(userID string, provider Provider, providerItemID string) string {
	return sanitizeKey(userID) + "_" + string(provider) + "_" + sanitizeKey(providerItemID)
}

// StateKey builds the record key for per-(user, provider) singleton rows
// (sync state, connections, preferences).
func StateKey(userID string, provider Provider) string {
	return sanitizeKey(userID) + "_" + string(provider)
}

// ContactKey builds the record key for contact candidates, deduplicated by
// user and address.
func ContactKey(userID, email string) string {
	return sanitizeKey(userID) + "_" + sanitizeKey(strings.ToLower(email))
}

// sanitizeKey maps arbitrary external identifiers onto the character set
// SurrealDB accepts in plain record IDs.
func sanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
}
