package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ReasonCode classifies an item-level failure.
type ReasonCode string

const (
	// ReasonTransient covers network timeouts and rate limits; the item is
	// retried on subsequent runner passes up to a bounded attempt count.
	ReasonTransient ReasonCode = "transient"

	// ReasonCredentialInvalid fails the Import job outright and releases
	// the sync lock so the user can reconnect.
	ReasonCredentialInvalid ReasonCode = "credential_invalid"

	// ReasonMalformed marks an item whose payload could not be processed.
	// Recorded without failing the job; never retried within the batch.
	ReasonMalformed ReasonCode = "malformed"

	// ReasonFiltered is an audit marker for items excluded by the batch's
	// preference snapshot. Not an error: excluded from summaries and from
	// the retry set.
	ReasonFiltered ReasonCode = "filtered"
)

// Retryable reports whether another attempt within the same batch can
// succeed.
func (r ReasonCode) Retryable() bool {
	return r == ReasonTransient
}

// ErrorRecord is an append-only item-level failure record. Attempt is the
// running count of failures for (batch, kind, item).
type ErrorRecord struct {
	ID             surrealmodels.RecordID `json:"id"`
	BatchID        string                 `json:"batch_id"`
	JobID          string                 `json:"job_id"`
	Kind           JobKind                `json:"kind"`
	Provider       Provider               `json:"provider"`
	ProviderItemID string                 `json:"provider_item_id"`
	Reason         ReasonCode             `json:"reason"`
	Message        string                 `json:"message"`
	Attempt        int                    `json:"attempt"`
	CreatedAt      time.Time              `json:"created_at"`
}

// ErrorInput describes a failure being appended against a job.
type ErrorInput struct {
	BatchID        string
	JobID          string
	Kind           JobKind
	Provider       Provider
	ProviderItemID string
	Reason         ReasonCode
	Message        string
}

// ErrorSummary aggregates a batch's failures. Filtered audit rows are not
// counted.
type ErrorSummary struct {
	BatchID string             `json:"batch_id"`
	Count   int                `json:"count"`
	Reasons map[ReasonCode]int `json:"reasons"`
}

// RetryItem is one entry of the retry set: a distinct provider item with
// its latest reason and the earliest stage it failed at.
type RetryItem struct {
	ProviderItemID string     `json:"provider_item_id"`
	Kind           JobKind    `json:"kind"`
	Reason         ReasonCode `json:"reason"`
}
