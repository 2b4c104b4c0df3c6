// Package service implements the sync orchestration and pipeline engine:
// starting batches, claiming and running stage jobs, status aggregation,
// and retries.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/jkoenig/syncwell/internal/db"
	"github.com/jkoenig/syncwell/internal/models"
)

// Service-level sentinel errors, mapped onto HTTP statuses by the server.
var (
	// ErrAlreadySyncing means the per-(user, provider) sync lock is held
	// by another active batch.
	ErrAlreadySyncing = errors.New("sync already in progress")

	// ErrNotConnected means the provider account is not linked.
	ErrNotConnected = errors.New("provider not connected")

	// ErrInvalidProvider means the provider name is unknown.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrPreferencesLocked means a completed sync froze the preferences.
	ErrPreferencesLocked = errors.New("preferences locked after first completed sync")

	// ErrNothingToRetry means the batch has no failed items to re-run.
	ErrNothingToRetry = errors.New("nothing to retry")

	// ErrBatchActive means the batch has not reached a terminal state yet.
	ErrBatchActive = errors.New("batch still active")
)

// Store is the persistence surface the services run against. *db.Client
// implements it; tests substitute an in-memory version.
type Store interface {
	// Batches and jobs
	CreateBatch(ctx context.Context, id string, batch models.Batch) (*models.Batch, error)
	GetBatch(ctx context.Context, id string) (*models.Batch, error)
	ListBatches(ctx context.Context, userID string, provider *models.Provider, limit int) ([]models.Batch, error)
	SetWatermarkCandidate(ctx context.Context, batchID, candidate string) error
	CreateJob(ctx context.Context, id string, job models.Job) (*models.Job, error)
	GetJobs(ctx context.Context, batchID string) ([]models.Job, error)
	ListQueuedJobs(ctx context.Context, limit int) ([]models.Job, error)
	ListJobsForUser(ctx context.Context, userID string) ([]models.Job, error)
	ClaimJob(ctx context.Context, jobID string) (bool, error)
	RequeueJob(ctx context.Context, jobID string, p models.JobProgress) error
	CompleteJob(ctx context.Context, jobID string, p models.JobProgress) error
	FailJob(ctx context.Context, jobID, message string) error

	// Items
	UpsertRawItem(ctx context.Context, item models.RawItem) error
	CountRawItems(ctx context.Context, f db.PendingFilter) (int, error)
	CountProcessedRecords(ctx context.Context, f db.PendingFilter) (int, error)
	ListPendingNormalize(ctx context.Context, f db.PendingFilter) ([]models.RawItem, error)
	ListPendingExtract(ctx context.Context, f db.PendingFilter) ([]models.ProcessedRecord, error)
	ListPendingEmbed(ctx context.Context, f db.PendingFilter) ([]models.ProcessedRecord, error)
	UpsertProcessedRecord(ctx context.Context, rec models.ProcessedRecord) error
	MarkExtracted(ctx context.Context, userID string, provider models.Provider, providerItemID string) error
	SetEmbedding(ctx context.Context, userID string, provider models.Provider, providerItemID string, embedding []float32) error
	UpsertContactCandidate(ctx context.Context, cand models.ContactCandidate) error
	ListContactCandidates(ctx context.Context, userID string, limit int) ([]models.ContactCandidate, error)

	// Error records
	AppendError(ctx context.Context, in models.ErrorInput) (*models.ErrorRecord, error)
	ListBatchErrors(ctx context.Context, batchID string) ([]models.ErrorRecord, error)
	GetErrorSummary(ctx context.Context, batchID string) (*models.ErrorSummary, error)

	// Sync state
	GetSyncState(ctx context.Context, userID string, provider models.Provider) (*models.SyncState, error)
	AcquireSyncLock(ctx context.Context, userID string, provider models.Provider, batchID string, expiry time.Duration) (bool, error)
	ReleaseSyncLock(ctx context.Context, userID string, provider models.Provider, batchID string) error
	CommitWatermark(ctx context.Context, userID string, provider models.Provider, watermark string) error

	// Connections and preferences
	UpsertConnection(ctx context.Context, conn models.Connection) error
	GetConnection(ctx context.Context, userID string, provider models.Provider) (*models.Connection, error)
	ListConnections(ctx context.Context, userID string) ([]models.Connection, error)
	UpsertPreferences(ctx context.Context, prefs models.Preferences) error
	GetPreferences(ctx context.Context, userID string, provider models.Provider) (*models.Preferences, error)
}

// pendingFilter builds the stage input filter for a batch.
func pendingFilter(batch *models.Batch, maxAttempts, limit int) db.PendingFilter {
	return db.PendingFilter{
		BatchID:     models.MustRecordIDString(batch.ID),
		UserID:      batch.UserID,
		Provider:    batch.Provider,
		ItemScope:   batch.ItemScope,
		MaxAttempts: maxAttempts,
		Limit:       limit,
	}
}
