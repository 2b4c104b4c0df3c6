// Package models defines data structures for the Syncwell sync pipeline.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Provider identifies an external account-based data source.
type Provider string

const (
	ProviderMail     Provider = "mail"
	ProviderCalendar Provider = "calendar"
)

// Providers lists all supported providers.
var Providers = []Provider{ProviderMail, ProviderCalendar}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderMail || p == ProviderCalendar
}

// JobKind identifies a pipeline stage.
type JobKind string

const (
	JobImport    JobKind = "import"
	JobNormalize JobKind = "normalize"
	JobExtract   JobKind = "extract"
	JobEmbed     JobKind = "embed"
)

// JobKinds lists all stage kinds in pipeline order.
var JobKinds = []JobKind{JobImport, JobNormalize, JobExtract, JobEmbed}

// DependsOn returns the stage that must complete before this one runs.
// Import has no dependency.
func (k JobKind) DependsOn() (JobKind, bool) {
	switch k {
	case JobNormalize:
		return JobImport, true
	case JobExtract:
		return JobNormalize, true
	case JobEmbed:
		return JobExtract, true
	default:
		return "", false
	}
}

// Order returns the position of the kind in the pipeline (import = 0).
// Unknown kinds sort last.
func (k JobKind) Order() int {
	for i, kind := range JobKinds {
		if kind == k {
			return i
		}
	}
	return len(JobKinds)
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
)

// Terminal reports whether the status is final. Completed jobs may still
// carry a non-zero errored count ("completed with errors").
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError
}

// Batch is one manual-sync invocation for one user+provider, spanning all
// pipeline stages. The preference snapshot taken at creation shields an
// in-flight batch from later preference edits.
type Batch struct {
	ID          surrealmodels.RecordID `json:"id"`
	UserID      string                 `json:"user_id"`
	Provider    Provider               `json:"provider"`
	Preferences Preferences            `json:"preferences"`

	// Retry batches re-run a subset of an earlier batch.
	RetryOf   *string  `json:"retry_of,omitempty"`
	ItemScope []string `json:"item_scope,omitempty"`
	FromKind  JobKind  `json:"from_kind"`

	// Candidate watermark discovered by Import; committed to the sync
	// state only when the batch completes without a failed job.
	WatermarkCandidate *string `json:"watermark_candidate,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsRetry reports whether the batch was created by RetryFailed.
func (b *Batch) IsRetry() bool {
	return b.RetryOf != nil
}

// BatchState is the externally visible state of a batch, derived from its
// jobs.
type BatchState string

const (
	BatchActive              BatchState = "active"
	BatchCompleted           BatchState = "completed"
	BatchCompletedWithErrors BatchState = "completed_with_errors"
	BatchFailed              BatchState = "failed"
)

// DeriveBatchState computes the batch state from its jobs. A batch is
// failed only when its Import job entered Error; a later stage entering
// Error leaves the import intact, so the batch completes with errors once
// every job is terminal.
func DeriveBatchState(jobs []Job) BatchState {
	importFailed := false
	allTerminal := true
	anyError := false
	erroredItems := 0
	for _, j := range jobs {
		if j.Kind == JobImport && j.Status == JobError {
			importFailed = true
		}
		if !j.Status.Terminal() {
			allTerminal = false
		}
		if j.Status == JobError {
			anyError = true
		}
		erroredItems += j.ErroredItems
	}
	if importFailed {
		return BatchFailed
	}
	if !allTerminal {
		return BatchActive
	}
	if anyError || erroredItems > 0 {
		return BatchCompletedWithErrors
	}
	return BatchCompleted
}

// BatchTerminal reports whether the batch holds its sync lock no longer:
// every job reached Completed or Error, or the Import job entered Error
// (its downstream jobs can never run).
func BatchTerminal(jobs []Job) bool {
	for _, j := range jobs {
		if j.Kind == JobImport && j.Status == JobError {
			return true
		}
		if !j.Status.Terminal() {
			return false
		}
	}
	return true
}

// Job is one pipeline stage's unit of work within a batch.
type Job struct {
	ID       surrealmodels.RecordID `json:"id"`
	BatchID  string                 `json:"batch_id"`
	UserID   string                 `json:"user_id"`
	Provider Provider               `json:"provider"`
	Kind     JobKind                `json:"kind"`
	Status   JobStatus              `json:"status"`

	DependsOn *JobKind `json:"depends_on,omitempty"`

	// Cursor is opaque pagination state owned by the stage processor.
	Cursor *string `json:"cursor,omitempty"`

	// TotalItems is nil while the stage is still discovering its input.
	TotalItems     *int `json:"total_items,omitempty"`
	ProcessedItems int  `json:"processed_items"`
	ErroredItems   int  `json:"errored_items"`

	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProgressPercent returns the progress percentage clamped to [0,100].
// The second return is false while the total is still unknown.
func (j *Job) ProgressPercent() (int, bool) {
	if j.TotalItems == nil {
		return 0, false
	}
	total := *j.TotalItems
	if total < 1 {
		total = 1
	}
	pct := j.ProcessedItems * 100 / total
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// JobProgress carries a progress update applied by the runner.
type JobProgress struct {
	ProcessedItems int
	ErroredItems   int
	TotalItems     *int
	Cursor         *string
}
