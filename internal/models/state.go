package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// SyncState is the per-(user, provider) row holding the committed
// watermark and the single-active-batch lock. The lock is data with
// compare-and-swap updates, not an in-process mutex, so orchestrator and
// runner instances can run as separate processes.
type SyncState struct {
	ID       surrealmodels.RecordID `json:"id"`
	UserID   string                 `json:"user_id"`
	Provider Provider               `json:"provider"`

	// Watermark marks the most recently successfully imported point,
	// written only when a batch completes without a failed job.
	Watermark   *string    `json:"watermark,omitempty"`
	WatermarkAt *time.Time `json:"watermark_at,omitempty"`

	LockBatchID *string    `json:"lock_batch,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Locked reports whether a batch currently holds the sync lock.
func (s *SyncState) Locked() bool {
	return s != nil && s.LockBatchID != nil
}

// Connection records whether a provider account is linked and which scopes
// were granted. Credential material itself lives outside this system.
type Connection struct {
	ID          surrealmodels.RecordID `json:"id"`
	UserID      string                 `json:"user_id"`
	Provider    Provider               `json:"provider"`
	Connected   bool                   `json:"connected"`
	Scopes      []string               `json:"scopes"`
	ConnectedAt time.Time              `json:"connected_at"`
}

// Preferences is the per-(user, provider) sync configuration. Once the
// first batch for a provider completes, edits are rejected; every batch
// additionally carries its own snapshot.
type Preferences struct {
	UserID   string   `json:"user_id"`
	Provider Provider `json:"provider"`

	// WindowDays bounds how far back the first full sync reaches.
	WindowDays int `json:"window_days"`

	// Collections selects folders (mail) or calendars; empty means all.
	Collections []string `json:"collections,omitempty"`

	IncludeBody      bool `json:"include_body"`
	IncludeAttendees bool `json:"include_attendees"`
}

// DefaultPreferences returns the configuration used when a user starts
// their first sync without saving preferences.
func DefaultPreferences(userID string, provider Provider) Preferences {
	return Preferences{
		UserID:           userID,
		Provider:         provider,
		WindowDays:       90,
		IncludeBody:      true,
		IncludeAttendees: true,
	}
}

// CollectionSelected reports whether the given folder/calendar passes the
// preference filter.
func (p Preferences) CollectionSelected(name string) bool {
	if len(p.Collections) == 0 {
		return true
	}
	for _, c := range p.Collections {
		if c == name {
			return true
		}
	}
	return false
}
