package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jkoenig/syncwell/internal/models"
)

// AccountService manages provider connections and sync preferences.
type AccountService struct {
	store Store
}

// NewAccountService creates an account service.
func NewAccountService(store Store) *AccountService {
	return &AccountService{store: store}
}

// Connect links a provider account with the granted scopes.
func (a *AccountService) Connect(ctx context.Context, userID string, provider models.Provider, scopes []string) error {
	if !provider.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidProvider, provider)
	}
	return a.store.UpsertConnection(ctx, models.Connection{
		UserID:      userID,
		Provider:    provider,
		Connected:   true,
		Scopes:      scopes,
		ConnectedAt: time.Now().UTC(),
	})
}

// Disconnect unlinks a provider account. Imported data stays; the next
// StartSync for the provider fails with ErrNotConnected.
func (a *AccountService) Disconnect(ctx context.Context, userID string, provider models.Provider) error {
	if !provider.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidProvider, provider)
	}
	return a.store.UpsertConnection(ctx, models.Connection{
		UserID:    userID,
		Provider:  provider,
		Connected: false,
	})
}

// ListConnections returns every provider connection a user has.
func (a *AccountService) ListConnections(ctx context.Context, userID string) ([]models.Connection, error) {
	return a.store.ListConnections(ctx, userID)
}

// GetPreferences returns the stored preferences, or the defaults when the
// user never saved any.
func (a *AccountService) GetPreferences(ctx context.Context, userID string, provider models.Provider) (*models.Preferences, error) {
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProvider, provider)
	}
	prefs, err := a.store.GetPreferences(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	if prefs == nil {
		defaults := models.DefaultPreferences(userID, provider)
		return &defaults, nil
	}
	return prefs, nil
}

// UpdatePreferences saves new preferences for a provider. Once the first
// batch for the pair completed, the preferences are frozen and edits fail
// with ErrPreferencesLocked. Running batches are unaffected either way;
// they use their own snapshot.
func (a *AccountService) UpdatePreferences(ctx context.Context, prefs models.Preferences) error {
	if !prefs.Provider.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidProvider, prefs.Provider)
	}
	if prefs.WindowDays <= 0 {
		prefs.WindowDays = 90
	}

	locked, err := a.preferencesLocked(ctx, prefs.UserID, prefs.Provider)
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("%w: user %s provider %s", ErrPreferencesLocked, prefs.UserID, prefs.Provider)
	}

	return a.store.UpsertPreferences(ctx, prefs)
}

// preferencesLocked reports whether any batch for the pair already
// completed. A committed watermark is the cheap signal; batches whose
// Import failed never commit one, so those do not lock.
func (a *AccountService) preferencesLocked(ctx context.Context, userID string, provider models.Provider) (bool, error) {
	state, err := a.store.GetSyncState(ctx, userID, provider)
	if err != nil {
		return false, fmt.Errorf("load sync state: %w", err)
	}
	if state != nil && state.Watermark != nil {
		return true, nil
	}

	// Retry batches complete without committing a watermark; scan recent
	// batches to cover them.
	batches, err := a.store.ListBatches(ctx, userID, &provider, 20)
	if err != nil {
		return false, fmt.Errorf("list batches: %w", err)
	}
	for i := range batches {
		jobs, err := a.store.GetJobs(ctx, models.MustRecordIDString(batches[i].ID))
		if err != nil {
			return false, fmt.Errorf("load jobs: %w", err)
		}
		switch models.DeriveBatchState(jobs) {
		case models.BatchCompleted, models.BatchCompletedWithErrors:
			return true, nil
		}
	}
	return false, nil
}
