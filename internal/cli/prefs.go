package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jkoenig/syncwell/internal/client"
	"github.com/jkoenig/syncwell/internal/models"
	"github.com/spf13/cobra"
)

var (
	prefsWindowDays  int
	prefsCollections []string
	prefsNoBody      bool
	prefsNoAttendees bool
)

var prefsCmd = &cobra.Command{
	Use:   "prefs <provider>",
	Short: "Show sync preferences",
	Long: `Show the sync preferences for a provider.

Preferences are locked once the first sync for a provider completes; every
batch keeps its own snapshot of the preferences it ran with.

Examples:
  syncwell prefs mail
  syncwell prefs set mail --window-days 30 --collections inbox,sent
  syncwell prefs set calendar --no-attendees`,
	Args: cobra.ExactArgs(1),
	RunE: runPrefsShow,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <provider>",
	Short: "Update sync preferences",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsSet,
}

func init() {
	prefsSetCmd.Flags().IntVar(&prefsWindowDays, "window-days", 90, "how far back the first sync reaches")
	prefsSetCmd.Flags().StringSliceVar(&prefsCollections, "collections", nil, "folders or calendars to sync (empty = all)")
	prefsSetCmd.Flags().BoolVar(&prefsNoBody, "no-body", false, "skip message bodies")
	prefsSetCmd.Flags().BoolVar(&prefsNoAttendees, "no-attendees", false, "skip event attendees")

	prefsCmd.AddCommand(prefsSetCmd)
}

func runPrefsShow(cmd *cobra.Command, args []string) error {
	provider, err := parseProvider(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	prefs, err := apiClient.GetPreferences(ctx, userID, provider)
	if err != nil {
		return fmt.Errorf("get preferences: %w", err)
	}

	printPreferences(prefs)
	return nil
}

func runPrefsSet(cmd *cobra.Command, args []string) error {
	provider, err := parseProvider(args[0])
	if err != nil {
		return err
	}

	prefs := models.Preferences{
		UserID:           userID,
		Provider:         provider,
		WindowDays:       prefsWindowDays,
		Collections:      prefsCollections,
		IncludeBody:      !prefsNoBody,
		IncludeAttendees: !prefsNoAttendees,
	}

	ctx := context.Background()
	if err := apiClient.UpdatePreferences(ctx, prefs); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.IsConflict() {
			return fmt.Errorf("preferences for %s are locked: the first sync already completed", provider)
		}
		return fmt.Errorf("update preferences: %w", err)
	}

	fmt.Printf("Preferences saved for %s.\n", provider)
	printPreferences(&prefs)
	return nil
}

func printPreferences(p *models.Preferences) {
	collections := "all"
	if len(p.Collections) > 0 {
		collections = strings.Join(p.Collections, ", ")
	}

	fmt.Printf("Preferences (%s / %s):\n", p.UserID, p.Provider)
	fmt.Printf("  Window:      %d days\n", p.WindowDays)
	fmt.Printf("  Collections: %s\n", collections)
	fmt.Printf("  Body:        %v\n", p.IncludeBody)
	fmt.Printf("  Attendees:   %v\n", p.IncludeAttendees)
}
