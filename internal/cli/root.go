// Package cli provides the command-line interface for syncwell.
package cli

import (
	"fmt"
	"os"

	"github.com/jkoenig/syncwell/internal/client"
	"github.com/jkoenig/syncwell/internal/models"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string
	userID    string

	// API client, created before any command runs
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "syncwell",
	Short: "Personal data sync pipeline",
	Long: `Syncwell pulls mail and calendar data from linked providers and runs it
through an import, normalize, extract, and embed pipeline.

Link a provider, tune your sync preferences, then start a sync and watch
its batch progress stage by stage.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip client setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		if userID == "" {
			userID = os.Getenv("SYNCWELL_USER")
		}
		if userID == "" {
			return fmt.Errorf("no user set: pass --user or set SYNCWELL_USER")
		}

		apiClient = client.New(serverURL)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $SYNCWELL_SERVER_URL or http://localhost:8720)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user ID (default $SYNCWELL_USER)")

	// Add subcommands
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(batchesCmd)
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(statsCmd)
}

// parseProvider validates a provider argument.
func parseProvider(arg string) (models.Provider, error) {
	p := models.Provider(arg)
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q (expected mail or calendar)", arg)
	}
	return p, nil
}
