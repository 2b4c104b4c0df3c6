package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jkoenig/syncwell/internal/client"
	"github.com/spf13/cobra"
)

var (
	syncNoWatch bool
	syncDrive   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync <provider>",
	Short: "Start a sync batch",
	Long: `Start a sync batch for a linked provider and watch its progress.

The first sync imports everything inside the preference window; later syncs
pick up where the committed watermark left off.

Examples:
  syncwell sync mail
  syncwell sync calendar --no-watch
  syncwell sync mail --drive`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncNoWatch, "no-watch", false, "start the batch and return immediately")
	syncCmd.Flags().BoolVar(&syncDrive, "drive", false, "advance the pipeline from this process instead of waiting for the server runner")
}

func runSync(cmd *cobra.Command, args []string) error {
	provider, err := parseProvider(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	batchID, err := apiClient.StartSync(ctx, userID, provider)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.IsConflict() {
			return fmt.Errorf("a sync for %s is already in progress", provider)
		}
		return fmt.Errorf("start sync: %w", err)
	}

	if syncNoWatch {
		fmt.Printf("Started batch %s.\n", batchID)
		fmt.Printf("Use 'syncwell batches' to check on it.\n")
		return nil
	}

	fmt.Printf("Started batch %s.\n", batchID)
	return RunBatchProgress(apiClient, batchID, syncDrive)
}
