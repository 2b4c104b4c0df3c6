package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jkoenig/syncwell/internal/client"
	"github.com/spf13/cobra"
)

var (
	retryNoWatch bool
	retryDrive   bool
)

var retryCmd = &cobra.Command{
	Use:   "retry <batch-id>",
	Short: "Retry a batch's failed items",
	Long: `Create a retry batch scoped to the failed items of a terminal batch.

The retry starts at the earliest pipeline stage that failed; stages before
it are skipped. A batch that failed during import is re-imported in full.

Examples:
  syncwell retry 3fa21c90
  syncwell retry 3fa21c90 --no-watch`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().BoolVar(&retryNoWatch, "no-watch", false, "start the retry and return immediately")
	retryCmd.Flags().BoolVar(&retryDrive, "drive", false, "advance the pipeline from this process instead of waiting for the server runner")
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	result, err := apiClient.RetryFailed(ctx, args[0])
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.IsConflict() {
			return fmt.Errorf("batch %s is still active or its provider is already syncing", args[0])
		}
		return fmt.Errorf("retry batch: %w", err)
	}

	if result.ItemCount > 0 {
		fmt.Printf("Started retry batch %s from the %s stage (%d items).\n",
			result.BatchID, result.From, result.ItemCount)
	} else {
		fmt.Printf("Started retry batch %s with a full re-import.\n", result.BatchID)
	}

	if retryNoWatch {
		return nil
	}
	return RunBatchProgress(apiClient, result.BatchID, retryDrive)
}
