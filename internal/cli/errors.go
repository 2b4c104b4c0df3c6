package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var errorsCmd = &cobra.Command{
	Use:   "errors <batch-id>",
	Short: "Show a batch's error summary",
	Long: `Show the failure counts of a batch, grouped by reason.

Examples:
  syncwell errors 3fa21c90
  syncwell retry 3fa21c90`,
	Args: cobra.ExactArgs(1),
	RunE: runErrors,
}

func runErrors(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	summary, err := apiClient.GetBatchErrors(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get error summary: %w", err)
	}

	fmt.Printf("Batch %s [%s]\n", summary.BatchID, summary.State)
	if summary.Count == 0 {
		fmt.Println("No errors recorded.")
		return nil
	}

	fmt.Printf("Errors (%d):\n", summary.Count)
	for reason, count := range summary.Reasons {
		fmt.Printf("  %-20s %d\n", reason, count)
	}
	fmt.Printf("\nUse 'syncwell retry %s' to retry the failed items.\n", summary.BatchID)

	return nil
}
