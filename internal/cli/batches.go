package cli

import (
	"context"
	"fmt"

	"github.com/jkoenig/syncwell/internal/models"
	"github.com/spf13/cobra"
)

var (
	batchesProvider string
	batchesLimit    int
)

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List recent sync batches",
	Long: `List a user's recent sync batches, newest first.

Examples:
  syncwell batches
  syncwell batches --provider mail --limit 5`,
	RunE: runBatches,
}

func init() {
	batchesCmd.Flags().StringVarP(&batchesProvider, "provider", "p", "", "filter by provider")
	batchesCmd.Flags().IntVarP(&batchesLimit, "limit", "n", 20, "max results")
}

func runBatches(cmd *cobra.Command, args []string) error {
	var provider models.Provider
	if batchesProvider != "" {
		p, err := parseProvider(batchesProvider)
		if err != nil {
			return err
		}
		provider = p
	}

	ctx := context.Background()
	views, err := apiClient.ListBatches(ctx, userID, provider, batchesLimit)
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}

	if len(views) == 0 {
		fmt.Println("No batches found.")
		return nil
	}

	fmt.Printf("Batches (%d):\n\n", len(views))
	fmt.Printf("%-10s %-22s %-17s %s\n", "BATCH", "STATE", "CREATED", "PROGRESS")
	for _, b := range views {
		processed, errored := 0, 0
		for _, j := range b.Jobs {
			processed += j.ProcessedItems
			errored += j.ErroredItems
		}

		progress := fmt.Sprintf("%d items", processed)
		if errored > 0 {
			progress += fmt.Sprintf(", %d errored", errored)
		}
		if b.RetryOf != nil {
			progress += fmt.Sprintf(" (retry of %s)", *b.RetryOf)
		}

		fmt.Printf("%-10s %-22s %-17s %s\n",
			b.BatchID, b.State, b.CreatedAt.Format("2006-01-02 15:04"), progress)
	}

	return nil
}
