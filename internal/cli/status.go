package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status per provider",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	view, err := apiClient.GetStatus(ctx, userID)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("Sync status for %s:\n\n", view.UserID)
	for _, p := range view.Providers {
		state := "not connected"
		switch {
		case p.Syncing:
			state = "syncing"
		case p.Connected:
			state = "idle"
		}
		fmt.Printf("%-10s %s\n", p.Provider, state)

		if p.LastSync != nil {
			fmt.Printf("  last sync: %s\n", p.LastSync.Format("2006-01-02 15:04"))
		}
		if verbose && p.Watermark != nil {
			fmt.Printf("  watermark: %s\n", *p.Watermark)
		}

		if p.LatestBatch != nil {
			b := p.LatestBatch
			fmt.Printf("  latest batch: %s [%s]\n", b.BatchID, b.State)
			for _, j := range b.Jobs {
				line := fmt.Sprintf("    %-10s %-10s %d items", j.Kind, j.Status, j.ProcessedItems)
				if j.ErroredItems > 0 {
					line += fmt.Sprintf(", %d errored", j.ErroredItems)
				}
				fmt.Println(line)
			}
		}
		fmt.Println()
	}

	return nil
}
