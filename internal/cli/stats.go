package cli

import (
	"context"
	"fmt"

	"github.com/jkoenig/syncwell/internal/metrics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server runtime statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	snap, err := apiClient.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}

	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", snap.UptimeSeconds)

	if snap.ProviderFetch != nil {
		fmt.Printf("\nProvider Fetch:\n")
		printOpStats(snap.ProviderFetch)
	}

	if snap.Normalize != nil {
		fmt.Printf("\nNormalize:\n")
		printOpStats(snap.Normalize)
	}

	if snap.Extract != nil {
		fmt.Printf("\nExtract:\n")
		printOpStats(snap.Extract)
	}

	if snap.Embed != nil {
		fmt.Printf("\nEmbed:\n")
		printOpStats(snap.Embed)
	}

	if snap.LLMExtract != nil {
		fmt.Printf("\nLLM Extract:\n")
		printOpStats(snap.LLMExtract)
		printTokenStats(snap.LLMExtract)
	}

	if snap.DBQuery != nil {
		fmt.Printf("\nDB Query:\n")
		printOpStats(snap.DBQuery)
	}

	return nil
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Printf("  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgInputTokens)
	}
	if op.MinInputTokens != nil && op.MaxInputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinInputTokens, *op.MaxInputTokens)
	}
	fmt.Println()

	fmt.Printf("  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgOutputTokens)
	}
	if op.MinOutputTokens != nil && op.MaxOutputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinOutputTokens, *op.MaxOutputTokens)
	}
	fmt.Println()
}
