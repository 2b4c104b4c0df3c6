package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var runUntilIdle bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one pass of pending jobs",
	Long: `Ask the server to run one pass of pending pipeline jobs.

Each pass processes at most one page per eligible job, so long imports
need many passes. With --until-idle the command keeps running passes
until no job makes progress.

Examples:
  syncwell run
  syncwell run --until-idle`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runUntilIdle, "until-idle", false, "keep running passes until nothing is pending")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	total := 0
	for {
		ran, err := apiClient.Run(ctx)
		if err != nil {
			return fmt.Errorf("run pending jobs: %w", err)
		}
		total += ran

		if verbose {
			fmt.Printf("pass ran %d job(s)\n", ran)
		}
		if !runUntilIdle || ran == 0 {
			break
		}
	}

	if total == 0 {
		fmt.Println("Nothing to run.")
	} else {
		fmt.Printf("Ran %d job pass(es).\n", total)
	}
	return nil
}
