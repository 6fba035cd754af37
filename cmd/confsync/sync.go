package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/engine"
	"github.com/confsync/confsync/internal/ui"
)

var (
	syncDryRun bool
	syncSpace  string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization pass",
	Long: `Classify every tracked page, push local edits, pull remote edits, and
report conflicts.

With --dry-run, nothing is pushed, pulled, or recorded; the output lists
what a real run would do.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(newLogger("[sync] "))
		if err != nil {
			return err
		}
		defer a.close()

		start := time.Now()
		result, err := a.engine.Sync(context.Background(), a.engineOptions(syncDryRun, syncSpace))
		if err != nil {
			return err
		}

		printResult(result, time.Since(start))
		if result.Failed() {
			return fmt.Errorf("%d pages failed to sync", len(result.Errors))
		}
		return nil
	},
}

func printResult(result *engine.Result, elapsed time.Duration) {
	mode := ""
	if result.DryRun {
		mode = ui.RenderWarn(" (dry run)")
	}
	fmt.Printf("%s Sync complete in %v%s\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond), mode)

	for _, path := range result.Pushed {
		fmt.Printf("   %s %s\n", ui.RenderAccent("↑ pushed"), path)
	}
	for _, id := range result.Pulled {
		fmt.Printf("   %s %s\n", ui.RenderAccent("↓ pulled"), id)
	}
	for _, path := range result.Conflicted {
		fmt.Printf("   %s %s\n", ui.RenderWarn("⚡ conflict"), path)
	}
	fmt.Printf("   %s\n", ui.RenderDim(fmt.Sprintf("%d unchanged", len(result.Unchanged))))

	for _, syncErr := range result.Errors {
		fmt.Printf("   %s %v\n", ui.RenderFail("✗"), syncErr)
	}
	if len(result.Conflicted) > 0 {
		fmt.Println("\nRun 'confsync conflicts' to inspect, 'confsync resolve <page-id>' to resolve.")
	}
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Preview without modifying anything")
	syncCmd.Flags().StringVar(&syncSpace, "space", "", "Restrict the run to one space key")
	rootCmd.AddCommand(syncCmd)
}
