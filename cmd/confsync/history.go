package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/history"
	"github.com/confsync/confsync/internal/manifest"
	"github.com/confsync/confsync/internal/ui"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past sync operations",
	Long: `List recorded sync operations, newest first.

History is served from the local query cache (.confsync/history.db). The
manifest keeps only a bounded window of recent operations; the cache keeps
everything until pruned.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := syncRoot()
		dbPath := filepath.Join(root, manifest.DirName, history.FileName)
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			fmt.Printf("%s No history yet - run 'confsync sync' first\n", ui.RenderWarn("⚠"))
			return nil
		}

		db, err := history.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		ops, err := db.List(ctx, historyLimit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			marker := ui.RenderPass("✓")
			if op.Status == manifest.OperationFailed {
				marker = ui.RenderFail("✗")
			}
			duration := ""
			if op.CompletedAt != nil {
				duration = op.CompletedAt.Sub(op.StartedAt).Round(time.Millisecond).String()
			}
			fmt.Printf("  %s %s  %s  ↑%d ↓%d ⚡%d !%d  %s\n",
				marker,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.ID[:8],
				op.Pushed, op.Pulled, op.Conflicted, op.Errors,
				ui.RenderDim(duration))
		}

		stats, err := db.GetStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("\n%d runs (%d completed, %d failed): %d pushed, %d pulled, %d conflicts\n",
			stats.Total, stats.Completed, stats.Failed, stats.Pushed, stats.Pulled, stats.Conflicted)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum operations to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}
