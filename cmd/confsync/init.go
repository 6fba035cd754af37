package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/manifest"
	"github.com/confsync/confsync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sync root",
	Long: `Create the .confsync state directory with a fresh manifest and write a
starter .confsync.yaml config file.

Fill in confluence_url and space_key in the config, and put credentials in
.env (CONFSYNC_USERNAME, CONFSYNC_API_TOKEN) or the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := syncRoot()
		if rootFlag != "" {
			if err := os.MkdirAll(root, 0755); err != nil {
				return fmt.Errorf("failed to create sync root: %w", err)
			}
		}

		// Quiet logger: init's output is the summary below
		store := manifest.NewStore(root, log.New(io.Discard, "", 0))
		if _, err := store.Load(); err != nil {
			return fmt.Errorf("failed to create manifest: %w", err)
		}

		configPath, err := config.WriteStarter(root)
		if err != nil {
			fmt.Printf("%s %v\n", ui.RenderWarn("⚠"), err)
		} else {
			fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), configPath)
		}

		fmt.Printf("%s Initialized sync root at %s\n", ui.RenderPass("✓"), root)
		fmt.Printf("   Manifest: %s\n", store.Path())
		fmt.Println("\nNext steps:")
		fmt.Println("  1. Set confluence_url and space_key in .confsync.yaml")
		fmt.Println("  2. Put CONFSYNC_USERNAME and CONFSYNC_API_TOKEN in .env")
		fmt.Println("  3. Run 'confsync sync --dry-run'")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
