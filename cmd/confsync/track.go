package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/codec"
	"github.com/confsync/confsync/internal/manifest"
	"github.com/confsync/confsync/internal/ui"
)

var (
	trackPath   string
	trackParent string
)

var trackCmd = &cobra.Command{
	Use:   "track <page-id>",
	Short: "Start tracking a remote page",
	Long: `Fetch a remote page, write it as a local markdown file, and add it to
the manifest. Subsequent 'confsync sync' runs keep the two in step.

The local path defaults to <title>.md in the sync root.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pageID := args[0]

		a, err := newApp(newLogger("[track] "))
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.store.GetPage(pageID); err == nil {
			return fmt.Errorf("page %s is already tracked", pageID)
		}

		remotePage, err := a.remote.GetPage(context.Background(), pageID, true)
		if err != nil {
			return fmt.Errorf("failed to fetch page %s: %w", pageID, err)
		}

		local, err := codec.NewMarkdown().ConvertToLocal(remotePage.Body)
		if err != nil {
			return fmt.Errorf("failed to convert page content: %w", err)
		}

		path := trackPath
		if path == "" {
			path = slugify(remotePage.Title) + ".md"
		}
		if _, err := a.files.Write(path, local); err != nil {
			return err
		}

		page := &manifest.Page{
			ID:          pageID,
			SpaceKey:    a.config.SpaceKey,
			Title:       remotePage.Title,
			Version:     remotePage.Version.Number,
			ParentID:    trackParent,
			LocalPath:   path,
			ContentHash: a.files.Hash(local),
			RemoteHash:  a.files.Hash(remotePage.Body),
			Status:      manifest.StatusSynced,
		}
		if err := a.store.UpdatePage(page); err != nil {
			return err
		}

		fmt.Printf("%s Tracking %s (v%d) at %s\n", ui.RenderPass("✓"), pageID, page.Version, path)
		return nil
	},
}

var untrackDeleteFile bool

var untrackCmd = &cobra.Command{
	Use:   "untrack <page-id>",
	Short: "Stop tracking a page",
	Long: `Remove a page from the manifest. The local file is kept unless
--delete-file is passed. The remote page is never touched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pageID := args[0]

		a, err := newLocalApp(newLogger("[untrack] "))
		if err != nil {
			return err
		}

		page, err := a.store.GetPage(pageID)
		if err != nil {
			return err
		}
		if err := a.store.RemovePage(pageID); err != nil {
			return err
		}

		if untrackDeleteFile {
			if err := os.Remove(a.files.Abs(page.LocalPath)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete local file: %w", err)
			}
			fmt.Printf("%s Untracked %s and deleted %s\n", ui.RenderPass("✓"), pageID, page.LocalPath)
			return nil
		}
		fmt.Printf("%s Untracked %s (kept %s)\n", ui.RenderPass("✓"), pageID, page.LocalPath)
		return nil
	},
}

// slugify turns a page title into a filesystem-friendly name.
func slugify(title string) string {
	out := make([]rune, 0, len(title))
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ', r == '-', r == '_':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "page"
	}
	return string(out)
}

func init() {
	trackCmd.Flags().StringVar(&trackPath, "path", "", "Local file path relative to the sync root")
	trackCmd.Flags().StringVar(&trackParent, "parent", "", "Parent page id for hierarchy queries")
	untrackCmd.Flags().BoolVar(&untrackDeleteFile, "delete-file", false, "Also delete the local file")
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(untrackCmd)
}
