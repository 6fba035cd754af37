package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/codec"
	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/ui"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List pages with unresolved conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newLocalApp(newLogger("[conflicts] "))
		if err != nil {
			return err
		}
		resolver := conflict.NewResolver(a.store, a.files, newLogger("[conflicts] "))

		pages, err := resolver.GetConflictedPages()
		if err != nil {
			return err
		}
		if len(pages) == 0 {
			fmt.Printf("%s No conflicts\n", ui.RenderPass("✓"))
			return nil
		}

		fmt.Printf("%s %d conflicted pages:\n", ui.RenderWarn("⚡"), len(pages))
		for _, page := range pages {
			fmt.Printf("  %s  %s %s\n", page.ID, page.LocalPath, ui.RenderDim(page.Title))
		}
		fmt.Println("\nResolve with 'confsync resolve <page-id>'.")
		return nil
	},
}

var resolveStrategy string

var resolveCmd = &cobra.Command{
	Use:   "resolve <page-id>",
	Short: "Resolve a conflicted page",
	Long: `Apply a resolution strategy to a conflicted page:

  local-first   keep the local edit and mark it as the accepted state
  remote-first  overwrite the local file with the remote version
  manual        write a conflict-marker file to edit by hand

Without --strategy, an interactive picker is shown.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pageID := args[0]

		a, err := newApp(newLogger("[resolve] "))
		if err != nil {
			return err
		}
		defer a.close()

		page, err := a.store.GetPage(pageID)
		if err != nil {
			return err
		}

		strategy := conflict.Strategy(resolveStrategy)
		if resolveStrategy == "" {
			strategy, err = pickStrategy(page.LocalPath)
			if err != nil {
				return err
			}
		}

		localContent, err := a.files.Read(page.LocalPath)
		if err != nil {
			return fmt.Errorf("failed to read local file: %w", err)
		}

		remotePage, err := a.remote.GetPage(context.Background(), pageID, true)
		if err != nil {
			return fmt.Errorf("failed to fetch remote page: %w", err)
		}
		remoteContent, err := codec.NewMarkdown().ConvertToLocal(remotePage.Body)
		if err != nil {
			return fmt.Errorf("failed to convert remote content: %w", err)
		}

		resolver := conflict.NewResolver(a.store, a.files, newLogger("[resolve] "))

		if strategy == conflict.Manual {
			if err := resolver.WriteConflictFile(page.LocalPath, localContent, remoteContent); err != nil {
				return err
			}
			if err := resolver.ResolveConflict(pageID, strategy, localContent, remoteContent); err != nil {
				return err
			}
			fmt.Printf("%s Wrote conflict markers to %s. Edit the file, then push with 'confsync sync'\n",
				ui.RenderWarn("⚡"), page.LocalPath)
			return nil
		}

		if err := resolver.ResolveConflict(pageID, strategy, localContent, remoteContent); err != nil {
			return err
		}

		fmt.Printf("%s Resolved %s with %s\n", ui.RenderPass("✓"), pageID, strategy)
		return nil
	},
}

// pickStrategy shows an interactive strategy picker.
func pickStrategy(path string) (conflict.Strategy, error) {
	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Resolve conflict in %s", path)).
			Options(
				huh.NewOption("Keep local edit (local-first)", string(conflict.LocalFirst)),
				huh.NewOption("Take remote version (remote-first)", string(conflict.RemoteFirst)),
				huh.NewOption("Edit by hand (manual markers)", string(conflict.Manual)),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("resolution cancelled: %w", err)
	}
	return conflict.Strategy(choice), nil
}

func init() {
	resolveCmd.Flags().StringVar(&resolveStrategy, "strategy", "", "Resolution strategy: local-first, remote-first, or manual")
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)
}
