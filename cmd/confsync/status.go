package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/confsync/confsync/internal/manifest"
	"github.com/confsync/confsync/internal/ui"
)

var statusFormat string

// statusReport is the machine-readable status shape.
type statusReport struct {
	Root          string             `yaml:"root"`
	ConfluenceURL string             `yaml:"confluenceUrl,omitempty"`
	SyncMode      string             `yaml:"syncMode"`
	LastSyncTime  *time.Time         `yaml:"lastSyncTime,omitempty"`
	Pages         []statusPageReport `yaml:"pages"`
}

type statusPageReport struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	SpaceKey  string `yaml:"spaceKey"`
	LocalPath string `yaml:"localPath"`
	Version   int    `yaml:"version"`
	Status    string `yaml:"status"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked pages and their sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newLocalApp(newLogger("[status] "))
		if err != nil {
			return err
		}

		m, err := a.store.Manifest()
		if err != nil {
			return err
		}
		pages, err := a.store.GetAllPages()
		if err != nil {
			return err
		}

		switch statusFormat {
		case "yaml":
			return printStatusYAML(a.root, m, pages)
		case "text", "":
			printStatusText(a.root, m, pages)
			return nil
		default:
			return fmt.Errorf("unknown format %q (want text or yaml)", statusFormat)
		}
	},
}

func printStatusYAML(root string, m *manifest.Manifest, pages []*manifest.Page) error {
	report := statusReport{
		Root:          root,
		ConfluenceURL: m.ConfluenceURL,
		SyncMode:      m.SyncMode,
	}
	if !m.LastSyncTime.IsZero() {
		t := m.LastSyncTime
		report.LastSyncTime = &t
	}
	for _, page := range pages {
		report.Pages = append(report.Pages, statusPageReport{
			ID:        page.ID,
			Title:     page.Title,
			SpaceKey:  page.SpaceKey,
			LocalPath: page.LocalPath,
			Version:   page.Version,
			Status:    string(page.Status),
		})
	}
	return yaml.NewEncoder(os.Stdout).Encode(report)
}

func printStatusText(root string, m *manifest.Manifest, pages []*manifest.Page) {
	fmt.Printf("%s %s\n", ui.Title.Render("Sync root:"), root)
	if m.ConfluenceURL != "" {
		fmt.Printf("Remote: %s\n", m.ConfluenceURL)
	}
	if !m.LastSyncTime.IsZero() {
		fmt.Printf("Last sync: %s\n", m.LastSyncTime.Local().Format(time.RFC1123))
	}
	fmt.Println()

	if len(pages) == 0 {
		fmt.Println("No pages tracked yet.")
		return
	}

	for _, page := range pages {
		marker := ui.RenderPass("✓")
		switch page.Status {
		case manifest.StatusModified:
			marker = ui.RenderWarn("M")
		case manifest.StatusConflicted:
			marker = ui.RenderFail("C")
		}
		fmt.Printf("  %s %-14s v%-4d %s %s\n",
			marker, page.ID, page.Version, page.LocalPath, ui.RenderDim(page.Title))
	}
	fmt.Printf("\n%d pages tracked\n", len(pages))
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "Output format: text or yaml")
	rootCmd.AddCommand(statusCmd)
}
