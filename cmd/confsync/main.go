// confsync keeps a local tree of markdown documents in sync with a
// Confluence space.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/confsync/confsync/internal/codec"
	"github.com/confsync/confsync/internal/config"
	"github.com/confsync/confsync/internal/conflict"
	"github.com/confsync/confsync/internal/detect"
	"github.com/confsync/confsync/internal/engine"
	"github.com/confsync/confsync/internal/fileio"
	"github.com/confsync/confsync/internal/history"
	"github.com/confsync/confsync/internal/manifest"
	"github.com/confsync/confsync/internal/remote"
)

var version = "dev"

var rootFlag string

var rootCmd = &cobra.Command{
	Use:   "confsync",
	Short: "Sync local markdown documents with Confluence",
	Long: `confsync keeps a local tree of markdown files in sync with pages in a
Confluence space.

State lives in .confsync/manifest.json inside the sync root. Run
'confsync init' once, then 'confsync sync' (or 'confsync watch' for
continuous mode).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "Sync root (default: nearest directory containing .confsync)")
}

// syncRoot resolves the sync root: the --root flag if given, else the
// nearest ancestor of the working directory containing a .confsync
// directory, else the working directory itself.
func syncRoot() string {
	if rootFlag != "" {
		return rootFlag
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	dir := cwd
	for {
		if info, err := os.Stat(filepath.Join(dir, manifest.DirName)); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd
		}
		dir = parent
	}
}

// app bundles the wired components for one sync root.
type app struct {
	root     string
	config   *config.Config
	store    *manifest.Store
	files    *fileio.Store
	remote   remote.Store
	detector *detect.Detector
	resolver *conflict.Resolver
	engine   *engine.Engine
	history  *history.DB
}

// newApp wires the full component graph for commands that talk to the
// remote. Commands that only read local state use newLocalApp.
func newApp(logger *log.Logger) (*app, error) {
	a, err := newLocalApp(logger)
	if err != nil {
		return nil, err
	}
	if err := a.config.Validate(); err != nil {
		return nil, err
	}

	a.remote = remote.NewConfluence(remote.ConfluenceConfig{
		BaseURL:  a.config.ConfluenceURL,
		Username: a.config.Username,
		APIToken: a.config.APIToken,
	})
	a.detector = detect.New(a.files, a.remote, logger)
	a.resolver = conflict.NewResolver(a.store, a.files, logger)

	hist, err := history.Open(filepath.Join(a.root, manifest.DirName, history.FileName))
	if err != nil {
		return nil, err
	}
	a.history = hist

	a.engine = engine.New(engine.Deps{
		Store:    a.store,
		Files:    a.files,
		Remote:   a.remote,
		Codec:    codec.NewMarkdown(),
		Detector: a.detector,
		History:  hist,
		Logger:   logger,
	})
	return a, nil
}

// newLocalApp wires only the local components (config, manifest, files).
func newLocalApp(logger *log.Logger) (*app, error) {
	root := syncRoot()
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	store := manifest.NewStore(root, logger)
	if _, err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	return &app{
		root:   root,
		config: cfg,
		store:  store,
		files:  fileio.NewStore(root),
	}, nil
}

func (a *app) close() {
	if a.history != nil {
		_ = a.history.Close()
	}
}

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

func (a *app) engineOptions(dryRun bool, space string) engine.Options {
	return engine.Options{
		DryRun:        dryRun,
		MaxConcurrent: a.config.MaxConcurrent,
		SpaceKey:      space,
	}
}
