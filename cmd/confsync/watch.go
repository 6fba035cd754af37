package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/confsync/confsync/internal/dashboard"
	"github.com/confsync/confsync/internal/ui"
	"github.com/confsync/confsync/internal/watch"
)

var watchDashboardPort int

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the sync root and sync continuously",
	Long: `Watch the sync root for markdown changes and run sync passes
automatically. Bursts of edits are debounced into one pass; transient
network failures are retried with exponential backoff.

With --dashboard, a WebSocket server broadcasts live sync events
(ws://localhost:<port>/ws).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger("[watch] ")

		a, err := newApp(logger)
		if err != nil {
			return err
		}
		defer a.close()

		// Long-running mode logs through a rotating file when configured
		if a.config.LogFile != "" {
			logPath := a.config.LogFile
			if !filepath.IsAbs(logPath) {
				logPath = filepath.Join(a.root, logPath)
			}
			rotator := &lumberjack.Logger{
				Filename:   logPath,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     30, // days
			}
			logger.SetOutput(io.MultiWriter(os.Stderr, rotator))
		}

		if err := a.store.SetSyncMode("watch"); err != nil {
			return err
		}
		defer func() {
			_ = a.store.SetSyncMode("manual")
		}()

		watcher, err := watch.New(a.root, a.engine, &watch.Config{
			DebounceInterval: a.config.Debounce(),
			MaxRetries:       a.config.MaxRetries,
			BaseDelay:        a.config.RetryBaseDelay(),
			Logger:           logger,
		})
		if err != nil {
			return err
		}

		var dash *dashboard.Server
		if watchDashboardPort > 0 {
			dash = dashboard.NewServer(&dashboard.Config{
				Port:   watchDashboardPort,
				Logger: log.New(logger.Writer(), "[dashboard] ", log.LstdFlags),
			})
			if err := dash.Start(); err != nil {
				return err
			}
			defer func() {
				_ = dash.Stop()
			}()
			fmt.Printf("%s Dashboard: http://localhost:%d (ws://localhost:%d/ws)\n",
				ui.RenderAccent("▣"), watchDashboardPort, watchDashboardPort)
		}

		if err := watcher.Start(); err != nil {
			return err
		}

		fmt.Printf("%s Watching %s (press Ctrl+C to stop)\n", ui.RenderPass("✓"), a.root)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range watcher.Events() {
				printWatchEvent(ev)
				if dash != nil {
					dash.PublishWatchEvent(ev)
				}
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nStopping...")
		if err := watcher.Stop(); err != nil {
			return err
		}
		<-done
		return nil
	},
}

func printWatchEvent(ev watch.Event) {
	switch ev.Type {
	case watch.EventChange:
		fmt.Printf("%s %s\n", ui.RenderDim("changed"), ev.Path)
	case watch.EventSyncStart:
		fmt.Printf("%s syncing...\n", ui.RenderAccent("↻"))
	case watch.EventSyncComplete:
		r := ev.Result
		fmt.Printf("%s %d pushed, %d pulled, %d conflicted\n",
			ui.RenderPass("✓"), len(r.Pushed), len(r.Pulled), len(r.Conflicted))
	case watch.EventSyncError:
		fmt.Printf("%s sync failed: %v\n", ui.RenderFail("✗"), ev.Err)
	case watch.EventRetry:
		fmt.Printf("%s retry attempt %d\n", ui.RenderWarn("↻"), ev.Attempt)
	}
}

func init() {
	watchCmd.Flags().IntVar(&watchDashboardPort, "dashboard", 0, "Serve the live dashboard on this port (0 disables)")
	rootCmd.AddCommand(watchCmd)
}
