// Package watch provides the file watcher that drives continuous sync.
//
// The watcher:
// 1. Watches the sync root (recursively) for markdown file changes
// 2. Collapses bursts of notifications into a pending-changes set
// 3. Triggers one sync pass per quiet debounce window, holding back
//    files that are still being written
// 4. Retries network-class failures with exponential backoff
// 5. Emits observable events for every milestone
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/confsync/confsync/internal/engine"
)

// EventType identifies a watcher milestone.
type EventType string

const (
	// EventChange is emitted for every normalized file notification.
	EventChange EventType = "change"
	// EventSyncStart is emitted when a sync pass begins.
	EventSyncStart EventType = "sync_start"
	// EventSyncComplete is emitted when a sync pass succeeds.
	EventSyncComplete EventType = "sync_complete"
	// EventSyncError is emitted when a sync pass fails terminally.
	EventSyncError EventType = "sync_error"
	// EventRetry is emitted before each backoff retry of a failed pass.
	EventRetry EventType = "retry"
)

// Event is one observable watcher milestone. Only the fields relevant to
// the Type are populated.
type Event struct {
	Type    EventType
	Path    string         // change
	Result  *engine.Result // sync_complete
	Err     error          // sync_error
	Attempt int            // retry, 1-based
}

// Syncer runs one sync pass; the sync engine implements it.
type Syncer interface {
	Sync(ctx context.Context, opts engine.Options) (*engine.Result, error)
}

// Config holds watcher tuning knobs.
type Config struct {
	// DebounceInterval is the quiet window after the last notification
	// before a sync pass fires.
	DebounceInterval time.Duration

	// StabilityWindow is the per-file settling time: a path stays out of
	// the sync batch until no notification has arrived for it within the
	// window, so half-written files from slow writers are not synced.
	StabilityWindow time.Duration

	// MaxRetries bounds attempts per failed sync pass (including the
	// first attempt).
	MaxRetries int

	// BaseDelay seeds the exponential backoff: baseDelay * 2^(attempt-1).
	BaseDelay time.Duration

	// Logger for watcher activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 1 * time.Second,
		StabilityWindow:  300 * time.Millisecond,
		MaxRetries:       3,
		BaseDelay:        1 * time.Second,
		Logger:           log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Watcher observes the sync root and triggers debounced sync passes.
type Watcher struct {
	root   string
	syncer Syncer
	config *Config

	watcher *fsnotify.Watcher
	events  chan Event

	pendingMu sync.Mutex
	pending   map[string]time.Time // path -> last notification
	debounce  *time.Timer

	syncMu  sync.Mutex
	syncing bool

	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	fire   chan struct{}
}

// New creates a Watcher over the given sync root. The watcher must be
// started with Start() before it emits events.
func New(root string, syncer Syncer, config *Config) (*Watcher, error) {
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	if config.StabilityWindow <= 0 {
		config.StabilityWindow = 300 * time.Millisecond
	}

	return &Watcher{
		root:   root,
		syncer: syncer,
		config: config,
	}, nil
}

// Events returns the channel of watcher milestones for the current run.
// It is only valid after Start; each Start creates a fresh channel, and
// Stop closes it.
func (w *Watcher) Events() <-chan Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start begins watching. It fails if the watcher is already active.
//
// The sync root and every subdirectory (except hidden ones) are added to
// the underlying fsnotify watcher; directories created later are added as
// their create events arrive.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	if err := w.addRecursive(w.root); err != nil {
		_ = watcher.Close()
		return err
	}

	// Fresh per-run state so a stopped watcher can start again.
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.events = make(chan Event, 100)
	w.fire = make(chan struct{}, 1)
	w.pendingMu.Lock()
	w.pending = make(map[string]time.Time)
	w.debounce = nil
	w.pendingMu.Unlock()

	w.running = true
	w.wg.Add(2)
	go w.eventLoop()
	go w.syncLoop()

	w.config.Logger.Printf("Watching %s (debounce %v)", w.root, w.config.DebounceInterval)
	return nil
}

// Stop cancels the debounce timer and any pending retry, closes the
// filesystem watch and the events channel, and clears pending changes.
// Safe to call when idle, and the watcher can be started again afterwards.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	// This run's state; a racing Start must not see it torn down twice.
	cancel, watcher, events := w.cancel, w.watcher, w.events
	w.mu.Unlock()

	cancel()

	w.pendingMu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	w.pending = make(map[string]time.Time)
	w.pendingMu.Unlock()

	if err := watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}

	w.wg.Wait()
	close(events)

	w.config.Logger.Println("Watcher stopped")
	return nil
}

// addRecursive registers dir and all non-hidden subdirectories.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != dir && strings.HasPrefix(name, ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// eventLoop normalizes fsnotify events into the pending set.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	// Only care about create, write, remove, rename
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// New subdirectories join the watch
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(event.Name), ".") {
				if err := w.watcher.Add(event.Name); err != nil {
					w.config.Logger.Printf("Failed to watch new directory %s: %v", event.Name, err)
				}
			}
			return
		}
	}

	if !isMarkdown(event.Name) {
		return
	}

	w.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
	w.queueChange(event.Name)
	w.emit(Event{Type: EventChange, Path: event.Name})
}

// queueChange adds a path to the pending set and re-arms the debounce
// timer. Duplicate notifications for the same path collapse into one
// entry holding the latest notification time.
func (w *Watcher) queueChange(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	w.pending[path] = time.Now()
	if w.debounce == nil {
		w.debounce = time.AfterFunc(w.config.DebounceInterval, w.onDebounce)
	} else {
		w.debounce.Reset(w.config.DebounceInterval)
	}
}

// onDebounce fires one sync trigger. If a sync is already in flight the
// fire is dropped; the pending set survives and the next real change
// re-arms the timer.
func (w *Watcher) onDebounce() {
	// A timer callback can straddle a Stop/Start cycle, so snapshot the
	// current run's state under the lock.
	w.mu.Lock()
	running, ctx, fire := w.running, w.ctx, w.fire
	w.mu.Unlock()
	if !running || ctx == nil || ctx.Err() != nil {
		return
	}
	w.syncMu.Lock()
	inFlight := w.syncing
	w.syncMu.Unlock()
	if inFlight {
		w.config.Logger.Println("Sync already in flight, dropping trigger")
		return
	}
	select {
	case fire <- struct{}{}:
	default:
	}
}

// syncLoop runs sync passes one at a time.
func (w *Watcher) syncLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.fire:
			w.runSync()
		}
	}
}

// runSync drains the pending set and runs one sync pass, retrying
// network-class failures with exponential backoff.
func (w *Watcher) runSync() {
	w.syncMu.Lock()
	w.syncing = true
	w.syncMu.Unlock()
	defer func() {
		w.syncMu.Lock()
		w.syncing = false
		w.syncMu.Unlock()
	}()

	batch := w.drainPending()
	if len(batch) == 0 {
		return
	}

	w.config.Logger.Printf("Syncing %d changed files", len(batch))
	w.emit(Event{Type: EventSyncStart})

	var result *engine.Result
	err := retry.Do(
		func() error {
			r, err := w.syncer.Sync(w.ctx, engine.Options{})
			if err != nil {
				return err
			}
			result = r
			return nil
		},
		retry.Context(w.ctx),
		retry.Attempts(uint(w.config.MaxRetries)),
		retry.Delay(w.config.BaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return IsNetworkError(err)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			// Failed batch goes back into the pending set before the
			// backoff delay elapses
			w.requeue(batch)
			w.config.Logger.Printf("Sync attempt %d failed (%v), retrying", attempt+1, err)
			w.emit(Event{Type: EventRetry, Attempt: int(attempt) + 1, Err: err})
		}),
	)
	if err != nil {
		if w.ctx.Err() != nil {
			return
		}
		w.config.Logger.Printf("Sync failed: %v", err)
		w.emit(Event{Type: EventSyncError, Err: err})
		return
	}

	// A retried batch was re-queued before each attempt; on success it is
	// settled, but changes that arrived mid-sync stay pending.
	w.unqueue(batch)

	w.config.Logger.Printf("Sync complete: %d pushed, %d pulled, %d conflicted",
		len(result.Pushed), len(result.Pulled), len(result.Conflicted))
	w.emit(Event{Type: EventSyncComplete, Result: result})
}

// drainPending takes the settled paths out of the pending set. Paths
// whose last notification is younger than the stability window stay
// pending, and the debounce timer is re-armed so they sync once quiet.
func (w *Watcher) drainPending() []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	now := time.Now()
	batch := make([]string, 0, len(w.pending))
	for path, last := range w.pending {
		if now.Sub(last) < w.config.StabilityWindow {
			continue
		}
		batch = append(batch, path)
		delete(w.pending, path)
	}
	if len(w.pending) > 0 && w.debounce != nil {
		w.debounce.Reset(w.config.StabilityWindow)
	}
	return batch
}

// requeue puts a failed batch back into the pending set. Paths touched
// again since the batch was drained keep their newer notification time.
func (w *Watcher) requeue(batch []string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	for _, path := range batch {
		if _, ok := w.pending[path]; !ok {
			w.pending[path] = time.Time{}
		}
	}
}

func (w *Watcher) unqueue(batch []string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	for _, path := range batch {
		delete(w.pending, path)
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.ctx.Done():
	}
}

func isMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

// networkErrorKeywords are message fragments that mark a failure as
// transient. API failures (auth, validation, not-found) never match and
// are surfaced without retry.
var networkErrorKeywords = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
}

// IsNetworkError classifies an error as network-class (retryable) by its
// message content.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, keyword := range networkErrorKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
