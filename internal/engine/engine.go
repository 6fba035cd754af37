// Package engine orchestrates synchronization runs between the local
// document tree and the remote store.
//
// One Sync call classifies every tracked page into four buckets
// (local-only, remote-only, conflicted, unchanged), pushes local edits,
// pulls remote edits, reports conflicts without touching them, and
// persists updated baselines to the manifest. Individual page failures
// are contained in the run's error list; only classification-level
// failures abort a run.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/confsync/confsync/internal/codec"
	"github.com/confsync/confsync/internal/detect"
	"github.com/confsync/confsync/internal/fileio"
	"github.com/confsync/confsync/internal/manifest"
	"github.com/confsync/confsync/internal/remote"
)

// DefaultMaxConcurrent bounds in-flight remote operations per phase when
// the caller does not configure a limit.
const DefaultMaxConcurrent = 3

// Options configures one sync run.
type Options struct {
	// DryRun previews the run: nothing is pushed, pulled, or persisted,
	// but the result lists what would have been.
	DryRun bool

	// MaxConcurrent bounds in-flight remote operations per phase.
	MaxConcurrent int

	// SpaceKey restricts the run to one space when non-empty.
	SpaceKey string
}

// SyncError is one contained per-page failure from a push or pull task.
type SyncError struct {
	PageID string
	Path   string
	Op     string // "push" or "pull"
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s failed for page %s (%s): %v", e.Op, e.PageID, e.Path, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Result summarizes one sync run.
type Result struct {
	OperationID string
	DryRun      bool

	// Pushed holds local paths whose content was uploaded.
	Pushed []string
	// Pulled holds page ids whose content was downloaded.
	Pulled []string
	// Conflicted holds local paths needing conflict resolution.
	Conflicted []string
	// Unchanged holds local paths with no drift on either side.
	Unchanged []string

	Errors []*SyncError

	StartedAt   time.Time
	CompletedAt time.Time
}

// Failed reports whether any per-page errors were collected.
func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}

// Recorder receives the finished operation record; the sqlite history
// cache implements it.
type Recorder interface {
	Record(op manifest.Operation) error
}

// Deps holds the engine's explicitly injected collaborators. There are no
// package-level singletons: every Engine instance is independent, one per
// sync root.
type Deps struct {
	Store    *manifest.Store
	Files    *fileio.Store
	Remote   remote.Store
	Codec    codec.Codec
	Detector *detect.Detector

	// History is optional; when set, finished operations are mirrored
	// into the query cache.
	History Recorder

	Logger *log.Logger
}

// Engine runs synchronization sweeps.
type Engine struct {
	store    *manifest.Store
	files    *fileio.Store
	remote   remote.Store
	codec    codec.Codec
	detector *detect.Detector
	history  Recorder
	logger   *log.Logger
}

// New creates an Engine from its collaborators. If Deps.Logger is nil, a
// default stderr logger is used.
func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		store:    deps.Store,
		files:    deps.Files,
		remote:   deps.Remote,
		codec:    deps.Codec,
		detector: deps.Detector,
		history:  deps.History,
		logger:   logger,
	}
}

// Sync performs one full synchronization sweep over the tracked pages.
//
// Classification failures (an unreadable manifest) abort the run and are
// returned as the error. Per-page push/pull failures are collected into
// Result.Errors; the run completes with operation status "failed" but the
// other pages are unaffected.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Result, error) {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}

	op := manifest.Operation{
		ID:        uuid.NewString(),
		Type:      "sync",
		Status:    manifest.OperationInProgress,
		StartedAt: time.Now().UTC(),
	}
	result := &Result{
		OperationID: op.ID,
		DryRun:      opts.DryRun,
		StartedAt:   op.StartedAt,
	}

	pages, err := e.selectPages(opts.SpaceKey)
	if err != nil {
		return nil, fmt.Errorf("sync aborted, failed to load tracked pages: %w", err)
	}
	e.logger.Printf("Starting sync of %d pages (dry-run=%v, max-concurrent=%d)",
		len(pages), opts.DryRun, opts.MaxConcurrent)

	states := e.detector.DetectBatchChanges(ctx, pages)

	var toPush, toPull []*manifest.Page
	for _, page := range pages {
		switch states[page.ID] {
		case detect.LocalOnly:
			toPush = append(toPush, page)
		case detect.RemoteOnly:
			toPull = append(toPull, page)
		case detect.BothChanged:
			// Both sides moved: always a conflict, never an inline
			// merge attempt. Nothing is mutated here; the conflict
			// resolver owns the next step.
			result.Conflicted = append(result.Conflicted, page.LocalPath)
		default:
			result.Unchanged = append(result.Unchanged, page.LocalPath)
		}
	}

	e.pushAll(ctx, toPush, opts, result)
	e.pullAll(ctx, toPull, opts, result)

	sort.Strings(result.Pushed)
	sort.Strings(result.Pulled)
	sort.Strings(result.Conflicted)
	sort.Strings(result.Unchanged)

	op.CompletedAt = timePtr(time.Now().UTC())
	op.Pushed = len(result.Pushed)
	op.Pulled = len(result.Pulled)
	op.Conflicted = len(result.Conflicted)
	op.Errors = len(result.Errors)
	if result.Failed() {
		op.Status = manifest.OperationFailed
	} else {
		op.Status = manifest.OperationCompleted
	}
	result.CompletedAt = *op.CompletedAt

	if !opts.DryRun {
		if err := e.store.RecordOperation(op); err != nil {
			e.logger.Printf("Warning: failed to record operation: %v", err)
		}
		if e.history != nil {
			if err := e.history.Record(op); err != nil {
				e.logger.Printf("Warning: failed to record operation in history cache: %v", err)
			}
		}
	}

	e.logger.Printf("Sync %s: %d pushed, %d pulled, %d conflicted, %d unchanged, %d errors",
		op.Status, op.Pushed, op.Pulled, op.Conflicted, len(result.Unchanged), op.Errors)
	return result, nil
}

func (e *Engine) selectPages(spaceKey string) ([]*manifest.Page, error) {
	if spaceKey != "" {
		return e.store.GetPagesBySpace(spaceKey)
	}
	return e.store.GetAllPages()
}

// pushAll uploads local-only pages with bounded concurrency. Every task
// settles (success or contained failure) before the phase returns.
func (e *Engine) pushAll(ctx context.Context, pages []*manifest.Page, opts Options, result *Result) {
	if opts.DryRun {
		for _, page := range pages {
			result.Pushed = append(result.Pushed, page.LocalPath)
		}
		return
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, opts.MaxConcurrent)
	)
	for _, page := range pages {
		wg.Add(1)
		go func(p *manifest.Page) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := e.pushPage(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, &SyncError{
					PageID: p.ID, Path: p.LocalPath, Op: "push", Err: err,
				})
				return
			}
			result.Pushed = append(result.Pushed, p.LocalPath)
		}(page)
	}
	wg.Wait()
}

// pushPage uploads one page and advances its manifest baseline.
func (e *Engine) pushPage(ctx context.Context, page *manifest.Page) error {
	content, err := e.files.Read(page.LocalPath)
	if err != nil {
		return err
	}
	body, err := e.codec.ConvertToRemote(content)
	if err != nil {
		return fmt.Errorf("content conversion failed: %w", err)
	}

	updated, err := e.remote.UpdatePage(ctx, page.ID, body, page.Version+1, page.Title)
	if err != nil {
		return err
	}

	page.Version = updated.Version.Number
	page.ContentHash = e.files.Hash(content)
	page.RemoteHash = e.files.Hash(body)
	page.Status = manifest.StatusSynced
	if err := e.store.UpdatePage(page); err != nil {
		return fmt.Errorf("pushed but failed to update manifest: %w", err)
	}

	e.logger.Printf("Pushed %s (page %s, now v%d)", page.LocalPath, page.ID, page.Version)
	return nil
}

// pullAll downloads remote-only pages with bounded concurrency.
func (e *Engine) pullAll(ctx context.Context, pages []*manifest.Page, opts Options, result *Result) {
	if opts.DryRun {
		for _, page := range pages {
			result.Pulled = append(result.Pulled, page.ID)
		}
		return
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, opts.MaxConcurrent)
	)
	for _, page := range pages {
		wg.Add(1)
		go func(p *manifest.Page) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := e.pullPage(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, &SyncError{
					PageID: p.ID, Path: p.LocalPath, Op: "pull", Err: err,
				})
				return
			}
			result.Pulled = append(result.Pulled, p.ID)
		}(page)
	}
	wg.Wait()
}

// pullPage downloads one page, backs up the local file, writes the new
// content, and advances both baselines.
func (e *Engine) pullPage(ctx context.Context, page *manifest.Page) error {
	remotePage, err := e.remote.GetPage(ctx, page.ID, true)
	if err != nil {
		return err
	}

	local, err := e.codec.ConvertToLocal(remotePage.Body)
	if err != nil {
		return fmt.Errorf("content conversion failed: %w", err)
	}

	if _, err := e.files.Backup(page.LocalPath); err != nil {
		return err
	}
	if _, err := e.files.Write(page.LocalPath, local); err != nil {
		return err
	}

	page.Version = remotePage.Version.Number
	page.ContentHash = e.files.Hash(local)
	page.RemoteHash = e.files.Hash(remotePage.Body)
	if remotePage.Title != "" {
		page.Title = remotePage.Title
	}
	page.Status = manifest.StatusSynced
	if err := e.store.UpdatePage(page); err != nil {
		return fmt.Errorf("pulled but failed to update manifest: %w", err)
	}

	e.logger.Printf("Pulled page %s into %s (v%d)", page.ID, page.LocalPath, page.Version)
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
