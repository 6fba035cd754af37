// Package detect classifies tracked pages by comparing local and remote
// drift against the manifest baseline.
//
// Local and remote drift are independent axes: the local axis compares the
// current file hash to the stored contentHash, the remote axis compares
// the current remote version number to the stored version. A conflict is
// exactly "both axes moved since the last successful sync" - content is
// never diffed three-way.
package detect

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/confsync/confsync/internal/fileio"
	"github.com/confsync/confsync/internal/manifest"
	"github.com/confsync/confsync/internal/remote"
)

// State classifies one page's drift.
type State string

const (
	// Unchanged means neither side drifted from the baseline.
	Unchanged State = "unchanged"
	// LocalOnly means only the local file drifted.
	LocalOnly State = "local-only"
	// RemoteOnly means only the remote version drifted.
	RemoteOnly State = "remote-only"
	// BothChanged means both sides drifted; always treated as a conflict.
	BothChanged State = "both-changed"
)

// batchSize bounds concurrent remote version fetches during batch
// detection so a large manifest cannot flood the remote store.
const batchSize = 5

// Detector runs change classification for tracked pages.
type Detector struct {
	files  *fileio.Store
	remote remote.Store
	logger *log.Logger
}

// New creates a Detector. If logger is nil, a default stderr logger is used.
func New(files *fileio.Store, remoteStore remote.Store, logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.New(os.Stderr, "[detect] ", log.LstdFlags)
	}
	return &Detector{
		files:  files,
		remote: remoteStore,
		logger: logger,
	}
}

// DetectLocalChanges reports whether the local file drifted from the
// baseline contentHash. A missing local file is "no local change", not an
// error: deletions are handled by explicit user action, never inferred.
func (d *Detector) DetectLocalChanges(page *manifest.Page) (bool, error) {
	if !d.files.Exists(page.LocalPath) {
		return false, nil
	}
	hash, err := d.files.HashFile(page.LocalPath)
	if err != nil {
		return false, fmt.Errorf("failed to hash %s: %w", page.LocalPath, err)
	}
	return hash != page.ContentHash, nil
}

// DetectRemoteChanges reports whether the remote version drifted strictly
// past the baseline version. A missing remote page is conservatively
// "no remote change".
func (d *Detector) DetectRemoteChanges(ctx context.Context, page *manifest.Page) (bool, error) {
	remotePage, err := d.remote.GetPage(ctx, page.ID, false)
	if err != nil {
		if remote.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch remote version for page %s: %w", page.ID, err)
	}
	return remotePage.Version.Number > page.Version, nil
}

// GetChangeState runs both drift checks concurrently and classifies the
// page. The checks are independent; neither orders before the other.
func (d *Detector) GetChangeState(ctx context.Context, page *manifest.Page) (State, error) {
	type result struct {
		changed bool
		err     error
	}

	localCh := make(chan result, 1)
	remoteCh := make(chan result, 1)

	go func() {
		changed, err := d.DetectLocalChanges(page)
		localCh <- result{changed, err}
	}()
	go func() {
		changed, err := d.DetectRemoteChanges(ctx, page)
		remoteCh <- result{changed, err}
	}()

	local := <-localCh
	remoteRes := <-remoteCh

	if local.err != nil {
		return Unchanged, local.err
	}
	if remoteRes.err != nil {
		return Unchanged, remoteRes.err
	}

	switch {
	case local.changed && remoteRes.changed:
		return BothChanged, nil
	case local.changed:
		return LocalOnly, nil
	case remoteRes.changed:
		return RemoteOnly, nil
	default:
		return Unchanged, nil
	}
}

// DetectBatchChanges classifies many pages with bounded concurrency.
// A page whose checks fail degrades to Unchanged with a warning; one bad
// page never aborts the batch.
func (d *Detector) DetectBatchChanges(ctx context.Context, pages []*manifest.Page) map[string]State {
	states := make(map[string]State, len(pages))

	for start := 0; start < len(pages); start += batchSize {
		end := start + batchSize
		if end > len(pages) {
			end = len(pages)
		}

		type pageState struct {
			id    string
			state State
		}
		results := make(chan pageState, end-start)

		for _, page := range pages[start:end] {
			go func(p *manifest.Page) {
				state, err := d.GetChangeState(ctx, p)
				if err != nil {
					d.logger.Printf("Warning: change detection failed for page %s: %v", p.ID, err)
					state = Unchanged
				}
				results <- pageState{p.ID, state}
			}(page)
		}
		for range pages[start:end] {
			r := <-results
			states[r.id] = r.state
		}
	}
	return states
}
