// Package conflict confirms true conflicts against the manifest baseline,
// renders them for human inspection, and applies resolutions.
//
// A conflict exists only when BOTH hashes diverge from the baseline: the
// local file from the stored contentHash AND the remote content from the
// stored remoteHash. If either side still matches, whatever drifted can be
// synced normally and no conflict is reported.
package conflict

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/confsync/confsync/internal/fileio"
	"github.com/confsync/confsync/internal/manifest"
)

// Strategy selects how a confirmed conflict is resolved.
type Strategy string

const (
	// LocalFirst keeps the local edit as the accepted state.
	LocalFirst Strategy = "local-first"
	// RemoteFirst accepts the remote version, overwriting the local file.
	RemoteFirst Strategy = "remote-first"
	// Manual leaves the conflict-marker file as the resolution surface.
	Manual Strategy = "manual"
)

// ErrUnknownStrategy is returned for unrecognized resolution strategies.
var ErrUnknownStrategy = errors.New("unknown resolution strategy")

// Markers delimiting conflict sections in a conflict file.
const (
	markerLocal     = "<<<<<<< LOCAL"
	markerSeparator = "======="
	markerRemote    = ">>>>>>> REMOTE"
)

// Conflict describes a confirmed divergence on both sides of a page.
type Conflict struct {
	PageID     string
	LocalPath  string
	LocalHash  string
	RemoteHash string
	DetectedAt time.Time
}

// Resolver detects and resolves conflicts against the manifest.
type Resolver struct {
	store  *manifest.Store
	files  *fileio.Store
	logger *log.Logger
}

// NewResolver creates a Resolver. If logger is nil, a default stderr
// logger is used.
func NewResolver(store *manifest.Store, files *fileio.Store, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[conflict] ", log.LstdFlags)
	}
	return &Resolver{
		store:  store,
		files:  files,
		logger: logger,
	}
}

// DetectConflict checks a page's current hashes against the manifest
// baseline. It returns nil (no conflict) unless both sides diverged. On a
// confirmed conflict the page is marked conflicted in the manifest.
// An untracked id fails with manifest.ErrPageNotFound.
func (r *Resolver) DetectConflict(id, localHash, remoteHash string) (*Conflict, error) {
	page, err := r.store.GetPage(id)
	if err != nil {
		return nil, err
	}

	localDiverged := localHash != page.ContentHash
	remoteDiverged := remoteHash != page.RemoteHash
	if !localDiverged || !remoteDiverged {
		return nil, nil
	}

	if r.IsPreviouslyResolved(localHash, remoteHash, page.ResolutionHistory) {
		r.logger.Printf("Conflict on page %s already resolved for this hash pair, skipping", id)
		return nil, nil
	}

	page.Status = manifest.StatusConflicted
	if err := r.store.UpdatePage(page); err != nil {
		return nil, fmt.Errorf("failed to mark page %s conflicted: %w", id, err)
	}

	return &Conflict{
		PageID:     id,
		LocalPath:  page.LocalPath,
		LocalHash:  localHash,
		RemoteHash: remoteHash,
		DetectedAt: time.Now(),
	}, nil
}

// GenerateConflictMarkers renders both sides of a conflict into a single
// plain-text artifact with LOCAL and REMOTE sections. Each side's content
// is preserved verbatim, including newlines.
func GenerateConflictMarkers(local, remote, label string) string {
	remoteMarker := markerRemote
	if label != "" {
		remoteMarker = fmt.Sprintf("%s (%s)", markerRemote, label)
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n",
		markerLocal, local, markerSeparator, remote, remoteMarker)
}

// WriteConflictFile backs up the current file and overwrites it with the
// conflict-marker artifact.
func (r *Resolver) WriteConflictFile(path, local, remote string) error {
	if _, err := r.files.Backup(path); err != nil {
		return fmt.Errorf("failed to back up %s before writing conflict file: %w", path, err)
	}
	if _, err := r.files.Write(path, GenerateConflictMarkers(local, remote, "")); err != nil {
		return fmt.Errorf("failed to write conflict file %s: %w", path, err)
	}
	return nil
}

// ResolveConflict applies a resolution strategy to a conflicted page.
//
// Pages not currently marked conflicted are left untouched (logged no-op):
// resolving a conflict that no longer exists must not clobber state. On
// success the resolution is appended to the page's history, so the same
// hash pair is not re-flagged, and the status returns to synced.
func (r *Resolver) ResolveConflict(id string, strategy Strategy, localContent, remoteContent string) error {
	page, err := r.store.GetPage(id)
	if err != nil {
		return err
	}
	if page.Status != manifest.StatusConflicted {
		r.logger.Printf("Page %s is not conflicted (status %s), nothing to resolve", id, page.Status)
		return nil
	}
	switch strategy {
	case LocalFirst, RemoteFirst, Manual:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	// The hashes that were in conflict, for the history entry. When the
	// conflicting contents are provided they are hashed directly; the
	// baseline hashes are the fallback.
	conflictLocal := page.ContentHash
	if localContent != "" {
		conflictLocal = r.files.Hash(localContent)
	}
	conflictRemote := page.RemoteHash
	if remoteContent != "" {
		conflictRemote = r.files.Hash(remoteContent)
	}

	if _, err := r.files.Backup(page.LocalPath); err != nil {
		return fmt.Errorf("failed to back up %s: %w", page.LocalPath, err)
	}

	switch strategy {
	case LocalFirst:
		if _, err := r.files.Write(page.LocalPath, localContent); err != nil {
			return fmt.Errorf("failed to apply local-first resolution: %w", err)
		}
		page.ContentHash = r.files.Hash(localContent)
	case RemoteFirst:
		if _, err := r.files.Write(page.LocalPath, remoteContent); err != nil {
			return fmt.Errorf("failed to apply remote-first resolution: %w", err)
		}
		page.ContentHash = r.files.Hash(remoteContent)
		page.RemoteHash = r.files.Hash(remoteContent)
	case Manual:
		// The conflict-marker file, if present, stands as the resolution
		// surface. Nothing is written here.
	}

	page.ResolutionHistory = append(page.ResolutionHistory, manifest.Resolution{
		Timestamp:  time.Now().UTC(),
		Strategy:   string(strategy),
		LocalHash:  conflictLocal,
		RemoteHash: conflictRemote,
	})
	page.Status = manifest.StatusSynced

	if err := r.store.UpdatePage(page); err != nil {
		return fmt.Errorf("failed to record resolution for page %s: %w", id, err)
	}
	r.logger.Printf("Resolved conflict on page %s with strategy %s", id, strategy)
	return nil
}

// GetConflictedPages returns every tracked page currently marked
// conflicted.
func (r *Resolver) GetConflictedPages() ([]*manifest.Page, error) {
	all, err := r.store.GetAllPages()
	if err != nil {
		return nil, err
	}
	var conflicted []*manifest.Page
	for _, page := range all {
		if page.Status == manifest.StatusConflicted {
			conflicted = append(conflicted, page)
		}
	}
	return conflicted, nil
}

// IsPreviouslyResolved reports whether some history entry recorded exactly
// this (localHash, remoteHash) pair.
func (r *Resolver) IsPreviouslyResolved(localHash, remoteHash string, history []manifest.Resolution) bool {
	for _, entry := range history {
		if entry.LocalHash == localHash && entry.RemoteHash == remoteHash {
			return true
		}
	}
	return false
}
