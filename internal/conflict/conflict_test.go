package conflict

import (
	"errors"
	"strings"
	"testing"

	"github.com/confsync/confsync/internal/fileio"
	"github.com/confsync/confsync/internal/manifest"
)

func setup(t *testing.T) (*Resolver, *manifest.Store, *fileio.Store) {
	t.Helper()
	root := t.TempDir()
	store := manifest.NewStore(root, nil)
	files := fileio.NewStore(root)
	return NewResolver(store, files, nil), store, files
}

func trackPage(t *testing.T, store *manifest.Store, files *fileio.Store, id, content string) *manifest.Page {
	t.Helper()
	page := &manifest.Page{
		ID:          id,
		LocalPath:   id + ".md",
		ContentHash: files.Hash(content),
		RemoteHash:  files.Hash(content + "-remote"),
		Version:     1,
		Status:      manifest.StatusSynced,
	}
	if _, err := files.Write(page.LocalPath, content); err != nil {
		t.Fatalf("failed to write page file: %v", err)
	}
	if err := store.UpdatePage(page); err != nil {
		t.Fatalf("failed to track page: %v", err)
	}
	return page
}

// TestDetectConflictSymmetry verifies a conflict is reported iff both
// hashes diverge from the baseline.
func TestDetectConflictSymmetry(t *testing.T) {
	r, store, files := setup(t)
	page := trackPage(t, store, files, "p1", "base")

	baseLocal := page.ContentHash
	baseRemote := page.RemoteHash

	cases := []struct {
		name       string
		localHash  string
		remoteHash string
		want       bool
	}{
		{"neither diverged", baseLocal, baseRemote, false},
		{"only local diverged", "newL", baseRemote, false},
		{"only remote diverged", baseLocal, "newR", false},
		{"both diverged", "newL", "newR", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := r.DetectConflict("p1", tc.localHash, tc.remoteHash)
			if err != nil {
				t.Fatalf("DetectConflict() failed: %v", err)
			}
			if (c != nil) != tc.want {
				t.Errorf("DetectConflict() = %v, want conflict=%v", c, tc.want)
			}
		})
	}
}

// TestDetectConflictMarksPage verifies a confirmed conflict flips the
// manifest status.
func TestDetectConflictMarksPage(t *testing.T) {
	r, store, files := setup(t)
	trackPage(t, store, files, "p1", "base")

	c, err := r.DetectConflict("p1", "divergedL", "divergedR")
	if err != nil {
		t.Fatalf("DetectConflict() failed: %v", err)
	}
	if c == nil {
		t.Fatal("expected a conflict")
	}

	page, _ := store.GetPage("p1")
	if page.Status != manifest.StatusConflicted {
		t.Errorf("status = %s, want conflicted", page.Status)
	}
}

// TestDetectConflictUnknownPage verifies untracked ids fail distinctly.
func TestDetectConflictUnknownPage(t *testing.T) {
	r, _, _ := setup(t)

	_, err := r.DetectConflict("ghost", "a", "b")
	if !errors.Is(err, manifest.ErrPageNotFound) {
		t.Errorf("DetectConflict() = %v, want ErrPageNotFound", err)
	}
}

// TestGenerateConflictMarkers verifies multi-line content is preserved
// verbatim between the markers.
func TestGenerateConflictMarkers(t *testing.T) {
	local := "line one\nline two"
	remote := "other one\nother two"

	got := GenerateConflictMarkers(local, remote, "v7")

	if !strings.Contains(got, "<<<<<<< LOCAL\nline one\nline two\n") {
		t.Errorf("local section mangled:\n%s", got)
	}
	if !strings.Contains(got, "=======\nother one\nother two\n") {
		t.Errorf("remote section mangled:\n%s", got)
	}
	if !strings.Contains(got, ">>>>>>> REMOTE (v7)") {
		t.Errorf("remote marker missing label:\n%s", got)
	}
}

// TestWriteConflictFile verifies the original file is backed up before
// the marker artifact replaces it.
func TestWriteConflictFile(t *testing.T) {
	r, store, files := setup(t)
	trackPage(t, store, files, "p1", "original")

	if err := r.WriteConflictFile("p1.md", "mine", "theirs"); err != nil {
		t.Fatalf("WriteConflictFile() failed: %v", err)
	}

	content, err := files.Read("p1.md")
	if err != nil {
		t.Fatalf("failed to read conflict file: %v", err)
	}
	if !strings.Contains(content, "<<<<<<< LOCAL") || !strings.Contains(content, "theirs") {
		t.Errorf("conflict file content wrong:\n%s", content)
	}
}

// TestResolveConflictLocalFirst verifies local content wins and status
// returns to synced with a history entry.
func TestResolveConflictLocalFirst(t *testing.T) {
	r, store, files := setup(t)
	page := trackPage(t, store, files, "p1", "base")
	page.Status = manifest.StatusConflicted
	store.UpdatePage(page)

	if err := r.ResolveConflict("p1", LocalFirst, "my edit", "their edit"); err != nil {
		t.Fatalf("ResolveConflict() failed: %v", err)
	}

	content, _ := files.Read("p1.md")
	if content != "my edit" {
		t.Errorf("file content = %q, want my edit", content)
	}

	got, _ := store.GetPage("p1")
	if got.Status != manifest.StatusSynced {
		t.Errorf("status = %s, want synced", got.Status)
	}
	if got.ContentHash != files.Hash("my edit") {
		t.Errorf("contentHash not updated to resolved content")
	}
	if len(got.ResolutionHistory) != 1 {
		t.Fatalf("history has %d entries, want 1", len(got.ResolutionHistory))
	}
	entry := got.ResolutionHistory[0]
	if entry.Strategy != string(LocalFirst) {
		t.Errorf("history strategy = %s", entry.Strategy)
	}
	if entry.LocalHash != files.Hash("my edit") || entry.RemoteHash != files.Hash("their edit") {
		t.Errorf("history hashes do not record the conflicting pair")
	}
}

// TestResolveConflictRemoteFirst verifies remote content wins.
func TestResolveConflictRemoteFirst(t *testing.T) {
	r, store, files := setup(t)
	page := trackPage(t, store, files, "p1", "base")
	page.Status = manifest.StatusConflicted
	store.UpdatePage(page)

	if err := r.ResolveConflict("p1", RemoteFirst, "my edit", "their edit"); err != nil {
		t.Fatalf("ResolveConflict() failed: %v", err)
	}

	content, _ := files.Read("p1.md")
	if content != "their edit" {
		t.Errorf("file content = %q, want their edit", content)
	}
	got, _ := store.GetPage("p1")
	if got.RemoteHash != files.Hash("their edit") {
		t.Errorf("remoteHash not updated to accepted remote content")
	}
}

// TestResolveConflictManual verifies manual resolution writes nothing but
// still clears the conflict.
func TestResolveConflictManual(t *testing.T) {
	r, store, files := setup(t)
	page := trackPage(t, store, files, "p1", "conflict markers here")
	page.Status = manifest.StatusConflicted
	store.UpdatePage(page)

	if err := r.ResolveConflict("p1", Manual, "", ""); err != nil {
		t.Fatalf("ResolveConflict() failed: %v", err)
	}

	content, _ := files.Read("p1.md")
	if content != "conflict markers here" {
		t.Errorf("manual resolution should not rewrite the file, got %q", content)
	}
	got, _ := store.GetPage("p1")
	if got.Status != manifest.StatusSynced {
		t.Errorf("status = %s, want synced", got.Status)
	}
}

// TestResolveConflictNotConflicted verifies resolving a synced page is a
// no-op.
func TestResolveConflictNotConflicted(t *testing.T) {
	r, store, files := setup(t)
	trackPage(t, store, files, "p1", "base")

	if err := r.ResolveConflict("p1", LocalFirst, "new", ""); err != nil {
		t.Fatalf("ResolveConflict() on synced page should no-op: %v", err)
	}

	content, _ := files.Read("p1.md")
	if content != "base" {
		t.Errorf("no-op resolution rewrote the file to %q", content)
	}
}

// TestResolveConflictUnknownStrategy verifies the distinct error.
func TestResolveConflictUnknownStrategy(t *testing.T) {
	r, store, files := setup(t)
	page := trackPage(t, store, files, "p1", "base")
	page.Status = manifest.StatusConflicted
	store.UpdatePage(page)

	err := r.ResolveConflict("p1", Strategy("coin-flip"), "", "")
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("ResolveConflict() = %v, want ErrUnknownStrategy", err)
	}
}

// TestPreviouslyResolvedSuppressed verifies a resolved hash pair is not
// re-flagged by detection.
func TestPreviouslyResolvedSuppressed(t *testing.T) {
	r, store, files := setup(t)
	page := trackPage(t, store, files, "p1", "base")
	page.Status = manifest.StatusConflicted
	store.UpdatePage(page)

	if err := r.ResolveConflict("p1", LocalFirst, "my edit", "their edit"); err != nil {
		t.Fatalf("ResolveConflict() failed: %v", err)
	}

	// The same hash pair shows up again: suppressed.
	c, err := r.DetectConflict("p1", files.Hash("my edit"), files.Hash("their edit"))
	if err != nil {
		t.Fatalf("DetectConflict() failed: %v", err)
	}
	// Local hash equals the new baseline after local-first, so this is
	// also "no conflict" by symmetry; assert the history check directly
	// for a pair that would otherwise conflict.
	if c != nil {
		t.Error("resolved conflict re-flagged")
	}

	got, _ := store.GetPage("p1")
	if !r.IsPreviouslyResolved(files.Hash("my edit"), files.Hash("their edit"), got.ResolutionHistory) {
		t.Error("IsPreviouslyResolved() should match the recorded pair")
	}
	if r.IsPreviouslyResolved("other", "pair", got.ResolutionHistory) {
		t.Error("IsPreviouslyResolved() matched a pair never recorded")
	}
}

// TestGetConflictedPages verifies the status filter.
func TestGetConflictedPages(t *testing.T) {
	r, store, files := setup(t)
	trackPage(t, store, files, "a", "one")
	b := trackPage(t, store, files, "b", "two")
	b.Status = manifest.StatusConflicted
	store.UpdatePage(b)

	conflicted, err := r.GetConflictedPages()
	if err != nil {
		t.Fatalf("GetConflictedPages() failed: %v", err)
	}
	if len(conflicted) != 1 || conflicted[0].ID != "b" {
		t.Errorf("GetConflictedPages() = %v, want [b]", conflicted)
	}
}
