package manifest

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestLoadCreatesFreshManifest verifies first run creates and persists an
// empty manifest at the current schema version.
func TestLoadCreatesFreshManifest(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)

	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if m.Version != CurrentVersion {
		t.Errorf("Version = %s, want %s", m.Version, CurrentVersion)
	}
	if len(m.Pages) != 0 {
		t.Errorf("fresh manifest has %d pages, want 0", len(m.Pages))
	}

	if _, err := os.Stat(filepath.Join(root, DirName, FileName)); err != nil {
		t.Errorf("manifest file not persisted: %v", err)
	}
}

// TestSaveWithoutLoad verifies Save fails with ErrNotLoaded before Load.
func TestSaveWithoutLoad(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	if err := s.Save(); err != ErrNotLoaded {
		t.Errorf("Save() = %v, want ErrNotLoaded", err)
	}
}

// TestUpdateAndGetPage verifies page CRUD round trips through the store.
func TestUpdateAndGetPage(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	page := &Page{
		ID:          "100",
		SpaceKey:    "DOCS",
		Title:       "Getting Started",
		Version:     3,
		LocalPath:   "getting-started.md",
		ContentHash: "h0",
		Status:      StatusSynced,
	}
	if err := s.UpdatePage(page); err != nil {
		t.Fatalf("UpdatePage() failed: %v", err)
	}

	got, err := s.GetPage("100")
	if err != nil {
		t.Fatalf("GetPage() failed: %v", err)
	}
	if got.Title != "Getting Started" || got.Version != 3 {
		t.Errorf("GetPage() = %+v, want stored page", got)
	}
	if got.LastModified.IsZero() {
		t.Error("UpdatePage() should stamp LastModified")
	}

	m, _ := s.Load()
	if m.LastSyncTime.IsZero() {
		t.Error("UpdatePage() should bump LastSyncTime")
	}
}

// TestGetPageNotFound verifies lookup of an untracked id.
func TestGetPageNotFound(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	if _, err := s.GetPage("nope"); !isPageNotFound(err) {
		t.Errorf("GetPage() = %v, want ErrPageNotFound", err)
	}
	if err := s.RemovePage("nope"); !isPageNotFound(err) {
		t.Errorf("RemovePage() = %v, want ErrPageNotFound", err)
	}
}

func isPageNotFound(err error) bool {
	return errors.Is(err, ErrPageNotFound)
}

// TestRemoveAndClearPages verifies removal paths persist.
func TestRemoveAndClearPages(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	for _, id := range []string{"1", "2", "3"} {
		if err := s.UpdatePage(&Page{ID: id, LocalPath: id + ".md"}); err != nil {
			t.Fatalf("UpdatePage(%s) failed: %v", id, err)
		}
	}

	if err := s.RemovePage("2"); err != nil {
		t.Fatalf("RemovePage() failed: %v", err)
	}
	pages, _ := s.GetAllPages()
	if len(pages) != 2 {
		t.Errorf("after remove, %d pages, want 2", len(pages))
	}

	if err := s.ClearPages(); err != nil {
		t.Fatalf("ClearPages() failed: %v", err)
	}
	pages, _ = s.GetAllPages()
	if len(pages) != 0 {
		t.Errorf("after clear, %d pages, want 0", len(pages))
	}
}

// TestGetPagesBySpace verifies the space filter.
func TestGetPagesBySpace(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	s.UpdatePage(&Page{ID: "1", SpaceKey: "DOCS"})
	s.UpdatePage(&Page{ID: "2", SpaceKey: "ENG"})
	s.UpdatePage(&Page{ID: "3", SpaceKey: "DOCS"})

	pages, err := s.GetPagesBySpace("DOCS")
	if err != nil {
		t.Fatalf("GetPagesBySpace() failed: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("GetPagesBySpace(DOCS) returned %d pages, want 2", len(pages))
	}
	if pages[0].ID != "1" || pages[1].ID != "3" {
		t.Errorf("GetPagesBySpace(DOCS) = %s, %s; want 1, 3", pages[0].ID, pages[1].ID)
	}
}

// TestPageHierarchy verifies the full and rooted hierarchy queries.
func TestPageHierarchy(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	s.UpdatePage(&Page{ID: "A"})
	s.UpdatePage(&Page{ID: "B", ParentID: "A"})
	s.UpdatePage(&Page{ID: "C", ParentID: "A"})

	full, err := s.GetPageHierarchy("")
	if err != nil {
		t.Fatalf("GetPageHierarchy() failed: %v", err)
	}
	if got := full[RootKey]; len(got) != 1 || got[0] != "A" {
		t.Errorf("hierarchy[root] = %v, want [A]", got)
	}
	if got := full["A"]; len(got) != 2 || got[0] != "B" || got[1] != "C" {
		t.Errorf("hierarchy[A] = %v, want [B C]", got)
	}

	sub, err := s.GetPageHierarchy("A")
	if err != nil {
		t.Fatalf("GetPageHierarchy(A) failed: %v", err)
	}
	if len(sub) != 1 {
		t.Errorf("subtree has %d keys, want 1: %v", len(sub), sub)
	}
	if got := sub["A"]; len(got) != 2 || got[0] != "B" || got[1] != "C" {
		t.Errorf("subtree[A] = %v, want [B C]", got)
	}
}

// TestPageHierarchyCycle verifies a parent cycle terminates via the
// visited set instead of looping.
func TestPageHierarchyCycle(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	s.UpdatePage(&Page{ID: "A", ParentID: "B"})
	s.UpdatePage(&Page{ID: "B", ParentID: "A"})

	sub, err := s.GetPageHierarchy("A")
	if err != nil {
		t.Fatalf("GetPageHierarchy(A) failed: %v", err)
	}
	if got := sub["A"]; len(got) != 1 || got[0] != "B" {
		t.Errorf("subtree[A] = %v, want [B]", got)
	}
}

// TestDanglingParentTolerated verifies a missing parent groups the page
// under root without failing.
func TestDanglingParentTolerated(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	s.UpdatePage(&Page{ID: "X", ParentID: "gone"})

	full, err := s.GetPageHierarchy("")
	if err != nil {
		t.Fatalf("GetPageHierarchy() failed: %v", err)
	}
	if got := full[RootKey]; len(got) != 1 || got[0] != "X" {
		t.Errorf("hierarchy[root] = %v, want [X]", got)
	}
}

// TestChildrenRebuiltFromParentID verifies Children is derived, not trusted.
func TestChildrenRebuiltFromParentID(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	// Children list deliberately wrong: it must be recomputed.
	s.UpdatePage(&Page{ID: "A", Children: []string{"bogus"}})
	s.UpdatePage(&Page{ID: "B", ParentID: "A"})

	got, err := s.GetPage("A")
	if err != nil {
		t.Fatalf("GetPage() failed: %v", err)
	}
	if len(got.Children) != 1 || got.Children[0] != "B" {
		t.Errorf("Children = %v, want [B]", got.Children)
	}
}

// TestPersistedPairListShape verifies the on-disk pages field is an
// ordered list of [id, page] pairs and survives a reload.
func TestPersistedPairListShape(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)

	s.UpdatePage(&Page{ID: "b", Title: "Second"})
	s.UpdatePage(&Page{ID: "a", Title: "First"})

	raw, err := os.ReadFile(filepath.Join(root, DirName, FileName))
	if err != nil {
		t.Fatalf("failed to read manifest file: %v", err)
	}

	var doc struct {
		Pages []json.RawMessage `json:"pages"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("pages is not a JSON array: %v", err)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("pages has %d entries, want 2", len(doc.Pages))
	}

	// Fresh store re-reads the same file.
	s2 := NewStore(root, nil)
	pages, err := s2.GetAllPages()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(pages) != 2 || pages[0].ID != "a" || pages[1].ID != "b" {
		t.Errorf("reloaded pages = %v, want a then b", pages)
	}
}

// TestLoadObjectMapShape verifies the legacy object-map pages shape is
// accepted on read.
func TestLoadObjectMapShape(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, DirName)
	os.MkdirAll(dir, 0755)

	legacy := `{
		"version": "2.0.0",
		"confluenceUrl": "https://wiki.example.com",
		"syncMode": "manual",
		"config": {"maxConcurrent": 3, "debounceMs": 1000},
		"pages": {
			"10": {"id": "10", "title": "One", "localPath": "one.md"},
			"20": {"title": "Two", "localPath": "two.md"}
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(legacy), 0644); err != nil {
		t.Fatalf("failed to write legacy manifest: %v", err)
	}

	s := NewStore(root, nil)
	pages, err := s.GetAllPages()
	if err != nil {
		t.Fatalf("Load of object-map manifest failed: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}
	// The map key fills in a missing id field.
	if pages[1].ID != "20" {
		t.Errorf("page id = %s, want 20", pages[1].ID)
	}
}

// TestLoadCorruptManifest verifies corruption falls back to a fresh
// manifest instead of failing.
func TestLoadCorruptManifest(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, DirName)
	os.MkdirAll(dir, 0755)
	os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0644)

	s := NewStore(root, nil)
	m, err := s.Load()
	if err != nil {
		t.Fatalf("Load() of corrupt manifest failed: %v", err)
	}
	if m.Version != CurrentVersion || len(m.Pages) != 0 {
		t.Errorf("corrupt manifest should yield fresh manifest, got %+v", m)
	}
}

// TestRecordOperationBounded verifies the operation history is capped.
func TestRecordOperationBounded(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	for i := 0; i < maxOperations+10; i++ {
		if err := s.RecordOperation(Operation{ID: "op", Status: OperationCompleted}); err != nil {
			t.Fatalf("RecordOperation() failed: %v", err)
		}
	}

	m, _ := s.Load()
	if len(m.Operations) != maxOperations {
		t.Errorf("operations = %d, want %d", len(m.Operations), maxOperations)
	}
}

// TestGetPageReturnsCopy verifies mutating a fetched page does not leak
// into the store. Sync runs mutate fetched pages concurrently with saves,
// so the store must never share struct memory with callers.
func TestGetPageReturnsCopy(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	if err := s.UpdatePage(&Page{ID: "100", Title: "Original", Version: 1, LocalPath: "a.md"}); err != nil {
		t.Fatalf("UpdatePage() failed: %v", err)
	}

	got, err := s.GetPage("100")
	if err != nil {
		t.Fatalf("GetPage() failed: %v", err)
	}
	got.Title = "Scribbled"
	got.Version = 99

	again, err := s.GetPage("100")
	if err != nil {
		t.Fatalf("GetPage() failed: %v", err)
	}
	if again.Title != "Original" || again.Version != 1 {
		t.Errorf("store state changed through fetched copy: title=%q version=%d", again.Title, again.Version)
	}
}

// TestGetAllPagesReturnsCopies verifies the same isolation for the bulk
// accessor, including the derived Children slice.
func TestGetAllPagesReturnsCopies(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	s.UpdatePage(&Page{ID: "1", Title: "Parent", LocalPath: "p.md"})
	s.UpdatePage(&Page{ID: "2", Title: "Child", ParentID: "1", LocalPath: "c.md"})

	pages, err := s.GetAllPages()
	if err != nil {
		t.Fatalf("GetAllPages() failed: %v", err)
	}
	pages[0].Title = "Scribbled"
	if len(pages[0].Children) > 0 {
		pages[0].Children[0] = "scribbled"
	}

	parent, err := s.GetPage("1")
	if err != nil {
		t.Fatalf("GetPage() failed: %v", err)
	}
	if parent.Title != "Parent" {
		t.Errorf("store title changed through slice copy: %q", parent.Title)
	}
	if len(parent.Children) != 1 || parent.Children[0] != "2" {
		t.Errorf("store children changed through slice copy: %v", parent.Children)
	}
}

// TestUpdatePageDetachesCaller verifies a page passed to UpdatePage stays
// the caller's to mutate afterwards.
func TestUpdatePageDetachesCaller(t *testing.T) {
	s := NewStore(t.TempDir(), nil)

	page := &Page{ID: "100", Title: "Original", Version: 1, LocalPath: "a.md"}
	if err := s.UpdatePage(page); err != nil {
		t.Fatalf("UpdatePage() failed: %v", err)
	}
	page.Title = "Scribbled"

	got, err := s.GetPage("100")
	if err != nil {
		t.Fatalf("GetPage() failed: %v", err)
	}
	if got.Title != "Original" {
		t.Errorf("store title changed through caller's struct: %q", got.Title)
	}
}
