package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/confsync/confsync/internal/fileio"
	"github.com/confsync/confsync/internal/manifest"
	"github.com/confsync/confsync/internal/remote"
)

// fakeRemote is an in-memory remote store for detector tests.
type fakeRemote struct {
	mu       sync.Mutex
	versions map[string]int
	failIDs  map[string]error

	// concurrency accounting for the batch-size test
	inflight    int
	maxInflight int
	delay       time.Duration
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		versions: make(map[string]int),
		failIDs:  make(map[string]error),
	}
}

func (f *fakeRemote) Initialize(ctx context.Context) error { return nil }

func (f *fakeRemote) GetPage(ctx context.Context, id string, includeBody bool) (*remote.Page, error) {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failIDs[id]; ok {
		return nil, err
	}
	version, ok := f.versions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", remote.ErrPageNotFound, id)
	}
	return &remote.Page{ID: id, Version: remote.Version{Number: version}}, nil
}

func (f *fakeRemote) UpdatePage(ctx context.Context, id, body string, expectedVersion int, title string) (*remote.Page, error) {
	return nil, errors.New("not implemented")
}

func setup(t *testing.T) (*Detector, *fileio.Store, *fakeRemote) {
	t.Helper()
	files := fileio.NewStore(t.TempDir())
	fr := newFakeRemote()
	return New(files, fr, nil), files, fr
}

// TestDetectLocalChanges verifies local drift against the baseline hash.
func TestDetectLocalChanges(t *testing.T) {
	d, files, _ := setup(t)

	files.Write("doc.md", "v1")
	page := &manifest.Page{ID: "1", LocalPath: "doc.md", ContentHash: files.Hash("v1")}

	changed, err := d.DetectLocalChanges(page)
	if err != nil {
		t.Fatalf("DetectLocalChanges() failed: %v", err)
	}
	if changed {
		t.Error("unchanged file reported as changed")
	}

	files.Write("doc.md", "v2")
	changed, err = d.DetectLocalChanges(page)
	if err != nil {
		t.Fatalf("DetectLocalChanges() failed: %v", err)
	}
	if !changed {
		t.Error("edited file not reported as changed")
	}
}

// TestDetectLocalChangesMissingFile verifies a missing file is "no change".
func TestDetectLocalChangesMissingFile(t *testing.T) {
	d, _, _ := setup(t)

	page := &manifest.Page{ID: "1", LocalPath: "gone.md", ContentHash: "h"}
	changed, err := d.DetectLocalChanges(page)
	if err != nil {
		t.Fatalf("DetectLocalChanges() failed: %v", err)
	}
	if changed {
		t.Error("missing file should be no local change")
	}
}

// TestDetectRemoteChanges verifies remote drift uses strict version
// comparison and tolerates missing remote pages.
func TestDetectRemoteChanges(t *testing.T) {
	d, _, fr := setup(t)
	ctx := context.Background()

	page := &manifest.Page{ID: "1", Version: 3}

	fr.versions["1"] = 3
	changed, err := d.DetectRemoteChanges(ctx, page)
	if err != nil {
		t.Fatalf("DetectRemoteChanges() failed: %v", err)
	}
	if changed {
		t.Error("equal version reported as changed")
	}

	fr.versions["1"] = 4
	changed, _ = d.DetectRemoteChanges(ctx, page)
	if !changed {
		t.Error("newer remote version not reported as changed")
	}

	// Missing remote page: conservatively no change.
	delete(fr.versions, "1")
	changed, err = d.DetectRemoteChanges(ctx, page)
	if err != nil {
		t.Fatalf("DetectRemoteChanges() on missing page failed: %v", err)
	}
	if changed {
		t.Error("missing remote page should be no remote change")
	}
}

// TestGetChangeState verifies all four classifications.
func TestGetChangeState(t *testing.T) {
	d, files, fr := setup(t)
	ctx := context.Background()

	baseline := files.Hash("base")

	cases := []struct {
		name          string
		localContent  string
		remoteVersion int
		want          State
	}{
		{"unchanged", "base", 1, Unchanged},
		{"local only", "edited", 1, LocalOnly},
		{"remote only", "base", 2, RemoteOnly},
		{"both changed", "edited", 2, BothChanged},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			files.Write("doc.md", tc.localContent)
			fr.versions["1"] = tc.remoteVersion
			page := &manifest.Page{ID: "1", LocalPath: "doc.md", ContentHash: baseline, Version: 1}

			state, err := d.GetChangeState(ctx, page)
			if err != nil {
				t.Fatalf("GetChangeState() failed: %v", err)
			}
			if state != tc.want {
				t.Errorf("GetChangeState() = %s, want %s", state, tc.want)
			}
		})
	}
}

// TestDetectBatchChanges verifies per-page failures degrade to Unchanged
// and the rest of the batch is classified.
func TestDetectBatchChanges(t *testing.T) {
	d, files, fr := setup(t)
	ctx := context.Background()

	baseline := files.Hash("base")
	files.Write("a.md", "edited")
	files.Write("b.md", "base")
	fr.versions["a"] = 1
	fr.versions["b"] = 1
	fr.failIDs["c"] = errors.New("boom: internal error")

	pages := []*manifest.Page{
		{ID: "a", LocalPath: "a.md", ContentHash: baseline, Version: 1},
		{ID: "b", LocalPath: "b.md", ContentHash: baseline, Version: 1},
		{ID: "c", LocalPath: "c.md", ContentHash: baseline, Version: 1},
	}

	states := d.DetectBatchChanges(ctx, pages)
	if states["a"] != LocalOnly {
		t.Errorf("state[a] = %s, want local-only", states["a"])
	}
	if states["b"] != Unchanged {
		t.Errorf("state[b] = %s, want unchanged", states["b"])
	}
	if states["c"] != Unchanged {
		t.Errorf("failed page should degrade to unchanged, got %s", states["c"])
	}
}

// TestDetectBatchChangesConcurrencyBound verifies no more than batchSize
// remote fetches run at once.
func TestDetectBatchChangesConcurrencyBound(t *testing.T) {
	d, files, fr := setup(t)
	ctx := context.Background()
	fr.delay = 10 * time.Millisecond

	var pages []*manifest.Page
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("p%02d", i)
		path := id + ".md"
		files.Write(path, "base")
		fr.versions[id] = 1
		pages = append(pages, &manifest.Page{ID: id, LocalPath: path, ContentHash: files.Hash("base"), Version: 1})
	}

	d.DetectBatchChanges(ctx, pages)

	fr.mu.Lock()
	max := fr.maxInflight
	fr.mu.Unlock()
	if max > batchSize {
		t.Errorf("observed %d concurrent remote calls, bound is %d", max, batchSize)
	}
}
