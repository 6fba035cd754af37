package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	// DirName is the metadata directory under the sync root.
	DirName = ".confsync"
	// FileName is the manifest file name inside DirName.
	FileName = "manifest.json"
	// maxOperations bounds the manifest's operation history.
	maxOperations = 100
)

var (
	// ErrNotLoaded is returned by Save when no manifest is in memory.
	ErrNotLoaded = errors.New("no manifest loaded")

	// ErrPageNotFound is returned for lookups of untracked page ids.
	ErrPageNotFound = errors.New("page not found")
)

// Store provides durable CRUD over the manifest file.
//
// The first Load caches the manifest for the process lifetime; every
// mutating method implicitly loads first if nothing is cached yet. There is
// no cross-process locking - confsync assumes a single active process per
// sync root, and the manifest file is last-writer-wins at the file level.
type Store struct {
	path   string
	logger *log.Logger

	mu       sync.Mutex
	manifest *Manifest
}

// NewStore creates a Store for the manifest under the given sync root.
// If logger is nil, a default stderr logger is used.
func NewStore(root string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[manifest] ", log.LstdFlags)
	}
	return &Store{
		path:   filepath.Join(root, DirName, FileName),
		logger: logger,
	}
}

// Path returns the manifest file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted manifest, creating a fresh one if absent and
// migrating older schema versions in place. A manifest file that cannot be
// parsed or migrated is replaced with a fresh empty manifest rather than
// failing the run; corruption must never hard-fail the tool.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Manifest, error) {
	if s.manifest != nil {
		return s.manifest, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.manifest = New("")
			if err := s.saveLocked(); err != nil {
				return nil, err
			}
			return s.manifest, nil
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", s.path, err)
	}

	m, err := s.parse(raw)
	if err != nil {
		// Corrupt or unmigratable manifest: start fresh. Losing sync
		// state is recoverable; a tool that refuses to start is not.
		s.logger.Printf("Warning: manifest unreadable (%v), starting fresh", err)
		m = New("")
	}

	m.RebuildChildren()
	s.manifest = m

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return s.manifest, nil
}

// parse decodes a manifest payload, routing legacy schema versions through
// migration. A payload that parses but mismatches the current schema is
// also handed to migration as a recovery path.
func (s *Store) parse(raw []byte) (*Manifest, error) {
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if probe.Version != CurrentVersion {
		s.logger.Printf("Migrating manifest from schema %q to %s", probe.Version, CurrentVersion)
		return MigrateV1(raw)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		s.logger.Printf("Warning: manifest failed schema parse (%v), attempting migration", err)
		return MigrateV1(raw)
	}
	if m.Pages == nil {
		m.Pages = PageMap{}
	}
	if m.Config == (Config{}) {
		m.Config = DefaultConfig()
	}
	return &m, nil
}

// Save serializes the in-memory manifest and writes it atomically
// (write-then-rename). It fails with ErrNotLoaded if Load has not run.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manifest == nil {
		return ErrNotLoaded
	}
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	// Write to a temp file in the same directory, then rename over the
	// manifest so a crash mid-write cannot leave a half-written file.
	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp manifest: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// Manifest returns the cached manifest, loading it if necessary.
func (s *Store) Manifest() (*Manifest, error) {
	return s.Load()
}

// UpdatePage inserts or replaces a page entry, stamps LastModified and the
// manifest's LastSyncTime, rebuilds derived children, and persists.
func (s *Store) UpdatePage(page *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	if page.ID == "" {
		return fmt.Errorf("cannot store page with empty id")
	}

	// Keep a private clone so the caller's struct never aliases the map.
	// Sync runs mutate fetched pages from several goroutines; only clones
	// ever live under the store lock.
	stored := page.Clone()
	stored.LastModified = now()
	m.Pages[stored.ID] = stored
	m.LastSyncTime = now()
	m.RebuildChildren()
	return s.saveLocked()
}

// RemovePage deletes a page entry and persists. Removing an untracked id
// returns ErrPageNotFound.
func (s *Store) RemovePage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := m.Pages[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPageNotFound, id)
	}

	delete(m.Pages, id)
	m.LastSyncTime = now()
	m.RebuildChildren()
	return s.saveLocked()
}

// ClearPages removes every tracked page and persists.
func (s *Store) ClearPages() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	m.Pages = PageMap{}
	m.LastSyncTime = now()
	return s.saveLocked()
}

// GetPage returns the tracked page for an id, or ErrPageNotFound.
func (s *Store) GetPage(id string) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	page, ok := m.Pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, id)
	}
	return page.Clone(), nil
}

// GetAllPages returns a copy of every tracked page, sorted by id.
func (s *Store) GetAllPages() ([]*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	pages := make([]*Page, 0, len(m.Pages))
	for _, page := range m.Pages {
		pages = append(pages, page.Clone())
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].ID < pages[j].ID })
	return pages, nil
}

// GetPagesBySpace returns every tracked page in a space, sorted by id.
func (s *Store) GetPagesBySpace(spaceKey string) ([]*Page, error) {
	all, err := s.GetAllPages()
	if err != nil {
		return nil, err
	}
	var pages []*Page
	for _, page := range all {
		if page.SpaceKey == spaceKey {
			pages = append(pages, page)
		}
	}
	return pages, nil
}

// GetPageHierarchy maps each parent id to its direct children. Pages
// without a parent (or with a dangling parent reference) group under
// RootKey. If rootID is non-empty, only the subtree reachable from that
// page is returned, walked breadth-first with a visited set so parent
// cycles cannot loop forever.
func (s *Store) GetPageHierarchy(rootID string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	full := make(map[string][]string)
	for _, page := range m.Pages {
		key := RootKey
		if page.ParentID != "" {
			if _, ok := m.Pages[page.ParentID]; ok {
				key = page.ParentID
			}
		}
		full[key] = append(full[key], page.ID)
	}
	for key := range full {
		sort.Strings(full[key])
	}

	if rootID == "" {
		return full, nil
	}
	if _, ok := m.Pages[rootID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, rootID)
	}

	subtree := make(map[string][]string)
	visited := map[string]bool{rootID: true}
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		children := full[id]
		if len(children) > 0 {
			subtree[id] = children
		}
		for _, child := range children {
			if !visited[child] {
				visited[child] = true
				queue = append(queue, child)
			}
		}
	}
	return subtree, nil
}

// RecordOperation appends a sync operation to the manifest's bounded
// history and persists.
func (s *Store) RecordOperation(op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	m.Operations = append(m.Operations, op)
	if len(m.Operations) > maxOperations {
		m.Operations = m.Operations[len(m.Operations)-maxOperations:]
	}
	return s.saveLocked()
}

// SetConfluenceURL stamps the remote endpoint identity and persists.
func (s *Store) SetConfluenceURL(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	m.ConfluenceURL = url
	return s.saveLocked()
}

// SetSyncMode records the informational sync mode (manual or watch).
func (s *Store) SetSyncMode(mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	m.SyncMode = mode
	return s.saveLocked()
}
