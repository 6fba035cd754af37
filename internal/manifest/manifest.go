// Package manifest provides the durable sync-state record for confsync.
//
// The manifest is a single JSON file under the sync root
// (.confsync/manifest.json) mapping every tracked Confluence page to its
// last-known sync state: remote version number, local content hash, and the
// remote content hash captured at the last successful sync. It is the single
// source of truth between process invocations.
//
// Pages are held in memory as a map keyed by page id but serialize as an
// ordered list of [id, page] pairs. Historical manifests stored pages as a
// plain JSON object, so both shapes are accepted on read.
package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// CurrentVersion is the manifest schema version written by this build.
const CurrentVersion = "2.0.0"

// RootKey is the sentinel hierarchy key grouping pages without a parent.
const RootKey = "root"

// Status is the coarse advisory sync state of a page. The authoritative
// state is derived fresh by the change detector on every sync.
type Status string

const (
	// StatusSynced indicates the page matched the baseline at last check.
	StatusSynced Status = "synced"
	// StatusModified indicates a known local edit awaiting push.
	StatusModified Status = "modified"
	// StatusConflicted indicates both sides diverged from the baseline.
	StatusConflicted Status = "conflicted"
)

// Resolution records one past conflict resolution for a page.
// The hash pair identifies the exact conflict that was handled, so the
// same conflict is not re-flagged after resolution.
type Resolution struct {
	Timestamp  time.Time `json:"timestamp"`
	Strategy   string    `json:"strategy"`
	LocalHash  string    `json:"localHash"`
	RemoteHash string    `json:"remoteHash"`
}

// Page is the unit of sync: one Confluence page paired with one local
// markdown file.
type Page struct {
	// ID is the remote page identifier, unique within the manifest.
	ID string `json:"id"`

	// SpaceKey is the Confluence space the page belongs to.
	SpaceKey string `json:"spaceKey"`

	// Title is the remote display title; it may diverge from the filename.
	Title string `json:"title"`

	// Version is the last-known remote revision number.
	Version int `json:"version"`

	// ParentID references another page's ID, forming a hierarchy.
	// Dangling references are tolerated on read.
	ParentID string `json:"parentId,omitempty"`

	// Children is derived from ParentID edges and rebuilt on every load.
	Children []string `json:"children"`

	// LocalPath is the file path relative to the sync root.
	LocalPath string `json:"localPath"`

	// ContentHash fingerprints the local file content as of the last
	// successful sync of this page.
	ContentHash string `json:"contentHash"`

	// RemoteHash fingerprints the remote content as of the last successful
	// sync; it is the remote-side conflict baseline.
	RemoteHash string `json:"remoteHash,omitempty"`

	// Status is the advisory sync flag.
	Status Status `json:"status"`

	// LastModified is when this manifest entry was last mutated.
	LastModified time.Time `json:"lastModified"`

	// ResolutionHistory is the append-only log of past conflict resolutions.
	ResolutionHistory []Resolution `json:"resolutionHistory,omitempty"`
}

// Clone returns an independent copy of the page. The store hands out and
// keeps only clones, so callers can mutate a fetched page freely without
// touching the store's in-memory state.
func (p *Page) Clone() *Page {
	out := *p
	if p.Children != nil {
		out.Children = append([]string(nil), p.Children...)
	}
	if p.ResolutionHistory != nil {
		out.ResolutionHistory = append([]Resolution(nil), p.ResolutionHistory...)
	}
	return &out
}

// OperationStatus tracks the lifecycle of one sync run.
type OperationStatus string

const (
	OperationInProgress OperationStatus = "in-progress"
	OperationCompleted  OperationStatus = "completed"
	OperationFailed     OperationStatus = "failed"
)

// Operation is one entry in the manifest's bounded sync-operation history.
type Operation struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      OperationStatus `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Pushed      int             `json:"pushed"`
	Pulled      int             `json:"pulled"`
	Conflicted  int             `json:"conflicted"`
	Errors      int             `json:"errors"`
}

// Config holds per-manifest sync settings attached during migration and
// on first run.
type Config struct {
	MaxConcurrent int `json:"maxConcurrent"`
	DebounceMs    int `json:"debounceMs"`
}

// DefaultConfig returns the settings stamped onto new manifests.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 3,
		DebounceMs:    1000,
	}
}

// Manifest is the root aggregate: everything confsync knows about one
// remote Confluence instance and its local mirror.
type Manifest struct {
	Version       string      `json:"version"`
	ConfluenceURL string      `json:"confluenceUrl"`
	LastSyncTime  time.Time   `json:"lastSyncTime"`
	SyncMode      string      `json:"syncMode"`
	Pages         PageMap     `json:"pages"`
	Operations    []Operation `json:"operations,omitempty"`
	Config        Config      `json:"config"`
}

// New returns an empty manifest at the current schema version.
func New(confluenceURL string) *Manifest {
	return &Manifest{
		Version:       CurrentVersion,
		ConfluenceURL: confluenceURL,
		SyncMode:      "manual",
		Pages:         PageMap{},
		Config:        DefaultConfig(),
	}
}

// RebuildChildren recomputes every page's Children list from ParentID
// edges. Children is a derived cache; this is the only routine allowed to
// populate it. Dangling parent references are left in place but produce no
// child entries anywhere.
func (m *Manifest) RebuildChildren() {
	for _, page := range m.Pages {
		page.Children = []string{}
	}
	for _, page := range m.Pages {
		if page.ParentID == "" {
			continue
		}
		if parent, ok := m.Pages[page.ParentID]; ok {
			parent.Children = append(parent.Children, page.ID)
		}
	}
	for _, page := range m.Pages {
		sort.Strings(page.Children)
	}
}

// PageMap is the canonical in-memory page collection. It marshals as an
// ordered list of [id, page] pairs and unmarshals from either that shape or
// a plain JSON object keyed by id.
type PageMap map[string]*Page

// MarshalJSON serializes pages as ordered [id, page] pairs, sorted by id so
// the on-disk manifest is deterministic.
func (pm PageMap) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(pm))
	for id := range pm {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pairs := make([][2]interface{}, 0, len(ids))
	for _, id := range ids {
		pairs = append(pairs, [2]interface{}{id, pm[id]})
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON accepts both the pair-list and object-map serializations.
func (pm *PageMap) UnmarshalJSON(data []byte) error {
	result := PageMap{}

	// Canonical shape: [ [id, page], ... ]
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err == nil {
		for _, pair := range pairs {
			var id string
			if err := json.Unmarshal(pair[0], &id); err != nil {
				return fmt.Errorf("invalid page pair key: %w", err)
			}
			var page Page
			if err := json.Unmarshal(pair[1], &page); err != nil {
				return fmt.Errorf("invalid page entry %s: %w", id, err)
			}
			if page.ID == "" {
				page.ID = id
			}
			result[id] = &page
		}
		*pm = result
		return nil
	}

	// Legacy shape: { id: page, ... }
	var object map[string]*Page
	if err := json.Unmarshal(data, &object); err != nil {
		return fmt.Errorf("pages is neither pair list nor object map: %w", err)
	}
	for id, page := range object {
		if page == nil {
			continue
		}
		if page.ID == "" {
			page.ID = id
		}
		result[id] = page
	}
	*pm = result
	return nil
}
