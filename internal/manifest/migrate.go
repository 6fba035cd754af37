package manifest

import (
	"encoding/json"
	"fmt"
	"time"
)

func now() time.Time {
	return time.Now().UTC()
}

// v1Manifest is the tolerant view of a legacy (pre-2.0.0) manifest.
// Every field is optional; missing values default to empty or safe values.
type v1Manifest struct {
	Version       string          `json:"version"`
	ConfluenceURL string          `json:"confluenceUrl"`
	LastSyncTime  json.RawMessage `json:"lastSyncTime"`
	SyncMode      string          `json:"syncMode"`
	Pages         json.RawMessage `json:"pages"`
	Operations    []Operation     `json:"operations"`
	Config        *Config         `json:"config"`
}

// MigrateV1 upgrades a legacy manifest payload to the current schema.
//
// Legacy manifests may lack a version tag entirely and may store pages as
// either an object map or a list of [id, page] pairs; both are accepted.
// The migration normalizes timestamps, rebuilds every page's derived
// Children list from ParentID edges, attaches default config and empty
// operations where missing, and stamps the current schema version. It is
// idempotent: running it on an already-migrated payload yields the same
// result.
func MigrateV1(raw []byte) (*Manifest, error) {
	var v1 v1Manifest
	if err := json.Unmarshal(raw, &v1); err != nil {
		return nil, fmt.Errorf("failed to parse legacy manifest: %w", err)
	}

	m := &Manifest{
		Version:       CurrentVersion,
		ConfluenceURL: v1.ConfluenceURL,
		LastSyncTime:  parseLegacyTime(v1.LastSyncTime),
		SyncMode:      v1.SyncMode,
		Pages:         PageMap{},
		Operations:    v1.Operations,
	}
	if m.SyncMode == "" {
		m.SyncMode = "manual"
	}
	if v1.Config != nil {
		m.Config = *v1.Config
	} else {
		m.Config = DefaultConfig()
	}

	if len(v1.Pages) > 0 {
		if err := m.Pages.UnmarshalJSON(v1.Pages); err != nil {
			return nil, fmt.Errorf("failed to migrate pages: %w", err)
		}
	}

	// First pass: clear any hand-maintained children. Second pass inside
	// RebuildChildren derives them from ParentID edges.
	for _, page := range m.Pages {
		if page.Status == "" {
			page.Status = StatusSynced
		}
	}
	m.RebuildChildren()

	return m, nil
}

// parseLegacyTime accepts the timestamp shapes legacy manifests used:
// RFC3339 strings and unix epoch milliseconds. Anything else maps to the
// zero time rather than failing the migration.
func parseLegacyTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if t, err := time.Parse(time.RFC3339, str); err == nil {
			return t
		}
		return time.Time{}
	}

	var millis int64
	if err := json.Unmarshal(raw, &millis); err == nil && millis > 0 {
		return time.UnixMilli(millis).UTC()
	}
	return time.Time{}
}
