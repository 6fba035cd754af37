// Package fileio provides local file access for synced markdown documents.
//
// All paths handed to a Store are interpreted relative to the sync root,
// which keeps manifest entries portable across machines. Content hashing
// lives here too, so every component fingerprints content the same way.
package fileio

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store reads and writes document files under a single sync root.
type Store struct {
	root string
}

// NewStore creates a Store rooted at the given directory.
// The directory does not need to exist yet; Write creates parents as needed.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the sync root directory.
func (s *Store) Root() string {
	return s.root
}

// Abs resolves a manifest-relative path to an absolute path under the root.
// Absolute inputs are returned unchanged.
func (s *Store) Abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, path)
}

// Read returns the content of a document file.
func (s *Store) Read(path string) (string, error) {
	data, err := os.ReadFile(s.Abs(path))
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return string(data), nil
}

// Write stores content at the given path, creating parent directories as
// needed. It returns the absolute path that was written.
func (s *Store) Write(path, content string) (string, error) {
	abs := s.Abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return abs, nil
}

// Exists reports whether a document file is present on disk.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(s.Abs(path))
	return err == nil
}

// Hash returns the content fingerprint used throughout the manifest:
// lowercase hex SHA-256 of the exact byte content.
func (s *Store) Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// HashFile hashes the current on-disk content of a document file.
func (s *Store) HashFile(path string) (string, error) {
	content, err := s.Read(path)
	if err != nil {
		return "", err
	}
	return s.Hash(content), nil
}

// Backup copies an existing file to a timestamped sibling before a
// destructive write. Returns the backup path, or an empty string if the
// source file does not exist (nothing to back up is not an error).
func (s *Store) Backup(path string) (string, error) {
	abs := s.Abs(path)
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read file for backup %s: %w", path, err)
	}

	backupPath := fmt.Sprintf("%s.backup-%s", abs, time.Now().Format("20060102-150405"))
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup %s: %w", backupPath, err)
	}
	return backupPath, nil
}
