// Package remote defines the document backend contract the sync engine
// consumes, plus a Confluence REST implementation.
//
// The engine only ever sees the Store interface; tests substitute fakes
// and the CLI wires the Confluence client. Errors from the backend carry
// an HTTP-status hint via APIError so callers can distinguish retryable
// transport failures from terminal API failures.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// ErrPageNotFound indicates the remote document does not exist.
// The change detector treats this as "no remote drift"; push paths treat
// it as a hard error.
var ErrPageNotFound = errors.New("remote page not found")

// Version is the remote revision counter for a page.
type Version struct {
	Number int `json:"number"`
}

// Page is the remote view of a document.
type Page struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Version Version `json:"version"`
	// Body is the storage-format content; populated only when requested.
	Body string `json:"body,omitempty"`
}

// Store is the abstract remote document backend.
type Store interface {
	// Initialize verifies connectivity and credentials.
	Initialize(ctx context.Context) error

	// GetPage fetches a page's metadata, optionally including its body.
	// A missing page returns an error wrapping ErrPageNotFound.
	GetPage(ctx context.Context, id string, includeBody bool) (*Page, error)

	// UpdatePage submits new content at the expected version and returns
	// the page with the remote-assigned version number.
	UpdatePage(ctx context.Context, id, body string, expectedVersion int, title string) (*Page, error)
}

// APIError is a terminal failure reported by the remote API
// (authorization, validation, version mismatch). It is never retried.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote API error (status %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether an error means the remote page is missing.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrPageNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
