package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ConfluenceConfig holds connection settings for a Confluence instance.
type ConfluenceConfig struct {
	// BaseURL is the instance root, e.g. https://example.atlassian.net/wiki
	BaseURL string

	// Username and APIToken authenticate via basic auth.
	Username string
	APIToken string

	// HTTPClient overrides the default client (used by tests).
	HTTPClient *http.Client
}

// Confluence implements Store against the Confluence REST API.
type Confluence struct {
	baseURL  string
	username string
	apiToken string
	client   *http.Client
}

// NewConfluence creates a Confluence client.
func NewConfluence(config ConfluenceConfig) *Confluence {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Confluence{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		username: config.Username,
		apiToken: config.APIToken,
		client:   client,
	}
}

// Initialize verifies connectivity and credentials with a cheap API call.
func (c *Confluence) Initialize(ctx context.Context) error {
	var out struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/space?limit=1", nil, &out); err != nil {
		return fmt.Errorf("confluence connection check failed: %w", err)
	}
	return nil
}

// confluencePage is the REST wire shape for a page.
type confluencePage struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
}

func (p *confluencePage) toPage() *Page {
	return &Page{
		ID:      p.ID,
		Title:   p.Title,
		Version: Version{Number: p.Version.Number},
		Body:    p.Body.Storage.Value,
	}
}

// GetPage implements Store.GetPage.
func (c *Confluence) GetPage(ctx context.Context, id string, includeBody bool) (*Page, error) {
	path := fmt.Sprintf("/rest/api/content/%s?expand=version", id)
	if includeBody {
		path = fmt.Sprintf("/rest/api/content/%s?expand=version,body.storage", id)
	}

	var out confluencePage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.toPage(), nil
}

// UpdatePage implements Store.UpdatePage.
func (c *Confluence) UpdatePage(ctx context.Context, id, body string, expectedVersion int, title string) (*Page, error) {
	payload := map[string]interface{}{
		"id":    id,
		"type":  "page",
		"title": title,
		"version": map[string]int{
			"number": expectedVersion,
		},
		"body": map[string]interface{}{
			"storage": map[string]string{
				"value":          body,
				"representation": "storage",
			},
		},
	}

	var out confluencePage
	path := fmt.Sprintf("/rest/api/content/%s", id)
	if err := c.do(ctx, http.MethodPut, path, payload, &out); err != nil {
		return nil, err
	}
	return out.toPage(), nil
}

// do performs one authenticated API call and decodes the JSON response.
// Non-2xx responses become APIError (404 additionally wraps
// ErrPageNotFound); transport failures pass through so the watcher can
// classify them as retryable.
func (c *Confluence) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.apiToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrPageNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiMessage(data),
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// apiMessage extracts the human-readable message from a Confluence error
// body, falling back to the raw payload.
func apiMessage(data []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = "no error detail"
	}
	return msg
}
