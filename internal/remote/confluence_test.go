package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestGetPage verifies page fetch decodes version and body.
func TestGetPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/content/123" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if user, _, ok := r.BasicAuth(); !ok || user != "bot" {
			t.Errorf("missing basic auth")
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "123",
			"title":   "Welcome",
			"version": map[string]int{"number": 7},
			"body": map[string]interface{}{
				"storage": map[string]string{"value": "<p>hi</p>"},
			},
		})
	}))
	defer srv.Close()

	c := NewConfluence(ConfluenceConfig{BaseURL: srv.URL, Username: "bot", APIToken: "tok"})
	page, err := c.GetPage(context.Background(), "123", true)
	if err != nil {
		t.Fatalf("GetPage() failed: %v", err)
	}
	if page.Version.Number != 7 || page.Title != "Welcome" || page.Body != "<p>hi</p>" {
		t.Errorf("GetPage() = %+v", page)
	}
}

// TestGetPageNotFound verifies a 404 maps to ErrPageNotFound.
func TestGetPageNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"no such content"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewConfluence(ConfluenceConfig{BaseURL: srv.URL})
	_, err := c.GetPage(context.Background(), "missing", false)
	if !errors.Is(err, ErrPageNotFound) {
		t.Errorf("GetPage() = %v, want ErrPageNotFound", err)
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound() should be true for %v", err)
	}
}

// TestUpdatePage verifies the update payload and returned version.
func TestUpdatePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		var payload struct {
			Title   string `json:"title"`
			Version struct {
				Number int `json:"number"`
			} `json:"version"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if payload.Version.Number != 5 || payload.Title != "Doc" {
			t.Errorf("payload = %+v", payload)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "42",
			"title":   "Doc",
			"version": map[string]int{"number": 5},
		})
	}))
	defer srv.Close()

	c := NewConfluence(ConfluenceConfig{BaseURL: srv.URL})
	page, err := c.UpdatePage(context.Background(), "42", "<p>new</p>", 5, "Doc")
	if err != nil {
		t.Fatalf("UpdatePage() failed: %v", err)
	}
	if page.Version.Number != 5 {
		t.Errorf("version = %d, want 5", page.Version.Number)
	}
}

// TestAPIError verifies non-404 failures surface as APIError with the
// server's message.
func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"version conflict"}`, http.StatusConflict)
	}))
	defer srv.Close()

	c := NewConfluence(ConfluenceConfig{BaseURL: srv.URL})
	_, err := c.UpdatePage(context.Background(), "42", "x", 3, "Doc")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("UpdatePage() = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Message != "version conflict" {
		t.Errorf("APIError = %+v", apiErr)
	}
}
