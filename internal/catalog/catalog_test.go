package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/resilience"
)

const listingJSON = `[
  {"key": "court/b.pdf", "size": 2048, "uploaded": "2024-01-02T00:00:00Z"},
  {"key": "court/a.pdf", "size": 1024, "uploaded": "2024-01-01T00:00:00Z"},
  {"key": "flights/log.pdf", "size": 4096, "uploaded": "2024-02-01T00:00:00Z"},
  {"key": "court/a.pdf", "size": 1, "uploaded": "2024-03-01T00:00:00Z"}
]`

func TestDocumentCollectionAndName(t *testing.T) {
	tests := []struct {
		key, collection, name string
	}{
		{"court/a.pdf", "court", "a.pdf"},
		{"court/sub/a.pdf", "court", "a.pdf"},
		{"top.pdf", "", "top.pdf"},
	}
	for _, tt := range tests {
		d := Document{Key: tt.key}
		if d.Collection() != tt.collection || d.Name() != tt.name {
			t.Errorf("%s: got (%q, %q)", tt.key, d.Collection(), d.Name())
		}
	}
}

func TestLoadFromHTTPWithManifest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/files", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingJSON))
	})
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"court/a.pdf": {"pageCount": 3}, "court/b.pdf": {"pageCount": 0}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	manifest := NewManifestStore(srv.URL+"/manifest.json", srv.Client())
	cat, err := Load(context.Background(), &HTTPLister{URL: srv.URL + "/api/files", Client: srv.Client()}, manifest, resilience.RetryConfig{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 3 {
		t.Fatalf("len = %d, want 3 (duplicate dropped)", cat.Len())
	}
	if got := cat.Documents()[0].Key; got != "court/a.pdf" {
		t.Errorf("first key = %q, listing should be sorted", got)
	}
	if d, _ := cat.Get("court/a.pdf"); d.Size != 1024 {
		t.Errorf("duplicate key should keep first occurrence, size=%d", d.Size)
	}
	if n, ok := manifest.Lookup("court/a.pdf"); !ok || n != 3 {
		t.Errorf("Lookup(a) = %d, %v", n, ok)
	}
	if _, ok := manifest.Lookup("court/b.pdf"); ok {
		t.Error("zero page count must read as absent")
	}
}

func TestManifestFailureDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewManifestStore(srv.URL, srv.Client())
	if _, err := m.Refresh(context.Background()); err == nil {
		t.Error("expected refresh error")
	}
	if m.Len() != 0 {
		t.Error("failed refresh should leave the manifest empty")
	}
	if _, ok := m.Lookup("anything"); ok {
		t.Error("empty manifest should miss")
	}
}

func TestManifestNotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	m := NewManifestStore(srv.URL, srv.Client())
	if _, err := m.Refresh(context.Background()); err != nil {
		t.Errorf("404 manifest should not be an error: %v", err)
	}
}

func TestLoadRetriesTransientListingFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(listingJSON))
	}))
	defer srv.Close()

	cat, err := Load(context.Background(), &HTTPLister{URL: srv.URL}, nil, resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Retryable:    RetryableListingError,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 3 || calls.Load() != 2 {
		t.Errorf("len=%d calls=%d", cat.Len(), calls.Load())
	}
}

func TestLoadListingFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := Load(context.Background(), &HTTPLister{URL: srv.URL}, nil, resilience.RetryConfig{MaxAttempts: 1})
	if !errors.Is(err, apperrors.ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestFileLister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "files.json")
	if err := os.WriteFile(path, []byte(listingJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	docs, err := (&FileLister{Path: path}).List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 4 {
		t.Errorf("len = %d, want 4 raw rows", len(docs))
	}
}
