package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ManifestStore holds the pre-rendered page counts. A missing or unreadable
// manifest is not an error: every document then falls back to rasterization.
type ManifestStore struct {
	url    string
	client *http.Client
	mu     sync.RWMutex
	data   map[string]ManifestEntry
	group  singleflight.Group
	logger *slog.Logger
}

// NewManifestStore creates an empty store reading from url. An empty url
// disables the manifest.
func NewManifestStore(url string, client *http.Client) *ManifestStore {
	return &ManifestStore{
		url:    url,
		client: httpClient(client),
		data:   map[string]ManifestEntry{},
		logger: slog.Default().With("component", "manifest"),
	}
}

// NewStaticManifest builds a store from fixed entries.
func NewStaticManifest(entries map[string]ManifestEntry) *ManifestStore {
	m := NewManifestStore("", nil)
	for k, v := range entries {
		m.data[k] = v
	}
	return m
}

// Lookup returns the pre-rendered page count for key. It reports false for
// absent entries and for entries with no pages.
func (m *ManifestStore) Lookup(key string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || e.PageCount <= 0 {
		return 0, false
	}
	return e.PageCount, true
}

// Len returns the number of manifest entries.
func (m *ManifestStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Refresh reloads the manifest. Concurrent refreshes share one fetch. On
// failure the previous contents are kept and the error is returned for
// logging only.
func (m *ManifestStore) Refresh(ctx context.Context) (int, error) {
	if m.url == "" {
		return m.Len(), nil
	}
	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		data, err := m.fetch(ctx)
		if err != nil {
			return 0, err
		}
		m.mu.Lock()
		m.data = data
		m.mu.Unlock()
		return len(data), nil
	})
	if err != nil {
		m.logger.Warn("manifest unavailable, keeping previous entries", "url", m.url, "entries", m.Len(), "error", err)
		return m.Len(), err
	}
	m.logger.Info("manifest loaded", "entries", v)
	return v.(int), nil
}

func (m *ManifestStore) fetch(ctx context.Context) (map[string]ManifestEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building manifest request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return map[string]ManifestEntry{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("manifest returned status %d", resp.StatusCode)
	}
	data := map[string]ManifestEntry{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	return data, nil
}
