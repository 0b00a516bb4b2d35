package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"

	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/postgres"
)

// Lister produces the full document listing.
type Lister interface {
	List(ctx context.Context) ([]Document, error)
}

// HTTPLister fetches the listing as a JSON array of {key, size, uploaded}.
type HTTPLister struct {
	URL    string
	Client *http.Client
}

func (l *HTTPLister) List(ctx context.Context) ([]Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building listing request: %w", err)
	}
	resp, err := httpClient(l.Client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching listing: %w", apperrors.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: listing returned status %d", apperrors.ErrSourceUnavailable, resp.StatusCode)
	}
	return decodeListing(resp.Body)
}

// FileLister reads a listing baked into the deployment as a JSON file.
type FileLister struct {
	Path string
}

func (l *FileLister) List(ctx context.Context) ([]Document, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("opening listing file: %w", err)
	}
	defer f.Close()
	return decodeListing(f)
}

// PostgresLister reads the listing from the documents table.
type PostgresLister struct {
	Client *postgres.Client
}

func (l *PostgresLister) List(ctx context.Context) ([]Document, error) {
	rows, err := l.Client.DB.QueryContext(ctx,
		`SELECT key, size, uploaded FROM documents ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()
	docs := make([]Document, 0, 1024)
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.Key, &d.Size, &d.Uploaded); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

func decodeListing(r io.Reader) ([]Document, error) {
	var docs []Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decoding listing: %w", err)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
