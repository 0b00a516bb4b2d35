package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/resilience"
	"golang.org/x/sync/errgroup"
)

// Catalog is the immutable document listing for the process lifetime.
type Catalog struct {
	docs  []Document
	byKey map[string]int
}

// New builds a Catalog from docs. Duplicate keys keep the first occurrence.
func New(docs []Document) *Catalog {
	c := &Catalog{
		docs:  make([]Document, 0, len(docs)),
		byKey: make(map[string]int, len(docs)),
	}
	for _, d := range docs {
		if d.Key == "" {
			continue
		}
		if _, dup := c.byKey[d.Key]; dup {
			continue
		}
		c.byKey[d.Key] = len(c.docs)
		c.docs = append(c.docs, d)
	}
	return c
}

// Documents returns the listing. Callers must not modify the slice.
func (c *Catalog) Documents() []Document {
	return c.docs
}

func (c *Catalog) Get(key string) (Document, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Document{}, false
	}
	return c.docs[i], true
}

func (c *Catalog) Len() int {
	return len(c.docs)
}

// Load fetches the listing (with retries) and refreshes the manifest
// concurrently. Only a listing failure is fatal.
func Load(ctx context.Context, lister Lister, manifest *ManifestStore, retry resilience.RetryConfig) (*Catalog, error) {
	var docs []Document
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return resilience.Retry(gctx, "document-listing", retry, func() error {
			var err error
			docs, err = lister.List(gctx)
			return err
		})
	})
	if manifest != nil {
		g.Go(func() error {
			// Manifest failures degrade to rasterization; never fail the load.
			manifest.Refresh(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	c := New(docs)
	slog.Info("catalog loaded", "documents", c.Len())
	return c, nil
}

// RetryableListingError reports whether a listing failure is transient.
func RetryableListingError(err error) bool {
	return errors.Is(err, apperrors.ErrSourceUnavailable)
}
