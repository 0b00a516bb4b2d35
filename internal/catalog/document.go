// Package catalog holds the read-only document listing and the render
// manifest. Both are loaded from external sources at startup; the listing is
// never mutated afterwards, only filtered and sorted by views.
package catalog

import (
	"strings"
	"time"
)

// Document identifies one source file in the collection.
type Document struct {
	Key      string    `json:"key"`
	Size     int64     `json:"size"`
	Uploaded time.Time `json:"uploaded"`
}

// Collection is the first path segment of the key, or "" for top-level files.
func (d Document) Collection() string {
	if i := strings.IndexByte(d.Key, '/'); i > 0 {
		return d.Key[:i]
	}
	return ""
}

// Name is the last path segment of the key.
func (d Document) Name() string {
	if i := strings.LastIndexByte(d.Key, '/'); i >= 0 {
		return d.Key[i+1:]
	}
	return d.Key
}

// ManifestEntry describes a document that has been rendered to page images
// ahead of time.
type ManifestEntry struct {
	PageCount int `json:"pageCount"`
}
