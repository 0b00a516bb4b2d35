// Package render turns a document key into an ordered sequence of page
// images. It owns the page-sequence cache and coalesces concurrent renders of
// the same key so that at most one pipeline runs per document.
package render

import "time"

// Origin says where a sequence's pages came from.
type Origin string

const (
	OriginCache    Origin = "cache"
	OriginManifest Origin = "manifest"
	OriginRaster   Origin = "raster"
)

// Page is one rendered page. Manifest pages carry a URL, rasterized pages
// carry encoded bytes.
type Page struct {
	Number      int    `json:"number"`
	URL         string `json:"url,omitempty"`
	Data        []byte `json:"-"`
	ContentType string `json:"contentType"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// Sequence is the complete ordered page list of a document.
type Sequence struct {
	Key        string    `json:"key"`
	Origin     Origin    `json:"origin"`
	Pages      []Page    `json:"pages"`
	RenderedAt time.Time `json:"renderedAt"`
}

// Progress reports one completed page. Pages holds every page completed so
// far in order, ending with Page; it must not be modified.
type Progress struct {
	Page    Page
	Pages   []Page
	Current int
	Total   int
}

// Stats is a point-in-time view of the render caches.
type Stats struct {
	PageEntries       int   `json:"pageEntries"`
	PageCapacity      int   `json:"pageCapacity"`
	PageHits          int64 `json:"pageHits"`
	PageMisses        int64 `json:"pageMisses"`
	InFlight          int   `json:"inFlight"`
	ThumbnailEntries  int   `json:"thumbnailEntries"`
	ThumbnailCapacity int   `json:"thumbnailCapacity"`
	ThumbnailHits     int64 `json:"thumbnailHits"`
	ThumbnailMisses   int64 `json:"thumbnailMisses"`
}
