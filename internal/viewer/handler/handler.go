// Package handler exposes the viewer over HTTP: the filtered document
// listing, NDJSON render streams, page and thumbnail images, entity
// overlays, prefetch hints and per-session navigation.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/navigation"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/overlay"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/prefetch"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/render"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/source"
	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/middleware"
)

// Deps are the components the handler serves. Prefetch, Overlay, Manifest
// and Collector may be nil.
type Deps struct {
	Catalog   *catalog.Catalog
	Manifest  *catalog.ManifestStore
	Render    *render.Service
	Prefetch  *prefetch.Scheduler
	Overlay   *overlay.Dataset
	Collector *analytics.Collector
}

// Options hold the request-independent knobs.
type Options struct {
	ConfidenceThreshold float64
	Ahead               int
	Behind              int
	MaxSessions         int
}

type Handler struct {
	catalog   *catalog.Catalog
	manifest  *catalog.ManifestStore
	render    *render.Service
	prefetch  *prefetch.Scheduler
	overlay   *overlay.Dataset
	collector *analytics.Collector
	opts      Options
	sessions  *cache.LRU[string, *navigation.Controller]
	logger    *slog.Logger
}

func New(deps Deps, opts Options) *Handler {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 1000
	}
	if deps.Overlay == nil {
		deps.Overlay = overlay.Empty()
	}
	h := &Handler{
		catalog:   deps.Catalog,
		manifest:  deps.Manifest,
		render:    deps.Render,
		prefetch:  deps.Prefetch,
		overlay:   deps.Overlay,
		collector: deps.Collector,
		opts:      opts,
		logger:    slog.Default().With("component", "viewer-handler"),
	}
	h.sessions = cache.NewLRU(opts.MaxSessions, cache.WithEvictCallback(func(id string, c *navigation.Controller) {
		c.Close()
		h.logger.Debug("session evicted", "session", id)
	}))
	return h
}

type documentItem struct {
	catalog.Document
	Collection  string `json:"collection"`
	Prerendered int    `json:"prerenderedPages,omitempty"`
	Cached      bool   `json:"cached"`
}

type documentList struct {
	Total     int            `json:"total"`
	Offset    int            `json:"offset"`
	Documents []documentItem `json:"documents"`
}

// ListDocuments serves GET /api/v1/documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	view := h.viewFor(r)
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		h.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil || limit < 0 {
		h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	docs := view.Documents()
	if offset > len(docs) {
		offset = len(docs)
	}
	docs = docs[offset:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	items := make([]documentItem, 0, len(docs))
	for _, d := range docs {
		item := documentItem{Document: d, Collection: d.Collection(), Cached: h.render.Cached(d.Key)}
		if h.manifest != nil {
			item.Prerendered, _ = h.manifest.Lookup(d.Key)
		}
		items = append(items, item)
	}
	h.writeJSON(w, http.StatusOK, documentList{Total: view.Len(), Offset: offset, Documents: items})
}

type collectionCount struct {
	Name      string `json:"name"`
	Documents int    `json:"documents"`
}

// ListCollections serves GET /api/v1/collections for the filter dropdown.
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	for _, d := range h.catalog.Documents() {
		counts[d.Collection()]++
	}
	out := make([]collectionCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, collectionCount{Name: name, Documents: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	h.writeJSON(w, http.StatusOK, out)
}

// Position serves GET /api/v1/position/{key...}.
func (h *Handler) Position(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	h.writeJSON(w, http.StatusOK, h.viewFor(r).Position(key))
}

// Render serves GET /api/v1/render/{key...} as an NDJSON stream. The render
// is canceled when the client goes away.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := source.ValidateKey(key); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	start := time.Now()
	cached := h.render.Cached(key)
	es := newEventStream(w, key)
	seq, err := h.render.Render(r.Context(), key, es.page)
	if err != nil {
		h.finishWithError(r, es, key, err)
		return
	}
	pos := h.viewFor(r).Position(key)
	es.done(seq, &pos)
	h.track(r, analytics.ViewEvent{
		Type:      analytics.EventOpen,
		Key:       key,
		Origin:    string(seq.Origin),
		Pages:     len(seq.Pages),
		LatencyMs: time.Since(start).Milliseconds(),
		CacheHit:  cached,
	})
}

// Page serves GET /api/v1/pages/{page}/{key...}. Rasterized pages are
// written directly; pre-rendered pages redirect to the file server.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	n, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || n < 1 {
		h.writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	page, ok := h.render.Page(key, n)
	if !ok {
		seq, err := h.render.Render(r.Context(), key, nil)
		if err != nil {
			h.writeAppError(w, r, err)
			return
		}
		if n > len(seq.Pages) {
			h.writeError(w, http.StatusNotFound, "page out of range")
			return
		}
		page = seq.Pages[n-1]
	}
	if page.Data == nil {
		http.Redirect(w, r, page.URL, http.StatusFound)
		return
	}
	writeImage(w, page.ContentType, page.Data)
}

// Thumbnail serves GET /api/v1/thumbnails/{key...}.
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := source.ValidateKey(key); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	start := time.Now()
	data, err := h.render.Thumbnail(r.Context(), key)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.track(r, analytics.ViewEvent{Type: analytics.EventThumbnail, Key: key, LatencyMs: time.Since(start).Milliseconds()})
	writeImage(w, "image/jpeg", data)
}

type pageEntities struct {
	Key        string              `json:"key"`
	Page       int                 `json:"page"`
	Detections []overlay.Detection `json:"detections"`
}

// PageEntities serves GET /api/v1/entities/{page}/{key...}.
func (h *Handler) PageEntities(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || n < 1 {
		h.writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	key := r.PathValue("key")
	dets := h.overlay.ForPage(key, n, h.opts.ConfidenceThreshold)
	if dets == nil {
		dets = []overlay.Detection{}
	}
	h.writeJSON(w, http.StatusOK, pageEntities{Key: key, Page: n, Detections: dets})
}

// EntityNames serves GET /api/v1/entities.
func (h *Handler) EntityNames(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string][]string{"names": h.overlay.Names(h.opts.ConfidenceThreshold)})
}

// Prefetch serves POST /api/v1/prefetch/{key...}, sent on hover or focus of a
// listing entry.
func (h *Handler) Prefetch(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := source.ValidateKey(key); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	if _, ok := h.catalog.Get(key); !ok {
		h.writeError(w, http.StatusNotFound, "unknown document")
		return
	}
	scheduled := false
	if h.prefetch != nil {
		scheduled = h.prefetch.Schedule(key)
	}
	if scheduled {
		h.track(r, analytics.ViewEvent{Type: analytics.EventPrefetch, Key: key})
	}
	h.writeJSON(w, http.StatusAccepted, map[string]bool{"scheduled": scheduled})
}

type cacheStats struct {
	render.Stats
	ManifestEntries int   `json:"manifestEntries"`
	EventsPublished int64 `json:"eventsPublished"`
	EventsDropped   int64 `json:"eventsDropped"`
	Sessions        int   `json:"sessions"`
}

// CacheStats serves GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	st := cacheStats{Stats: h.render.Stats(), Sessions: h.sessions.Len()}
	if h.manifest != nil {
		st.ManifestEntries = h.manifest.Len()
	}
	if h.collector != nil {
		st.EventsPublished, st.EventsDropped = h.collector.Stats()
	}
	h.writeJSON(w, http.StatusOK, st)
}

// CacheClear serves POST /api/v1/cache/clear, the memory-pressure signal.
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	h.render.ClearCache()
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ManifestRefresh serves POST /api/v1/manifest/refresh.
func (h *Handler) ManifestRefresh(w http.ResponseWriter, r *http.Request) {
	if h.manifest == nil {
		h.writeError(w, http.StatusServiceUnavailable, "manifest is disabled")
		return
	}
	n, err := h.manifest.Refresh(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusBadGateway, map[string]any{"error": "manifest unavailable", "entries": n})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"entries": n})
}

// viewFor builds the filtered, sorted view described by the query string.
func (h *Handler) viewFor(r *http.Request) *navigation.View {
	q := r.URL.Query()
	filter := navigation.Filter{
		Collection:    q.Get("collection"),
		Entity:        q.Get("entity"),
		MinConfidence: h.opts.ConfidenceThreshold,
		Text:          q.Get("q"),
	}
	desc, _ := strconv.ParseBool(q.Get("desc"))
	s := navigation.Sort{Field: navigation.ParseSortField(q.Get("sort")), Descending: desc}
	return navigation.BuildView(h.catalog.Documents(), filter, s, h.overlay)
}

func (h *Handler) finishWithError(r *http.Request, es *eventStream, key string, err error) {
	if apperrors.IsCanceled(err) {
		logger.FromContext(r.Context()).Debug("render stream canceled", "key", key)
		return
	}
	logger.FromContext(r.Context()).Warn("render failed", "key", key, "error", err)
	es.fail(err)
	h.track(r, analytics.ViewEvent{Type: analytics.EventFailure, Key: key, Error: apperrors.UserMessage(err)})
}

func (h *Handler) track(r *http.Request, e analytics.ViewEvent) {
	if h.collector == nil {
		return
	}
	e.RequestID = middleware.GetRequestID(r.Context())
	h.collector.Track(e)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.IsCanceled(err) {
		return
	}
	status := apperrors.HTTPStatusCode(err)
	if status >= 500 {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeError(w, status, apperrors.UserMessage(err))
}

func writeImage(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("not an integer")
	}
	return n, nil
}
