package handler

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/middleware"
)

// StreamPrefixes are the paths that hold a response open for a whole render
// and must be exempt from the request timeout.
var StreamPrefixes = []string{"/api/v1/render/", "/api/v1/sessions/", "/api/v1/pages/"}

// Register mounts the API on mux. A nil prefetchLimiter leaves prefetch hints
// unthrottled.
func (h *Handler) Register(mux *http.ServeMux, prefetchLimiter *middleware.Limiter) {
	var prefetch http.Handler = http.HandlerFunc(h.Prefetch)
	if prefetchLimiter != nil {
		prefetch = middleware.RateLimit(prefetchLimiter)(prefetch)
	}

	mux.HandleFunc("GET /api/v1/documents", h.ListDocuments)
	mux.HandleFunc("GET /api/v1/collections", h.ListCollections)
	mux.HandleFunc("GET /api/v1/position/{key...}", h.Position)
	mux.HandleFunc("GET /api/v1/render/{key...}", h.Render)
	mux.HandleFunc("GET /api/v1/pages/{page}/{key...}", h.Page)
	mux.HandleFunc("GET /api/v1/thumbnails/{key...}", h.Thumbnail)
	mux.HandleFunc("GET /api/v1/entities", h.EntityNames)
	mux.HandleFunc("GET /api/v1/entities/{page}/{key...}", h.PageEntities)
	mux.Handle("POST /api/v1/prefetch/{key...}", prefetch)
	mux.HandleFunc("POST /api/v1/sessions/{id}/open", h.OpenDocument)
	mux.HandleFunc("POST /api/v1/sessions/{id}/input", h.Input)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.DeleteSession)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/clear", h.CacheClear)
	mux.HandleFunc("POST /api/v1/manifest/refresh", h.ManifestRefresh)
}

// Close ends every session's render.
func (h *Handler) Close() {
	for _, id := range h.sessions.Keys() {
		if c, ok := h.sessions.Peek(id); ok {
			c.Close()
		}
	}
	h.sessions.Clear()
}
