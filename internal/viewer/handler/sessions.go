package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/navigation"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/render"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/source"
	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
)

// EventCanceled ends a session stream whose render was superseded by a later
// open or navigation in the same session.
const EventCanceled = "canceled"

var (
	errUnknownAction = errors.New("action must be prev, next or close")
	errBadSwipe      = errors.New("dx must be a number")
	errMissingAction = errors.New("one of action, key or dx is required")
)

func (h *Handler) session(id string) *navigation.Controller {
	c, _ := h.sessions.GetOrSet(id, func() *navigation.Controller {
		var pf navigation.Prefetcher
		if h.prefetch != nil {
			pf = h.prefetch
		}
		return navigation.NewController(nil, h.render, pf, h.opts.Ahead, h.opts.Behind)
	})
	return c
}

type sessionState struct {
	ID       string              `json:"id"`
	Current  string              `json:"current,omitempty"`
	Position navigation.Position `json:"position"`
}

// OpenDocument serves POST /api/v1/sessions/{id}/open?key=... . The query's
// filter and sort parameters replace the session's view, then the document is
// rendered as an NDJSON stream.
func (h *Handler) OpenDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	key := r.URL.Query().Get("key")
	if err := source.ValidateKey(key); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	c := h.session(id)
	c.SetView(h.viewFor(r))

	start := time.Now()
	cached := h.render.Cached(key)
	es := newEventStream(w, key)
	seq, err := c.Open(r.Context(), key, es.page)
	h.finishSession(r, c, es, key, seq, err)
	if err == nil {
		h.track(r, analytics.ViewEvent{
			Type:      analytics.EventOpen,
			Key:       key,
			Origin:    string(seq.Origin),
			Pages:     len(seq.Pages),
			LatencyMs: time.Since(start).Milliseconds(),
			CacheHit:  cached,
			Session:   id,
		})
	}
}

// Input serves POST /api/v1/sessions/{id}/input. The action comes from one of
// action=prev|next|close, key=<KeyboardEvent.key> or dx=<swipe delta>.
func (h *Handler) Input(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, ok := h.sessions.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	action, err := actionFor(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch action {
	case navigation.ActionNone:
		h.writeJSON(w, http.StatusOK, Event{Type: EventNoop})
		return
	case navigation.ActionClose:
		c.Close()
		h.writeJSON(w, http.StatusOK, Event{Type: EventClosed, Action: action.String()})
		return
	}

	pos := c.Position()
	target := pos.Next
	if action == navigation.ActionPrev {
		target = pos.Prev
	}
	if target == "" {
		h.writeJSON(w, http.StatusOK, Event{Type: EventNoop, Action: action.String(), Position: &pos})
		return
	}

	start := time.Now()
	cached := h.render.Cached(target)
	es := newEventStream(w, target)
	seq, err := c.Open(r.Context(), target, es.page)
	h.finishSession(r, c, es, target, seq, err)
	if err == nil {
		h.track(r, analytics.ViewEvent{
			Type:      analytics.EventNavigate,
			Key:       target,
			Origin:    string(seq.Origin),
			Pages:     len(seq.Pages),
			LatencyMs: time.Since(start).Milliseconds(),
			CacheHit:  cached,
			Action:    action.String(),
			Session:   id,
		})
	}
}

// GetSession serves GET /api/v1/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, ok := h.sessions.Peek(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	current, _ := c.Current()
	h.writeJSON(w, http.StatusOK, sessionState{ID: id, Current: current, Position: c.Position()})
}

// DeleteSession serves DELETE /api/v1/sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, ok := h.sessions.Peek(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	c.Close()
	h.sessions.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) finishSession(r *http.Request, c *navigation.Controller, es *eventStream, key string, seq *render.Sequence, err error) {
	if err == nil {
		pos := c.View().Position(key)
		es.done(seq, &pos)
		return
	}
	if apperrors.IsCanceled(err) && r.Context().Err() == nil {
		es.send(Event{Type: EventCanceled, Key: key})
		return
	}
	h.finishWithError(r, es, key, err)
}

func actionFor(r *http.Request) (navigation.Action, error) {
	q := r.URL.Query()
	switch {
	case q.Has("action"):
		a := navigation.ParseAction(q.Get("action"))
		if a == navigation.ActionNone {
			return a, errUnknownAction
		}
		return a, nil
	case q.Has("key"):
		return navigation.ActionForKey(q.Get("key")), nil
	case q.Has("dx"):
		dx, err := strconv.ParseFloat(q.Get("dx"), 64)
		if err != nil {
			return navigation.ActionNone, errBadSwipe
		}
		return navigation.ActionForSwipe(dx, navigation.DefaultSwipeThreshold), nil
	}
	return navigation.ActionNone, errMissingAction
}
