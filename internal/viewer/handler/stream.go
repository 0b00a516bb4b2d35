package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/navigation"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/render"
	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
)

// Event is one line of an NDJSON render stream.
type Event struct {
	Type     string               `json:"type"`
	Key      string               `json:"key,omitempty"`
	Page     *render.Page         `json:"page,omitempty"`
	Current  int                  `json:"current,omitempty"`
	Total    int                  `json:"total,omitempty"`
	Origin   render.Origin        `json:"origin,omitempty"`
	Pages    int                  `json:"pages,omitempty"`
	Position *navigation.Position `json:"position,omitempty"`
	Action   string               `json:"action,omitempty"`
	Error    string               `json:"error,omitempty"`
	Status   int                  `json:"status,omitempty"`
}

const (
	EventPage   = "page"
	EventDone   = "done"
	EventError  = "error"
	EventNoop   = "noop"
	EventClosed = "closed"
)

// eventStream writes NDJSON events. The response header is written with the
// first event, so a failure before any page still gets a real status code.
type eventStream struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	enc     *json.Encoder
	key     string
	started bool
}

func newEventStream(w http.ResponseWriter, key string) *eventStream {
	return &eventStream{w: w, rc: http.NewResponseController(w), enc: json.NewEncoder(w), key: key}
}

func (es *eventStream) send(e Event) {
	if !es.started {
		es.w.Header().Set("Content-Type", "application/x-ndjson")
		es.w.Header().Set("Cache-Control", "no-store")
		es.w.WriteHeader(http.StatusOK)
		es.started = true
	}
	if err := es.enc.Encode(e); err != nil {
		return
	}
	es.rc.Flush()
}

func (es *eventStream) page(p render.Progress) {
	pg := p.Page
	if pg.URL == "" {
		pg.URL = pageHref(es.key, pg.Number)
	}
	es.send(Event{Type: EventPage, Key: es.key, Page: &pg, Current: p.Current, Total: p.Total})
}

func (es *eventStream) done(seq *render.Sequence, pos *navigation.Position) {
	es.send(Event{Type: EventDone, Key: es.key, Origin: seq.Origin, Pages: len(seq.Pages), Position: pos})
}

func (es *eventStream) fail(err error) {
	status := apperrors.HTTPStatusCode(err)
	msg := apperrors.UserMessage(err)
	if !es.started {
		es.w.Header().Set("Content-Type", "application/json")
		es.w.WriteHeader(status)
		json.NewEncoder(es.w).Encode(map[string]string{"error": msg})
		return
	}
	es.send(Event{Type: EventError, Key: es.key, Error: msg, Status: status})
}

// pageHref is the API path serving a rasterized page's bytes.
func pageHref(key string, n int) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("/api/v1/pages/%d/%s", n, strings.Join(segs, "/"))
}
