package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"image"
	_ "image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/navigation"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/overlay"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/render"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/render/raster"
	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
)

type fakeFetcher struct {
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	f.calls.Add(1)
	if strings.Contains(key, "missing") {
		return nil, apperrors.New(apperrors.ErrDocumentNotFound, http.StatusNotFound, "This document could not be found.")
	}
	return []byte(key), nil
}

func (f *fakeFetcher) Close() error { return nil }

type fakeRasterizer struct {
	pages map[string]int
}

func (r *fakeRasterizer) Open(ctx context.Context, data []byte) (raster.Document, error) {
	return &fakeDocument{pages: r.pages[string(data)]}, nil
}

type fakeDocument struct {
	pages int
}

func (d *fakeDocument) PageCount() int { return d.pages }

func (d *fakeDocument) RenderPage(ctx context.Context, n int) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 20, 10)), nil
}

func (d *fakeDocument) Close() error { return nil }

const overlayJSON = `{
  "court/A.pdf": {"1": [{"name": "Jane Doe", "confidence": 0.97}, {"name": "Low", "confidence": 0.2}]},
  "misc/D.pdf": {"2": [{"name": "John Roe", "confidence": 0.95}]}
}`

type fixture struct {
	h       *Handler
	mux     *http.ServeMux
	fetcher *fakeFetcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cat := catalog.New([]catalog.Document{
		{Key: "court/A.pdf", Size: 300, Uploaded: day},
		{Key: "court/B.pdf", Size: 100, Uploaded: day.Add(24 * time.Hour)},
		{Key: "court/C.pdf", Size: 200, Uploaded: day.Add(48 * time.Hour)},
		{Key: "misc/D.pdf", Size: 50, Uploaded: day.Add(72 * time.Hour)},
	})
	manifest := catalog.NewStaticManifest(map[string]catalog.ManifestEntry{
		"court/B.pdf": {PageCount: 2},
	})
	ds, err := overlay.Parse(strings.NewReader(overlayJSON))
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{fetcher: &fakeFetcher{}}
	svc := render.NewService(render.Deps{
		Fetcher: f.fetcher,
		Rasterizer: &fakeRasterizer{pages: map[string]int{
			"court/A.pdf": 3,
			"court/C.pdf": 1,
			"misc/D.pdf":  2,
		}},
		Manifest: manifest,
	}, render.Options{PagesBaseURL: "http://files.test/jpegs"})

	f.h = New(Deps{Catalog: cat, Manifest: manifest, Render: svc, Overlay: ds}, Options{
		ConfidenceThreshold: 0.9,
		Ahead:               1,
		Behind:              1,
		MaxSessions:         2,
	})
	f.mux = http.NewServeMux()
	f.h.Register(f.mux, nil)
	t.Cleanup(f.h.Close)
	return f
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeEvents(t *testing.T, rec *httptest.ResponseRecorder) []Event {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("Content-Type = %q, body %s", ct, rec.Body.String())
	}
	var events []Event
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad event line %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestListDocumentsFiltersAndSorts(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/documents?collection=court&sort=size&desc=true&limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out documentList
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Total != 3 || len(out.Documents) != 2 {
		t.Fatalf("total=%d len=%d", out.Total, len(out.Documents))
	}
	if out.Documents[0].Key != "court/A.pdf" || out.Documents[1].Key != "court/C.pdf" {
		t.Errorf("order = %s, %s", out.Documents[0].Key, out.Documents[1].Key)
	}
	if out.Documents[0].Collection != "court" {
		t.Errorf("collection = %q", out.Documents[0].Collection)
	}
}

func TestListDocumentsByEntity(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/documents?entity=John+Roe")
	var out documentList
	json.NewDecoder(rec.Body).Decode(&out)
	if out.Total != 1 || out.Documents[0].Key != "misc/D.pdf" {
		t.Errorf("entity filter = %+v", out)
	}

	rec = f.do(http.MethodGet, "/api/v1/documents?offset=-1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative offset status = %d", rec.Code)
	}
}

func TestListCollections(t *testing.T) {
	f := newFixture(t)
	var out []collectionCount
	json.NewDecoder(f.do(http.MethodGet, "/api/v1/collections").Body).Decode(&out)
	if len(out) != 2 || out[0].Name != "court" || out[0].Documents != 3 || out[1].Name != "misc" {
		t.Errorf("collections = %+v", out)
	}
}

func TestRenderStreamsRasterPages(t *testing.T) {
	f := newFixture(t)

	events := decodeEvents(t, f.do(http.MethodGet, "/api/v1/render/court/A.pdf"))
	if len(events) != 4 {
		t.Fatalf("got %d events, want 3 pages and done", len(events))
	}
	for i, e := range events[:3] {
		if e.Type != EventPage || e.Current != i+1 || e.Total != 3 {
			t.Errorf("event %d = %+v", i, e)
		}
	}
	if got := events[0].Page.URL; got != "/api/v1/pages/1/court/A.pdf" {
		t.Errorf("page href = %q", got)
	}
	done := events[3]
	if done.Type != EventDone || done.Origin != render.OriginRaster || done.Pages != 3 {
		t.Errorf("done = %+v", done)
	}
	if done.Position == nil || done.Position.Next != "court/B.pdf" || done.Position.HasPrev {
		t.Errorf("position = %+v", done.Position)
	}

	rec := f.do(http.MethodGet, "/api/v1/pages/2/court/A.pdf")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("page status=%d type=%q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if f.fetcher.calls.Load() != 1 {
		t.Errorf("fetches = %d, want 1", f.fetcher.calls.Load())
	}
}

func TestRenderManifestPagesRedirect(t *testing.T) {
	f := newFixture(t)

	events := decodeEvents(t, f.do(http.MethodGet, "/api/v1/render/court/B.pdf"))
	if len(events) != 3 || events[2].Origin != render.OriginManifest {
		t.Fatalf("events = %+v", events)
	}
	if got := events[0].Page.URL; got != "http://files.test/jpegs/court/B.pdf/page-0001.jpg" {
		t.Errorf("page url = %q", got)
	}

	rec := f.do(http.MethodGet, "/api/v1/pages/2/court/B.pdf")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "http://files.test/jpegs/court/B.pdf/page-0002.jpg" {
		t.Errorf("Location = %q", loc)
	}
	if f.fetcher.calls.Load() != 0 {
		t.Errorf("manifest document was fetched")
	}
}

func TestRenderFailureBeforeFirstPage(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/render/court/missing.pdf")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] != "This document could not be found." {
		t.Errorf("error = %q", body["error"])
	}

	if rec := f.do(http.MethodPost, "/api/v1/sessions/s1/open?key=court/../x.pdf"); rec.Code != http.StatusBadRequest {
		t.Errorf("traversal status = %d", rec.Code)
	}
}

func TestPageOnDemandAndOutOfRange(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(http.MethodGet, "/api/v1/pages/1/court/C.pdf"); rec.Code != http.StatusOK {
		t.Errorf("on-demand status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/pages/5/court/C.pdf"); rec.Code != http.StatusNotFound {
		t.Errorf("out of range status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/pages/zero/court/C.pdf"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad page status = %d", rec.Code)
	}
}

func TestThumbnail(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/thumbnails/misc/D.pdf")
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Fatalf("status = %d, %d bytes", rec.Code, rec.Body.Len())
	}
	if _, _, err := image.Decode(rec.Body); err != nil {
		t.Errorf("thumbnail is not an image: %v", err)
	}
}

func TestEntities(t *testing.T) {
	f := newFixture(t)

	var page pageEntities
	json.NewDecoder(f.do(http.MethodGet, "/api/v1/entities/1/court/A.pdf").Body).Decode(&page)
	if len(page.Detections) != 1 || page.Detections[0].Name != "Jane Doe" {
		t.Errorf("detections = %+v", page.Detections)
	}

	rec := f.do(http.MethodGet, "/api/v1/entities/3/court/A.pdf")
	if !strings.Contains(rec.Body.String(), `"detections":[]`) {
		t.Errorf("empty page body = %s", rec.Body.String())
	}

	var names map[string][]string
	json.NewDecoder(f.do(http.MethodGet, "/api/v1/entities").Body).Decode(&names)
	if len(names["names"]) != 2 {
		t.Errorf("names = %v", names)
	}
}

func TestPrefetch(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(http.MethodPost, "/api/v1/prefetch/court/nope.pdf"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown key status = %d", rec.Code)
	}
	rec := f.do(http.MethodPost, "/api/v1/prefetch/court/A.pdf")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"scheduled":false`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSessionNavigation(t *testing.T) {
	f := newFixture(t)

	events := decodeEvents(t, f.do(http.MethodPost, "/api/v1/sessions/s1/open?key=court/A.pdf&collection=court"))
	last := events[len(events)-1]
	if last.Type != EventDone || last.Key != "court/A.pdf" || last.Position.Total != 3 {
		t.Fatalf("open done = %+v", last)
	}

	events = decodeEvents(t, f.do(http.MethodPost, "/api/v1/sessions/s1/input?action=next"))
	last = events[len(events)-1]
	if last.Type != EventDone || last.Key != "court/B.pdf" {
		t.Fatalf("next done = %+v", last)
	}

	events = decodeEvents(t, f.do(http.MethodPost, "/api/v1/sessions/s1/input?key=ArrowLeft"))
	if last = events[len(events)-1]; last.Key != "court/A.pdf" {
		t.Fatalf("ArrowLeft went to %q", last.Key)
	}

	var e Event
	json.NewDecoder(f.do(http.MethodPost, "/api/v1/sessions/s1/input?action=prev").Body).Decode(&e)
	if e.Type != EventNoop {
		t.Errorf("prev at first document = %+v", e)
	}
	json.NewDecoder(f.do(http.MethodPost, "/api/v1/sessions/s1/input?dx=-10").Body).Decode(&e)
	if e.Type != EventNoop {
		t.Errorf("short swipe = %+v", e)
	}

	events = decodeEvents(t, f.do(http.MethodPost, "/api/v1/sessions/s1/input?dx=-80"))
	if last = events[len(events)-1]; last.Key != "court/B.pdf" {
		t.Fatalf("swipe left went to %q", last.Key)
	}

	var st sessionState
	json.NewDecoder(f.do(http.MethodGet, "/api/v1/sessions/s1").Body).Decode(&st)
	if st.Current != "court/B.pdf" || st.Position.Index != 1 {
		t.Errorf("session = %+v", st)
	}

	json.NewDecoder(f.do(http.MethodPost, "/api/v1/sessions/s1/input?key=Escape").Body).Decode(&e)
	if e.Type != EventClosed {
		t.Errorf("Escape = %+v", e)
	}
	json.NewDecoder(f.do(http.MethodGet, "/api/v1/sessions/s1").Body).Decode(&st)
	if st.Current != "" {
		t.Errorf("current after close = %q", st.Current)
	}
}

func TestSessionErrors(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(http.MethodPost, "/api/v1/sessions/ghost/input?action=next"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d", rec.Code)
	}
	decodeEvents(t, f.do(http.MethodPost, "/api/v1/sessions/s1/open?key=court/A.pdf"))
	if rec := f.do(http.MethodPost, "/api/v1/sessions/s1/input?action=jump"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad action status = %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/v1/sessions/s1/input"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing action status = %d", rec.Code)
	}
	if rec := f.do(http.MethodDelete, "/api/v1/sessions/s1"); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/sessions/s1"); rec.Code != http.StatusNotFound {
		t.Errorf("deleted session status = %d", rec.Code)
	}
}

func TestSessionsAreBounded(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		decodeEvents(t, f.do(http.MethodPost, "/api/v1/sessions/"+id+"/open?key=court/C.pdf"))
	}
	if rec := f.do(http.MethodGet, "/api/v1/sessions/a"); rec.Code != http.StatusNotFound {
		t.Errorf("oldest session kept, status = %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/sessions/c"); rec.Code != http.StatusOK {
		t.Errorf("newest session status = %d", rec.Code)
	}
}

func TestConcurrentSessionOpenSharesController(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	got := make([]*navigation.Controller, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = f.h.session("s1")
		}(i)
	}
	wg.Wait()
	for i, c := range got {
		if c != got[0] {
			t.Fatalf("caller %d got a different controller", i)
		}
	}
	if n := f.h.sessions.Len(); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	f := newFixture(t)
	decodeEvents(t, f.do(http.MethodGet, "/api/v1/render/court/A.pdf"))

	var st cacheStats
	json.NewDecoder(f.do(http.MethodGet, "/api/v1/cache/stats").Body).Decode(&st)
	if st.PageEntries != 1 || st.ManifestEntries != 1 {
		t.Errorf("stats = %+v", st)
	}

	if rec := f.do(http.MethodPost, "/api/v1/cache/clear"); rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rec.Code)
	}
	json.NewDecoder(f.do(http.MethodGet, "/api/v1/cache/stats").Body).Decode(&st)
	if st.PageEntries != 0 {
		t.Errorf("entries after clear = %d", st.PageEntries)
	}
}

func TestManifestRefreshStatic(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/manifest/refresh")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"entries":1`) {
		t.Errorf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestPageHrefEscapesSegments(t *testing.T) {
	if got := pageHref("court/a b.pdf", 3); got != "/api/v1/pages/3/court/a%20b.pdf" {
		t.Errorf("pageHref = %q", got)
	}
}
