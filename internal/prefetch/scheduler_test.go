package prefetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/render"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/config"
)

type fakeRenderer struct {
	mu       sync.Mutex
	order    []string
	cached   map[string]bool
	inflight map[string]bool
	err      error
	gate     chan struct{}
	active   atomic.Int32
	peak     atomic.Int32
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{cached: map[string]bool{}, inflight: map[string]bool{}}
}

func (f *fakeRenderer) Render(ctx context.Context, key string, _ func(render.Progress)) (*render.Sequence, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.order = append(f.order, key)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &render.Sequence{Key: key}, nil
}

func (f *fakeRenderer) Cached(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached[key]
}

func (f *fakeRenderer) InFlight(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight[key]
}

func (f *fakeRenderer) rendered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func testConfig() config.PrefetchConfig {
	return config.PrefetchConfig{Enabled: true, MaxConcurrent: 2, Stagger: 5 * time.Millisecond, Timeout: time.Second}
}

func TestScheduleSkipsCachedAndInFlight(t *testing.T) {
	r := newFakeRenderer()
	r.cached["a"] = true
	r.inflight["b"] = true
	s := NewScheduler(r, testConfig(), nil)
	defer s.Close()

	if s.Schedule("a") || s.Schedule("b") {
		t.Error("cached or in-flight documents must not be prefetched")
	}
	if len(r.rendered()) != 0 {
		t.Errorf("renders = %v", r.rendered())
	}
}

func TestScheduleHoldsTokenUntilDone(t *testing.T) {
	r := newFakeRenderer()
	r.gate = make(chan struct{})
	s := NewScheduler(r, testConfig(), nil)
	defer s.Close()

	if !s.Schedule("doc") {
		t.Fatal("first schedule should start a prefetch")
	}
	if s.Schedule("doc") {
		t.Error("second schedule while pending should be a no-op")
	}
	close(r.gate)
	waitFor(t, func() bool { return !s.Pending("doc") })
	if !s.Schedule("doc") {
		t.Error("token should be released after completion")
	}
}

func TestFailuresAreSwallowedAndReleaseToken(t *testing.T) {
	r := newFakeRenderer()
	r.err = errors.New("source down")
	s := NewScheduler(r, testConfig(), nil)
	defer s.Close()

	s.Schedule("doc")
	waitFor(t, func() bool { return !s.Pending("doc") })
	if len(r.rendered()) != 1 {
		t.Errorf("renders = %v", r.rendered())
	}
}

func TestScheduleNeighborsOrder(t *testing.T) {
	r := newFakeRenderer()
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	cfg.Stagger = 10 * time.Millisecond
	s := NewScheduler(r, cfg, nil)
	defer s.Close()

	if n := s.ScheduleNeighbors([]string{"n1", "n2"}, []string{"p1"}); n != 3 {
		t.Fatalf("scheduled = %d, want 3", n)
	}
	waitFor(t, func() bool { return len(r.rendered()) == 3 })
	got := r.rendered()
	want := []string{"n1", "n2", "p1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestConcurrencyBound(t *testing.T) {
	r := newFakeRenderer()
	r.gate = make(chan struct{})
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	s := NewScheduler(r, cfg, nil)
	defer s.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		s.Schedule(k)
	}
	waitFor(t, func() bool { return r.active.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	close(r.gate)
	waitFor(t, func() bool { return len(r.rendered()) == 4 })
	if p := r.peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestDisabledAndClosed(t *testing.T) {
	r := newFakeRenderer()
	cfg := testConfig()
	cfg.Enabled = false
	if NewScheduler(r, cfg, nil).Schedule("a") {
		t.Error("disabled scheduler accepted work")
	}

	s := NewScheduler(r, testConfig(), nil)
	s.Close()
	if s.Schedule("a") {
		t.Error("closed scheduler accepted work")
	}
}

func TestCloseCancelsPending(t *testing.T) {
	r := newFakeRenderer()
	r.gate = make(chan struct{})
	s := NewScheduler(r, testConfig(), nil)
	s.Schedule("a")
	waitFor(t, func() bool { return r.active.Load() == 1 })

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel the running prefetch")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
