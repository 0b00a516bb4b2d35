// Package prefetch warms the render cache for documents the user is likely
// to open next. Prefetch work is best effort: it never surfaces errors and
// never runs a second pipeline for a document already rendering.
package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/render"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

// Renderer is the part of the render service the scheduler drives.
type Renderer interface {
	Render(ctx context.Context, key string, onPage func(render.Progress)) (*render.Sequence, error)
	Cached(key string) bool
	InFlight(key string) bool
}

type Scheduler struct {
	renderer Renderer
	cfg      config.PrefetchConfig
	sem      *semaphore.Weighted
	metrics  *metrics.Metrics
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	tokens map[string]struct{}
	closed bool
}

func NewScheduler(r Renderer, cfg config.PrefetchConfig, m *metrics.Metrics) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		renderer: r,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		metrics:  m,
		logger:   slog.Default().With("component", "prefetch"),
		ctx:      ctx,
		cancel:   cancel,
		tokens:   make(map[string]struct{}),
	}
}

// Schedule starts a background render of key. It returns false without doing
// anything when key is cached, already rendering, or already scheduled.
func (s *Scheduler) Schedule(key string) bool {
	return s.scheduleAfter(key, 0)
}

// ScheduleNeighbors prefetches next in order, then prev, spacing the starts by
// the configured stagger so the nearest neighbor is warmed first. It returns
// the number of renders scheduled.
func (s *Scheduler) ScheduleNeighbors(next, prev []string) int {
	scheduled := 0
	slot := 0
	for _, keys := range [][]string{next, prev} {
		for _, key := range keys {
			if s.scheduleAfter(key, time.Duration(slot)*s.cfg.Stagger) {
				scheduled++
			}
			slot++
		}
	}
	return scheduled
}

// Pending reports whether key holds a prefetch token.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[key]
	return ok
}

// Close cancels outstanding prefetches and waits for them to stop.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) scheduleAfter(key string, delay time.Duration) bool {
	if !s.cfg.Enabled || key == "" {
		return false
	}
	if s.renderer.Cached(key) || s.renderer.InFlight(key) {
		s.metrics.Prefetch("skipped")
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, held := s.tokens[key]; held {
		s.metrics.Prefetch("skipped")
		return false
	}
	s.tokens[key] = struct{}{}
	s.wg.Add(1)
	go s.run(key, delay)
	return true
}

func (s *Scheduler) run(key string, delay time.Duration) {
	defer s.wg.Done()
	defer s.release(key)

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			return
		}
	}
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)
	if s.renderer.Cached(key) {
		s.metrics.Prefetch("skipped")
		return
	}

	ctx := s.ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	if _, err := s.renderer.Render(ctx, key, nil); err != nil {
		if apperrors.IsCanceled(err) {
			return
		}
		s.metrics.Prefetch("error")
		s.logger.Debug("prefetch failed", "key", key, "error", err)
		return
	}
	s.metrics.Prefetch("ok")
	s.logger.Debug("prefetched", "key", key, "latency_ms", time.Since(start).Milliseconds())
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	delete(s.tokens, key)
	s.mu.Unlock()
}
