package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/render/raster"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/source"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/tracing"
)

const pageCacheName = "pages"

// Manifest reports pre-rendered page counts.
type Manifest interface {
	Lookup(key string) (int, bool)
}

// Options tune the pipeline. Zero values fall back to the config defaults.
type Options struct {
	PagesBaseURL      string
	VerifyPrerendered bool
	MaxWidth          int
	JPEGQuality       int
	PageTimeout       time.Duration
	PageCapacity      int
	ThumbnailWidth    int
}

// OptionsFromConfig collects the render options spread over several config
// sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PagesBaseURL:      cfg.Source.PagesBaseURL,
		VerifyPrerendered: cfg.Render.VerifyPrerendered,
		MaxWidth:          cfg.Render.MaxWidth,
		JPEGQuality:       cfg.Render.JPEGQuality,
		PageTimeout:       cfg.Render.PageTimeout,
		PageCapacity:      cfg.Cache.PageCapacity,
		ThumbnailWidth:    cfg.Cache.ThumbnailWidth,
	}
}

// Deps are the collaborators of a Service. Manifest, Pages and Thumbnails
// may be nil.
type Deps struct {
	Fetcher    source.Fetcher
	Rasterizer raster.Rasterizer
	Manifest   Manifest
	Pages      PageClient
	Thumbnails *cache.ThumbnailStore
	Metrics    *metrics.Metrics
}

// Service is the process-wide render pipeline.
type Service struct {
	fetcher  source.Fetcher
	raster   raster.Rasterizer
	manifest Manifest
	pages    PageClient
	thumbs   *cache.ThumbnailStore
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu       sync.Mutex
	cache    *cache.LRU[string, *Sequence]
	inflight map[string]*call

	hits   atomic.Int64
	misses atomic.Int64
}

func NewService(deps Deps, opts Options) *Service {
	if opts.PageCapacity <= 0 {
		opts.PageCapacity = 20
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 85
	}
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = 240
	}
	if deps.Pages == nil {
		deps.Pages = NewHTTPPageClient(&http.Client{Timeout: 30 * time.Second})
	}
	if deps.Thumbnails == nil {
		deps.Thumbnails = cache.NewThumbnailStore(500, nil, 0, deps.Metrics)
	}
	s := &Service{
		fetcher:  deps.Fetcher,
		raster:   deps.Rasterizer,
		manifest: deps.Manifest,
		pages:    deps.Pages,
		thumbs:   deps.Thumbnails,
		opts:     opts,
		metrics:  deps.Metrics,
		logger:   slog.Default().With("component", "render"),
		inflight: make(map[string]*call),
	}
	s.cache = cache.NewLRU(opts.PageCapacity, cache.WithEvictCallback(func(key string, _ *Sequence) {
		s.metrics.CacheEvicted(pageCacheName)
		s.logger.Debug("evicted page sequence", "key", key)
	}))
	return s
}

// Render returns the page sequence for key. onPage, if non-nil, is called in
// page order on the caller's goroutine for every page, including pages that a
// shared in-flight render produced before this caller attached. A cached
// sequence is replayed through onPage without any I/O.
//
// Cancelling ctx stops the render before the next page and nothing is
// cached. A zero-page document yields an empty, uncached sequence.
func (s *Service) Render(ctx context.Context, key string, onPage func(Progress)) (*Sequence, error) {
	if err := source.ValidateKey(key); err != nil {
		return nil, err
	}
	// A follower that restarts as leader has already delivered some pages;
	// only pages after those reach onPage again.
	delivered := 0
	if onPage != nil {
		deliver := onPage
		onPage = func(p Progress) {
			if p.Current <= delivered {
				return
			}
			delivered = p.Current
			deliver(p)
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.Lock()
		if seq, ok := s.cache.Get(key); ok {
			s.mu.Unlock()
			s.hits.Add(1)
			s.metrics.CacheLookup(pageCacheName, true)
			s.metrics.ObserveRender(string(OriginCache), "ok", len(seq.Pages), 0)
			replay(seq, onPage)
			return seq, nil
		}
		if c, ok := s.inflight[key]; ok {
			s.mu.Unlock()
			s.metrics.Coalesced()
			seq, err, retry := follow(ctx, c, onPage)
			if retry {
				s.logger.Debug("shared render abandoned by its leader, restarting", "key", key)
				continue
			}
			return seq, err
		}
		c := newCall()
		s.inflight[key] = c
		s.mu.Unlock()
		s.misses.Add(1)
		s.metrics.CacheLookup(pageCacheName, false)
		return s.lead(ctx, key, c, onPage)
	}
}

func (s *Service) lead(ctx context.Context, key string, c *call, onPage func(Progress)) (*Sequence, error) {
	start := time.Now()
	s.metrics.RenderStarted()
	defer s.metrics.RenderFinished()

	ctx, span := tracing.Start(ctx, "render", logger.RequestID(ctx))
	span.SetAttr("key", key)
	defer func() {
		span.End()
		span.Log(s.logger)
	}()

	seq, err := s.run(ctx, key, func(p Progress) {
		c.publish(p)
		if onPage != nil {
			onPage(p)
		}
	})

	s.mu.Lock()
	if err == nil && len(seq.Pages) > 0 {
		s.cache.Set(key, seq)
		s.metrics.CacheSize(pageCacheName, s.cache.Len())
	}
	delete(s.inflight, key)
	s.mu.Unlock()

	abandoned := err != nil && ctx.Err() != nil
	c.finish(seq, err, abandoned)
	s.observe(key, seq, err, abandoned, time.Since(start))
	return seq, err
}

// follow waits on a call someone else is leading. It reports retry when the
// leader gave up and the caller still wants the document.
func follow(ctx context.Context, c *call, onPage func(Progress)) (*Sequence, error, bool) {
	seen := 0
	for {
		pending, changed := c.since(seen)
		for _, p := range pending {
			if onPage != nil {
				onPage(p)
			}
		}
		seen += len(pending)
		select {
		case <-changed:
		case <-c.done:
			pending, _ = c.since(seen)
			for _, p := range pending {
				if onPage != nil {
					onPage(p)
				}
			}
			seq, err, abandoned := c.result()
			if abandoned && ctx.Err() == nil {
				return nil, nil, true
			}
			return seq, err, false
		case <-ctx.Done():
			return nil, ctx.Err(), false
		}
	}
}

func replay(seq *Sequence, onPage func(Progress)) {
	if onPage == nil {
		return
	}
	total := len(seq.Pages)
	for i, p := range seq.Pages {
		onPage(Progress{Page: p, Pages: seq.Pages[: i+1 : i+1], Current: i + 1, Total: total})
	}
}

func (s *Service) run(ctx context.Context, key string, emit func(Progress)) (*Sequence, error) {
	if s.manifest != nil {
		if n, ok := s.manifest.Lookup(key); ok {
			return s.renderManifest(ctx, key, n, emit)
		}
	}
	return s.renderRaster(ctx, key, emit)
}

func (s *Service) renderRaster(ctx context.Context, key string, emit func(Progress)) (*Sequence, error) {
	_, fetchSpan := tracing.Start(ctx, "fetch", "")
	data, err := s.fetcher.Fetch(ctx, key)
	fetchSpan.SetAttr("bytes", len(data))
	fetchSpan.End()
	if err != nil {
		return nil, err
	}
	_, openSpan := tracing.Start(ctx, "open", "")
	doc, err := s.raster.Open(ctx, data)
	openSpan.End()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(apperrors.ErrCorruptDocument, err, "This document could not be read.")
	}
	defer doc.Close()

	total := doc.PageCount()
	seq := &Sequence{Key: key, Origin: OriginRaster, Pages: make([]Page, 0, total)}
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, pageSpan := tracing.Start(ctx, "page", "")
		pageSpan.SetAttr("page", n)
		img, err := resilience.CallWithTimeout(ctx, s.opts.PageTimeout, "render page", func(ctx context.Context) (image.Image, error) {
			return doc.RenderPage(ctx, n)
		})
		if err != nil {
			pageSpan.End()
			return nil, s.pageError(ctx, key, n, err)
		}
		page, err := encodePage(img, n, s.opts.MaxWidth, s.opts.JPEGQuality)
		pageSpan.End()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrRenderFailed, err, fmt.Sprintf("Page %d could not be rendered.", n))
		}
		seq.Pages = append(seq.Pages, page)
		emit(Progress{Page: page, Pages: seq.Pages[:n:n], Current: n, Total: total})
	}
	seq.RenderedAt = time.Now()
	return seq, nil
}

func (s *Service) pageError(ctx context.Context, key string, n int, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.ErrTimeout, err, fmt.Sprintf("Page %d took too long to render.", n))
	default:
		return apperrors.Wrap(apperrors.ErrRenderFailed, fmt.Errorf("%s page %d: %w", key, n, err), fmt.Sprintf("Page %d could not be rendered.", n))
	}
}

func (s *Service) observe(key string, seq *Sequence, err error, abandoned bool, d time.Duration) {
	switch {
	case err == nil:
		outcome := "ok"
		if len(seq.Pages) == 0 {
			outcome = "empty"
		}
		s.metrics.ObserveRender(string(seq.Origin), outcome, len(seq.Pages), d)
		s.logger.Info("document rendered", "key", key, "origin", seq.Origin, "pages", len(seq.Pages), "latency_ms", d.Milliseconds())
	case abandoned || apperrors.IsCanceled(err):
		s.metrics.ObserveRender("none", "canceled", 0, d)
		s.logger.Debug("render canceled", "key", key, "after_ms", d.Milliseconds())
	default:
		s.metrics.ObserveRender("none", "error", 0, d)
		s.logger.Warn("render failed", "key", key, "error", err, "latency_ms", d.Milliseconds())
	}
}

// Cached reports whether key has a complete sequence in the cache. It does
// not change recency.
func (s *Service) Cached(key string) bool {
	return s.cache.Has(key)
}

// InFlight reports whether a render of key is running.
func (s *Service) InFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[key]
	return ok
}

// Page returns page n (1-based) of a cached sequence.
func (s *Service) Page(key string, n int) (Page, bool) {
	seq, ok := s.cache.Get(key)
	if !ok || n < 1 || n > len(seq.Pages) {
		return Page{}, false
	}
	return seq.Pages[n-1], true
}

// Evict drops key from the page cache.
func (s *Service) Evict(key string) bool {
	ok := s.cache.Delete(key)
	s.metrics.CacheSize(pageCacheName, s.cache.Len())
	return ok
}

// ClearCache drops every cached sequence and the in-memory thumbnails. It is
// the response to a memory-pressure signal; running renders are unaffected.
func (s *Service) ClearCache() {
	s.cache.Clear()
	s.thumbs.ClearMemory()
	s.metrics.CacheSize(pageCacheName, 0)
	s.logger.Info("render caches cleared")
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	inflight := len(s.inflight)
	s.mu.Unlock()
	th, tm := s.thumbs.Stats()
	return Stats{
		PageEntries:       s.cache.Len(),
		PageCapacity:      s.cache.Cap(),
		PageHits:          s.hits.Load(),
		PageMisses:        s.misses.Load(),
		InFlight:          inflight,
		ThumbnailEntries:  s.thumbs.Len(),
		ThumbnailCapacity: s.thumbs.Cap(),
		ThumbnailHits:     th,
		ThumbnailMisses:   tm,
	}
}
