// Package metrics defines the Prometheus metric collectors used by the viewer
// and exposes an HTTP handler for scraping. A nil *Metrics is a valid no-op
// sink so components can be built without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the viewer.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RendersTotal         *prometheus.CounterVec
	RenderDuration       *prometheus.HistogramVec
	PagesRenderedTotal   *prometheus.CounterVec
	RendersInFlight      prometheus.Gauge
	CoalescedTotal       prometheus.Counter
	CacheHitsTotal       *prometheus.CounterVec
	CacheMissesTotal     *prometheus.CounterVec
	CacheEvictionsTotal  *prometheus.CounterVec
	CacheEntries         *prometheus.GaugeVec
	PrefetchTotal        *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "document_renders_total",
				Help: "Document render attempts by origin (cache, manifest, raster) and outcome (ok, empty, canceled, error).",
			},
			[]string{"origin", "outcome"},
		),
		RenderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "document_render_duration_seconds",
				Help:    "Full document render latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"origin"},
		),
		PagesRenderedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "document_pages_rendered_total",
				Help: "Pages produced by the render pipeline.",
			},
			[]string{"origin"},
		),
		RendersInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "document_renders_in_flight",
				Help: "Number of document renders currently running.",
			},
		),
		CoalescedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "document_renders_coalesced_total",
				Help: "Render requests that attached to an in-flight render of the same document.",
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits by cache name.",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses by cache name.",
			},
			[]string{"cache"},
		),
		CacheEvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_evictions_total",
				Help: "Entries evicted under capacity pressure by cache name.",
			},
			[]string{"cache"},
		),
		CacheEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cache_entries",
				Help: "Resident entries by cache name.",
			},
			[]string{"cache"},
		),
		PrefetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prefetch_total",
				Help: "Prefetch requests by outcome (skipped, ok, error).",
			},
			[]string{"outcome"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RendersTotal,
		m.RenderDuration,
		m.PagesRenderedTotal,
		m.RendersInFlight,
		m.CoalescedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.CacheEntries,
		m.PrefetchTotal,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveRender records one finished render attempt.
func (m *Metrics) ObserveRender(origin, outcome string, pages int, d time.Duration) {
	if m == nil {
		return
	}
	m.RendersTotal.WithLabelValues(origin, outcome).Inc()
	if outcome == "ok" {
		m.RenderDuration.WithLabelValues(origin).Observe(d.Seconds())
		m.PagesRenderedTotal.WithLabelValues(origin).Add(float64(pages))
	}
}

// RenderStarted and RenderFinished track the in-flight gauge.
func (m *Metrics) RenderStarted() {
	if m == nil {
		return
	}
	m.RendersInFlight.Inc()
}

func (m *Metrics) RenderFinished() {
	if m == nil {
		return
	}
	m.RendersInFlight.Dec()
}

func (m *Metrics) Coalesced() {
	if m == nil {
		return
	}
	m.CoalescedTotal.Inc()
}

// CacheLookup records a hit or miss on the named cache.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cache).Inc()
}

func (m *Metrics) CacheEvicted(cache string) {
	if m == nil {
		return
	}
	m.CacheEvictionsTotal.WithLabelValues(cache).Inc()
}

func (m *Metrics) CacheSize(cache string, n int) {
	if m == nil {
		return
	}
	m.CacheEntries.WithLabelValues(cache).Set(float64(n))
}

func (m *Metrics) Prefetch(outcome string) {
	if m == nil {
		return
	}
	m.PrefetchTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler for g. A nil g serves
// the default registry.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
