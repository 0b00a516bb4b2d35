package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/overlay"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/prefetch"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/render"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/render/raster"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/source"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/internal/viewer/handler"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "configs/viewer.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting document viewer",
		"port", cfg.Server.Port,
		"source", cfg.Source.Backend,
		"rasterizer", cfg.Render.Rasterizer,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checker := health.NewChecker()

	lister, pg, err := newLister(cfg)
	if err != nil {
		slog.Error("failed to create catalog lister", "error", err)
		os.Exit(1)
	}
	if pg != nil {
		defer pg.Close()
		checker.Register("postgres", health.PingCheck(pg.Ping, true))
	}

	manifest := catalog.NewManifestStore(cfg.Catalog.ManifestURL, &http.Client{Timeout: cfg.Catalog.FetchTimeout})
	cat, err := catalog.Load(ctx, lister, manifest, resilience.RetryConfig{
		MaxAttempts:  cfg.Catalog.MaxAttempts,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Retryable:    catalog.RetryableListingError,
	})
	if err != nil {
		slog.Error("failed to load document listing", "error", err)
		os.Exit(1)
	}

	fetcher, err := source.New(ctx, cfg.Source, m)
	if err != nil {
		slog.Error("failed to create document source", "error", err)
		os.Exit(1)
	}
	defer fetcher.Close()

	rasterizer, err := raster.New(cfg.Render)
	if err != nil {
		slog.Error("failed to create rasterizer", "error", err)
		os.Exit(1)
	}

	var remote cache.Remote
	if cfg.Redis.Addr != "" {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, thumbnails kept in memory only", "error", err)
		} else {
			defer redisClient.Close()
			remote = redisClient
			checker.Register("redis", health.PingCheck(redisClient.Ping, false))
			slog.Info("thumbnail cache tier enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Cache.ThumbnailTTL)
		}
	}
	thumbs := cache.NewThumbnailStore(cfg.Cache.ThumbnailCapacity, remote, cfg.Cache.ThumbnailTTL, m)

	svc := render.NewService(render.Deps{
		Fetcher:    fetcher,
		Rasterizer: rasterizer,
		Manifest:   manifest,
		Pages:      render.NewHTTPPageClient(&http.Client{Timeout: cfg.Source.Timeout}),
		Thumbnails: thumbs,
		Metrics:    m,
	}, render.OptionsFromConfig(cfg))

	scheduler := prefetch.NewScheduler(svc, cfg.Prefetch, m)
	defer scheduler.Close()

	dataset, err := overlay.Load(cfg.Overlay.Path)
	if err != nil {
		slog.Error("failed to load entity overlay", "error", err)
		os.Exit(1)
	}
	slog.Info("entity overlay loaded", "documents", dataset.Len())

	var collector *analytics.Collector
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ViewEvents)
		collector = analytics.NewCollector(producer, 10000, 100, 2*time.Second)
		collector.Start(ctx)
		defer collector.Close()
		slog.Info("view event collector started", "topic", cfg.Kafka.Topics.ViewEvents)
	}

	checker.Register("catalog", func(ctx context.Context) health.ComponentHealth {
		if cat.Len() == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "listing is empty"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d documents", cat.Len())}
	})

	h := handler.New(handler.Deps{
		Catalog:   cat,
		Manifest:  manifest,
		Render:    svc,
		Prefetch:  scheduler,
		Overlay:   dataset,
		Collector: collector,
	}, handler.Options{
		ConfidenceThreshold: cfg.Overlay.ConfidenceThreshold,
		Ahead:               cfg.Prefetch.Ahead,
		Behind:              cfg.Prefetch.Behind,
		MaxSessions:         cfg.Server.MaxSessions,
	})
	defer h.Close()

	limiter := middleware.NewLimiter(cfg.Server.PrefetchRateLimit, time.Minute)
	go sweepLimiter(ctx, limiter)

	mux := http.NewServeMux()
	h.Register(mux, limiter)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler(reg))

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.RequestTimeout, handler.StreamPrefixes...)(chain)
	chain = middleware.CORS(cfg.Server.AllowOrigins)(chain)
	chain = middleware.RequestID(chain)

	// WriteTimeout defaults to zero; render streams last as long as the render.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           chain,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	var shutdownMetrics func(context.Context) error
	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port {
		shutdownMetrics = metrics.StartServer(cfg.Metrics.Port, reg)
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		h.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if shutdownMetrics != nil {
			shutdownMetrics(shutdownCtx)
		}
	}()

	slog.Info("document viewer listening", "addr", server.Addr, "documents", cat.Len())
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("document viewer stopped")
}

// newLister returns the listing backend and, for postgres, the client that
// must be closed on exit.
func newLister(cfg *config.Config) (catalog.Lister, *postgres.Client, error) {
	switch cfg.Catalog.Backend {
	case "http", "":
		return &catalog.HTTPLister{
			URL:    cfg.Catalog.ListingURL,
			Client: &http.Client{Timeout: cfg.Catalog.FetchTimeout},
		}, nil, nil
	case "file":
		return &catalog.FileLister{Path: cfg.Catalog.ListingFile}, nil, nil
	case "postgres":
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return &catalog.PostgresLister{Client: pg}, pg, nil
	default:
		return nil, nil, fmt.Errorf("unknown catalog backend %q", cfg.Catalog.Backend)
	}
}

func sweepLimiter(ctx context.Context, l *middleware.Limiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				slog.Debug("rate limiter swept", "clients", n)
			}
		}
	}
}
