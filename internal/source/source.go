// Package source fetches raw document bytes from the configured object
// store. Every backend maps its own "missing object" signal to
// ErrDocumentNotFound and everything else to ErrSourceUnavailable.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/resilience"
)

// Fetcher returns the full bytes of one document.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// New builds the backend named by cfg.Backend, wrapped in a circuit breaker.
func New(ctx context.Context, cfg config.SourceConfig, m *metrics.Metrics) (Fetcher, error) {
	var (
		f   Fetcher
		err error
	)
	switch cfg.Backend {
	case "http", "":
		f = NewHTTPSource(cfg.BaseURL, cfg.Timeout, cfg.MaxBytes)
	case "s3":
		f, err = NewS3Source(cfg.S3, cfg.MaxBytes)
	case "gcs":
		f, err = NewGCSSource(ctx, cfg.GCS, cfg.MaxBytes)
	default:
		return nil, fmt.Errorf("unknown source backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return WithBreaker(f, cfg.Backend, cfg.Breaker, m), nil
}

// ValidateKey rejects keys that could address something outside the
// collection.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "invalid document key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return apperrors.Newf(apperrors.ErrInvalidInput, 400, "invalid document key %q", key)
		}
	}
	return nil
}

type breakerFetcher struct {
	next Fetcher
	cb   *resilience.CircuitBreaker
}

// WithBreaker trips after consecutive availability failures so a dead backend
// fails renders fast. Missing documents and cancellations do not count.
func WithBreaker(f Fetcher, name string, cfg config.BreakerConfig, m *metrics.Metrics) Fetcher {
	cb := resilience.NewCircuitBreaker("source-"+name, resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		IsFailure: func(err error) bool {
			return errors.Is(err, apperrors.ErrSourceUnavailable)
		},
		OnStateChange: func(name string, to resilience.State) {
			m.BreakerState(name, int(to))
		},
	})
	return &breakerFetcher{next: f, cb: cb}
}

func (b *breakerFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.cb.Execute(func() error {
		var err error
		data, err = b.next.Fetch(ctx, key)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, apperrors.Wrap(apperrors.ErrSourceUnavailable, err, "The document server is temporarily unavailable.")
	}
	return data, err
}

func (b *breakerFetcher) Close() error {
	return b.next.Close()
}

func tooLarge(key string, limit int64) error {
	return apperrors.Newf(apperrors.ErrInvalidInput, 413, "document %s exceeds %d bytes", key, limit)
}
