package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
)

// HTTPSource reads documents from a static file server at BaseURL/{key}.
type HTTPSource struct {
	baseURL  string
	client   *http.Client
	maxBytes int64
}

func NewHTTPSource(baseURL string, timeout time.Duration, maxBytes int64) *HTTPSource {
	return &HTTPSource{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	u, err := url.JoinPath(s.baseURL, key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, err, "invalid document key")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", key, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(apperrors.ErrSourceUnavailable, err, "")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "document %s not found", key)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: GET %s returned %d", apperrors.ErrSourceUnavailable, key, resp.StatusCode)
	}
	return readLimited(resp.Body, key, s.maxBytes)
}

func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func readLimited(r io.Reader, key string, limit int64) ([]byte, error) {
	if limit <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrSourceUnavailable, key, err)
		}
		return data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrSourceUnavailable, key, err)
	}
	if int64(len(data)) > limit {
		return nil, tooLarge(key, limit)
	}
	return data, nil
}
