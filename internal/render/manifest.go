package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
)

// PageClient talks to the server holding pre-rendered page images.
type PageClient interface {
	// Check confirms a page image exists.
	Check(ctx context.Context, pageURL string) error
	Get(ctx context.Context, pageURL string) ([]byte, error)
}

// PageURL returns the deterministic location of pre-rendered page n of key.
func PageURL(baseURL, key string, n int) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/%s/page-%04d.jpg", strings.TrimRight(baseURL, "/"), strings.Join(segs, "/"), n)
}

func (s *Service) renderManifest(ctx context.Context, key string, total int, emit func(Progress)) (*Sequence, error) {
	seq := &Sequence{Key: key, Origin: OriginManifest, Pages: make([]Page, 0, total)}
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u := PageURL(s.opts.PagesBaseURL, key, n)
		if s.opts.VerifyPrerendered {
			if err := s.pages.Check(ctx, u); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, err
			}
		}
		page := Page{Number: n, URL: u, ContentType: "image/jpeg"}
		seq.Pages = append(seq.Pages, page)
		emit(Progress{Page: page, Pages: seq.Pages[:n:n], Current: n, Total: total})
	}
	seq.RenderedAt = time.Now()
	return seq, nil
}

// HTTPPageClient reads page images over HTTP.
type HTTPPageClient struct {
	client *http.Client
}

func NewHTTPPageClient(client *http.Client) *HTTPPageClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPageClient{client: client}
}

func (c *HTTPPageClient) Check(ctx context.Context, pageURL string) error {
	resp, err := c.do(ctx, http.MethodHead, pageURL)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *HTTPPageClient) Get(ctx context.Context, pageURL string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrSourceUnavailable, pageURL, err)
	}
	return data, nil
}

func (c *HTTPPageClient) do(ctx context.Context, method, pageURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building page request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(apperrors.ErrSourceUnavailable, err, "")
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, apperrors.Newf(apperrors.ErrPageMissing, http.StatusNotFound, "A pre-rendered page is missing: %s", pageURL)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s returned %d", apperrors.ErrSourceUnavailable, method, pageURL, resp.StatusCode)
	}
	return resp, nil
}
