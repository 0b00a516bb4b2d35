package render

import (
	"bytes"
	"context"
	"fmt"
	"image"

	apperrors "github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/errors"
	"golang.org/x/image/draw"
)

// Thumbnail returns a JPEG preview of the first page of key. It is served
// from the thumbnail store when possible and never populates the page cache.
func (s *Service) Thumbnail(ctx context.Context, key string) ([]byte, error) {
	data, _, err := s.thumbs.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		img, err := s.firstPage(ctx, key)
		if err != nil {
			return nil, err
		}
		return encodeJPEG(fitWidth(img, s.opts.ThumbnailWidth, draw.CatmullRom), s.opts.JPEGQuality)
	})
	return data, err
}

func (s *Service) firstPage(ctx context.Context, key string) (image.Image, error) {
	if p, ok := s.Page(key, 1); ok && p.Data != nil {
		return decode(p.Data)
	}
	p, ok, err := s.firstInFlightPage(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok && p.Data != nil {
		return decode(p.Data)
	}
	if s.manifest != nil {
		if _, ok := s.manifest.Lookup(key); ok {
			data, err := s.pages.Get(ctx, PageURL(s.opts.PagesBaseURL, key, 1))
			if err != nil {
				return nil, err
			}
			return decode(data)
		}
	}
	data, err := s.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	doc, err := s.raster.Open(ctx, data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCorruptDocument, err, "This document could not be read.")
	}
	defer doc.Close()
	if doc.PageCount() == 0 {
		return nil, apperrors.New(apperrors.ErrCorruptDocument, 422, "This document has no pages.")
	}
	img, err := doc.RenderPage(ctx, 1)
	if err != nil {
		return nil, s.pageError(ctx, key, 1, err)
	}
	return img, nil
}

// firstInFlightPage waits for page 1 of a render already running for key so a
// thumbnail never downloads the document a second time. It reports false when
// nothing is running or the running render was abandoned before page 1.
func (s *Service) firstInFlightPage(ctx context.Context, key string) (Page, bool, error) {
	s.mu.Lock()
	c, ok := s.inflight[key]
	s.mu.Unlock()
	if !ok {
		return Page{}, false, nil
	}
	for {
		pending, changed := c.since(0)
		if len(pending) > 0 {
			return pending[0].Page, true, nil
		}
		select {
		case <-changed:
		case <-c.done:
			if pending, _ := c.since(0); len(pending) > 0 {
				return pending[0].Page, true, nil
			}
			if _, err, abandoned := c.result(); err != nil && !abandoned {
				return Page{}, false, err
			}
			return Page{}, false, nil
		case <-ctx.Done():
			return Page{}, false, ctx.Err()
		}
	}
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding page image: %w", apperrors.ErrCorruptDocument, err)
	}
	return img, nil
}
