// Package raster turns PDF bytes into page images. Two backends exist:
// pdfcpu extracts the embedded scan of each page, which is what a scanned
// document consists of, and poppler rasterizes arbitrary PDFs by shelling out
// to pdftoppm.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/Adithya-Monish-Kumar-K/Scanned-Document-Viewer/pkg/config"
)

// ErrNoPageImage is returned when a page carries no embedded raster.
var ErrNoPageImage = errors.New("page has no embedded image")

// Rasterizer opens a document from its full bytes.
type Rasterizer interface {
	Open(ctx context.Context, data []byte) (Document, error)
}

// Document is an opened PDF. Pages are numbered from 1.
type Document interface {
	PageCount() int
	RenderPage(ctx context.Context, n int) (image.Image, error)
	Close() error
}

// New returns the rasterizer named by cfg.Rasterizer.
func New(cfg config.RenderConfig) (Rasterizer, error) {
	switch cfg.Rasterizer {
	case "pdfcpu", "":
		return NewPdfcpu(), nil
	case "poppler":
		return NewPoppler(cfg.PopplerPath, cfg.Scale), nil
	default:
		return nil, fmt.Errorf("unknown rasterizer %q", cfg.Rasterizer)
	}
}
