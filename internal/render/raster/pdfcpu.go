package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// PdfcpuRasterizer extracts the largest embedded image of each page.
type PdfcpuRasterizer struct {
	conf *model.Configuration
}

func NewPdfcpu() *PdfcpuRasterizer {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PdfcpuRasterizer{conf: conf}
}

func (r *PdfcpuRasterizer) Open(ctx context.Context, data []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := api.PageCount(bytes.NewReader(data), r.conf)
	if err != nil {
		return nil, fmt.Errorf("reading page count: %w", err)
	}
	return &pdfcpuDocument{data: data, pages: n, conf: r.conf}, nil
}

type pdfcpuDocument struct {
	data  []byte
	pages int
	conf  *model.Configuration
}

func (d *pdfcpuDocument) PageCount() int { return d.pages }

func (d *pdfcpuDocument) RenderPage(ctx context.Context, n int) (image.Image, error) {
	if n < 1 || n > d.pages {
		return nil, fmt.Errorf("page %d out of range 1..%d", n, d.pages)
	}
	var (
		best     image.Image
		bestArea int
	)
	err := api.ExtractImages(bytes.NewReader(d.data), []string{strconv.Itoa(n)}, func(img model.Image, _ bool, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if img.PageNr != n {
			return nil
		}
		decoded, _, err := image.Decode(img)
		if err != nil {
			// Masks and exotic filters are skipped; the scan itself decodes.
			return nil
		}
		b := decoded.Bounds()
		if area := b.Dx() * b.Dy(); area > bestArea {
			best, bestArea = decoded, area
		}
		return nil
	}, d.conf)
	if err != nil {
		return nil, fmt.Errorf("extracting images from page %d: %w", n, err)
	}
	if best == nil {
		return nil, fmt.Errorf("page %d: %w", n, ErrNoPageImage)
	}
	return best, nil
}

func (d *pdfcpuDocument) Close() error {
	d.data = nil
	return nil
}
