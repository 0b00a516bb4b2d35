package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PopplerRasterizer renders pages with pdftoppm at 72*scale DPI.
type PopplerRasterizer struct {
	path string
	dpi  int
	conf *model.Configuration
}

func NewPoppler(path string, scale float64) *PopplerRasterizer {
	if path == "" {
		path = "pdftoppm"
	}
	if scale <= 0 {
		scale = 1
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PopplerRasterizer{path: path, dpi: int(72 * scale), conf: conf}
}

func (r *PopplerRasterizer) Open(ctx context.Context, data []byte) (Document, error) {
	n, err := api.PageCount(bytes.NewReader(data), r.conf)
	if err != nil {
		return nil, fmt.Errorf("reading page count: %w", err)
	}
	dir, err := os.MkdirTemp("", "docviewer-poppler-*")
	if err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	pdf := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(pdf, data, 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("writing work file: %w", err)
	}
	return &popplerDocument{r: r, dir: dir, pdf: pdf, pages: n}, nil
}

type popplerDocument struct {
	r     *PopplerRasterizer
	dir   string
	pdf   string
	pages int
}

func (d *popplerDocument) PageCount() int { return d.pages }

func (d *popplerDocument) RenderPage(ctx context.Context, n int) (image.Image, error) {
	if n < 1 || n > d.pages {
		return nil, fmt.Errorf("page %d out of range 1..%d", n, d.pages)
	}
	root := filepath.Join(d.dir, "page-"+strconv.Itoa(n))
	page := strconv.Itoa(n)
	cmd := exec.CommandContext(ctx, d.r.path,
		"-f", page, "-l", page,
		"-r", strconv.Itoa(d.r.dpi),
		"-png", "-singlefile",
		d.pdf, root)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", n, err, bytes.TrimSpace(stderr.Bytes()))
	}
	out := root + ".png"
	defer os.Remove(out)
	f, err := os.Open(out)
	if err != nil {
		return nil, fmt.Errorf("opening pdftoppm output: %w", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding pdftoppm output: %w", err)
	}
	return img, nil
}

func (d *popplerDocument) Close() error {
	return os.RemoveAll(d.dir)
}
