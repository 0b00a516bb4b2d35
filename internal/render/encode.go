package render

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// fitWidth scales img down so it is at most maxWidth wide. Smaller images
// and a non-positive maxWidth leave it untouched.
func fitWidth(img image.Image, maxWidth int, scaler draw.Scaler) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	scaler.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func encodePage(img image.Image, n, maxWidth, quality int) (Page, error) {
	scaled := fitWidth(img, maxWidth, draw.ApproxBiLinear)
	data, err := encodeJPEG(scaled, quality)
	if err != nil {
		return Page{}, err
	}
	b := scaled.Bounds()
	return Page{
		Number:      n,
		Data:        data,
		ContentType: "image/jpeg",
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}
