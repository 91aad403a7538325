// Package imagerender rasterizes PDF pages for the vision model.
package imagerender

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// Options controls page rasterization. Zero values take the defaults.
type Options struct {
	DPI       float64
	Quality   int
	Grayscale bool
}

const (
	defaultDPI     = 150
	defaultQuality = 85
)

func (o Options) withDefaults() Options {
	if o.DPI <= 0 {
		o.DPI = defaultDPI
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = defaultQuality
	}
	return o
}

// RenderPage renders the 0-based page of an open document as JPEG.
func RenderPage(doc *fitz.Document, page int, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	img, err := doc.ImageDPI(page, opts.DPI)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page+1, err)
	}
	return EncodeJPEG(img, opts)
}

// EncodeJPEG encodes img, converting it to grayscale first when asked.
func EncodeJPEG(img image.Image, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	bounds := img.Bounds()
	final := img
	if opts.Grayscale {
		gray := image.NewGray(bounds)
		draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
		final = gray
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, final, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	log.Debug().
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Bool("gray", opts.Grayscale).
		Int("jpeg_size", buf.Len()).
		Msg("encoded page as JPEG")
	return buf.Bytes(), nil
}
