// Package extract turns uploaded files into ordered translation units plus
// an HTML skeleton that can be re-rendered with the translations.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/local/doctranslate/internal/batch"
	"github.com/local/doctranslate/internal/config"
	"github.com/local/doctranslate/internal/filetype"
	"github.com/local/doctranslate/internal/imagerender"
	"github.com/local/doctranslate/internal/recognizer"
)

// Document is the result of one extraction.
type Document struct {
	Units     []batch.Unit
	HTML      string
	FileType  string
	HasFormat bool
	Pages     int
}

// ImageRecognizer reads text out of image bytes.
type ImageRecognizer interface {
	RecognizeBytes(ctx context.Context, data []byte, model config.Model, maxRetries int) ([]recognizer.Paragraph, error)
}

// Converter turns an office document into a PDF inside outputDir.
type Converter interface {
	ConvertToPDF(ctx context.Context, inputPath, outputDir string) (string, error)
}

type Options struct {
	Detector   *filetype.Detector
	Converter  Converter
	Recognizer ImageRecognizer
	// VisionModel is used for images and for PDF pages without a text layer.
	VisionModel config.Model
	MaxRetries  int
	MaxPDFPages int
	WorkDir     string
	Render      imagerender.Options
}

type Extractor struct {
	opts Options
}

func New(opts Options) *Extractor {
	if opts.Detector == nil {
		opts.Detector = filetype.New()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Extractor{opts: opts}
}

// Extract sniffs path and runs the matching extraction. originalName is
// the client-side file name.
func (e *Extractor) Extract(ctx context.Context, path, originalName string) (*Document, error) {
	info, err := e.opts.Detector.Detect(path, originalName)
	if err != nil {
		return nil, err
	}
	l := zerolog.Ctx(ctx)
	l.Info().Str("file", originalName).Str("mime", info.MIMEType).Str("kind", string(info.Kind)).Msg("extracting")

	var doc *Document
	switch info.Kind {
	case filetype.KindText:
		doc, err = e.extractText(path)
	case filetype.KindPDF:
		doc, err = e.extractPDF(ctx, path)
	case filetype.KindWord:
		doc, err = e.extractWord(ctx, path)
	case filetype.KindImage:
		doc, err = e.extractImage(ctx, path)
	default:
		return nil, &LimitError{Reason: fmt.Sprintf("unsupported file type %s", info.MIMEType)}
	}
	if err != nil {
		return nil, err
	}
	l.Info().Int("units", len(doc.Units)).Str("file_type", doc.FileType).Msg("extraction done")
	return doc, nil
}

func (e *Extractor) extractText(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var b builder
	for _, p := range strings.Split(text, "\n\n") {
		b.add(p, "p", 0)
	}
	return &Document{Units: b.units, HTML: RenderHTML(b.units), FileType: "txt"}, nil
}

func (e *Extractor) extractWord(ctx context.Context, path string) (*Document, error) {
	if e.opts.Converter == nil {
		return nil, &LimitError{Reason: "word documents need LibreOffice, which is not configured"}
	}
	outDir, err := os.MkdirTemp(e.opts.WorkDir, "convert-")
	if err != nil {
		return nil, fmt.Errorf("create conversion dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	pdf, err := e.opts.Converter.ConvertToPDF(ctx, path, outDir)
	if err != nil {
		return nil, err
	}
	doc, err := e.extractPDF(ctx, pdf)
	if err != nil {
		return nil, err
	}
	doc.FileType = "word"
	return doc, nil
}

func (e *Extractor) extractImage(ctx context.Context, path string) (*Document, error) {
	if e.opts.Recognizer == nil {
		return nil, &LimitError{Reason: "image recognition is not configured"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	paras, err := e.opts.Recognizer.RecognizeBytes(ctx, data, e.opts.VisionModel, e.opts.MaxRetries)
	if err != nil {
		return nil, err
	}
	var b builder
	for _, p := range paras {
		b.add(p.Text, "p", 0)
	}
	return &Document{Units: b.units, HTML: RenderHTML(b.units), FileType: "image"}, nil
}

// builder numbers units in extraction order.
type builder struct {
	units []batch.Unit
}

func (b *builder) add(text, tag string, page int) {
	b.push(batch.Unit{Text: text, Tag: tag, Page: page})
}

// push numbers u and appends it unless its trimmed text is empty.
func (b *builder) push(u batch.Unit) bool {
	u.Text = strings.TrimSpace(u.Text)
	if u.Text == "" {
		return false
	}
	n := len(b.units)
	u.ID, u.Position = fmt.Sprintf("para-%d", n), n
	b.units = append(b.units, u)
	return true
}

// FileStem is the export base name for an uploaded file.
func FileStem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
