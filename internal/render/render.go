// Package render turns statement PDFs into page images.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"sync"

	"github.com/gen2brain/go-fitz"
)

type Document interface {
	NumPages() int
	// PagePNG renders the zero-based page i.
	PagePNG(ctx context.Context, i int) ([]byte, error)
	Close() error
}

type Rasterizer interface {
	Open(path string) (Document, error)
}

// MuPDF rasterises with the MuPDF library.
type MuPDF struct {
	DPI float64
}

var _ Rasterizer = MuPDF{}

func (m MuPDF) Open(path string) (Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	dpi := m.DPI
	if dpi <= 0 {
		dpi = 300
	}
	return &document{doc: doc, dpi: dpi}, nil
}

type document struct {
	mu  sync.Mutex
	doc *fitz.Document
	dpi float64
}

func (d *document) NumPages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.NumPage()
}

func (d *document) PagePNG(ctx context.Context, i int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	img, err := d.doc.ImageDPI(i, d.dpi)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", i+1, err)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", i+1, err)
	}
	return buf.Bytes(), nil
}

func (d *document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}
