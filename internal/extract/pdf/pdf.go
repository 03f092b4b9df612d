// Package pdf adapts the go-fitz (MuPDF) renderer to the extraction
// backend interface.
package pdf

import (
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/extract"
)

// Backend opens PDF files with MuPDF.
type Backend struct {
	dpi float64
}

// NewBackend creates a backend rendering pages at the given DPI for OCR.
func NewBackend(dpi int) *Backend {
	if dpi <= 0 {
		dpi = 300
	}
	return &Backend{dpi: float64(dpi)}
}

// Open implements extract.Backend.
func (b *Backend) Open(path string) (extract.Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	return &document{doc: doc, dpi: b.dpi}, nil
}

// document wraps a MuPDF handle. MuPDF contexts are single-threaded; the
// mutex keeps accidental concurrent use safe.
type document struct {
	mu  sync.Mutex
	doc *fitz.Document
	dpi float64
}

func (d *document) PageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.NumPage()
}

func (d *document) PageText(pageIndex int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	text, err := d.doc.Text(pageIndex)
	if err != nil {
		return "", fmt.Errorf("text of page %d: %w", pageIndex, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrNotDigital
	}
	return text, nil
}

func (d *document) PageImage(pageIndex int) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := d.doc.ImageDPI(pageIndex, d.dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", pageIndex, err)
	}
	return img, nil
}

func (d *document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Close()
}
