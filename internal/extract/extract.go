// Package extract turns documents into per-page text results, combining the
// digital text layer with OCR fallback for scanned pages.
package extract

import (
	"context"
	"image"
)

// Mode selects which extraction backends a run may use.
type Mode string

// Extraction modes.
const (
	DigitalOnly Mode = "digital"
	OCROnly     Mode = "ocr"
	Both        Mode = "both"
)

// ModeFor derives the mode from the enabled backends. Configuration
// validation guarantees at least one of them is on.
func ModeFor(enableDigital, enableOCR bool) Mode {
	switch {
	case enableDigital && enableOCR:
		return Both
	case enableOCR:
		return OCROnly
	default:
		return DigitalOnly
	}
}

// NeedsOCR reports whether the mode can invoke the OCR engine.
func (m Mode) NeedsOCR() bool { return m == OCROnly || m == Both }

// Document is an open handle over one source file. Handles are not safe for
// concurrent use; the coordinator serializes page access and renders images
// before fanning OCR work out.
type Document interface {
	// PageCount returns the number of pages in the document.
	PageCount() int
	// PageText returns the digital text layer of a zero-based page.
	// Returns domain.ErrNotDigital when the page has no usable text layer.
	PageText(pageIndex int) (string, error)
	// PageImage renders a zero-based page for OCR.
	PageImage(pageIndex int) (image.Image, error)
	// Close releases the handle.
	Close() error
}

// Backend opens documents for extraction.
type Backend interface {
	Open(path string) (Document, error)
}

// OCREngine recognizes text in rendered page images. Implementations must be
// safe for concurrent use and enforce their own per-image timeout, returning
// an error wrapping domain.ErrOCRTimeout when it elapses.
type OCREngine interface {
	Recognize(ctx context.Context, img image.Image, pageIndex int) (string, error)
	Close() error
}

// Config bounds the coordinator's memory and concurrency.
type Config struct {
	// PageChunkSize is how many pages are held in flight per document.
	PageChunkSize int
	// OCRBatchSize is how many images one OCR task processes sequentially.
	OCRBatchSize int
	// MaxOCRWorkers caps concurrent OCR tasks within a document.
	MaxOCRWorkers int
}

func (c Config) normalized() Config {
	if c.PageChunkSize < 1 {
		c.PageChunkSize = 1
	}
	if c.OCRBatchSize < 1 {
		c.OCRBatchSize = 1
	}
	if c.MaxOCRWorkers < 1 {
		c.MaxOCRWorkers = 1
	}
	return c
}
