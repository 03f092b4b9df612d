// Package tesseract adapts the gosseract OCR client to the extraction
// engine interface.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
)

// Config controls recognition.
type Config struct {
	Languages []string
	DPI       int
	Timeout   time.Duration
}

// Engine runs Tesseract OCR. Safe for concurrent use: each recognition gets
// its own client, since gosseract clients are single-threaded.
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
}

// NewEngine creates a Tesseract-backed engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Engine{cfg: cfg, clientFactory: gosseract.NewClient}
}

// Recognize implements extract.OCREngine. A recognition that outlives the
// configured timeout returns an error wrapping domain.ErrOCRTimeout; its
// goroutine finishes in the background and closes the per-call client there.
func (e *Engine) Recognize(ctx context.Context, img image.Image, pageIndex int) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode page %d for ocr: %w", pageIndex, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := e.recognizeBytes(buf.Bytes())
		done <- outcome{text: text, err: err}
	}()

	select {
	case out := <-done:
		return out.text, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("page %d after %s: %w", pageIndex, e.cfg.Timeout, domain.ErrOCRTimeout)
		}
		return "", ctx.Err()
	}
}

func (e *Engine) recognizeBytes(data []byte) (string, error) {
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	if len(e.cfg.Languages) > 0 {
		if err := c.SetLanguage(e.cfg.Languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if e.cfg.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(e.cfg.DPI)); err != nil {
			return "", fmt.Errorf("set dpi: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Close implements extract.OCREngine. Per-call clients leave nothing held.
func (e *Engine) Close() error { return nil }
