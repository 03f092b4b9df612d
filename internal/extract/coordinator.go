package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
)

// Coordinator extracts the pages of one document at a time. Pages are
// processed in chunks to bound memory; within a chunk, pages needing OCR are
// grouped into batches that run concurrently under a worker cap. A failing
// page yields an error-marked result and never aborts its siblings.
type Coordinator struct {
	backend Backend
	ocr     OCREngine
	cfg     Config
	log     *observability.Logger
}

// NewCoordinator creates a coordinator. ocr may be nil only when no mode
// passed to Extract needs it.
func NewCoordinator(backend Backend, ocr OCREngine, cfg Config, log *observability.Logger) *Coordinator {
	return &Coordinator{
		backend: backend,
		ocr:     ocr,
		cfg:     cfg.normalized(),
		log:     log.WithComponent("extract"),
	}
}

// Extract produces results for the given zero-based pages of a document.
// The stream is consumed once; cancelling ctx stops production after the
// current page. Page order within the stream follows the input order.
func (c *Coordinator) Extract(ctx context.Context, doc domain.Document, pages []int, mode Mode) *Stream {
	s := newStream(c.cfg.PageChunkSize)
	go c.produce(ctx, s, doc, pages, mode)
	return s
}

func (c *Coordinator) produce(ctx context.Context, s *Stream, doc domain.Document, pages []int, mode Mode) {
	if len(pages) == 0 {
		s.finish(nil)
		return
	}

	handle, err := c.backend.Open(doc.Path)
	if err != nil {
		s.finish(domain.ValidationError(fmt.Sprintf("open %s for extraction", doc.Path), err))
		return
	}
	defer handle.Close()

	log := c.log.WithDocument(doc.Identity)
	for _, chunk := range chunkPages(pages, c.cfg.PageChunkSize) {
		if ctx.Err() != nil {
			s.finish(ctx.Err())
			return
		}
		results := c.processChunk(ctx, handle, doc.Identity, chunk, mode)
		log.Debug().
			Int("pages", len(results)).
			Int("first_page", chunk[0]).
			Msg("chunk extracted")
		for _, r := range results {
			if !s.emit(ctx, r) {
				s.finish(ctx.Err())
				return
			}
		}
	}
	s.finish(nil)
}

// ocrItem is a rendered page awaiting recognition. pos indexes the chunk's
// result slice so concurrent batches write disjoint slots.
type ocrItem struct {
	pos     int
	page    int
	img     image.Image
	started time.Time
}

func (c *Coordinator) processChunk(ctx context.Context, d Document, identity string, chunk []int, mode Mode) []domain.PageResult {
	results := make([]domain.PageResult, len(chunk))
	var pending []ocrItem

	for pos, page := range chunk {
		started := time.Now()

		if mode == DigitalOnly || mode == Both {
			text, err := d.PageText(page)
			switch {
			case err == nil && strings.TrimSpace(text) != "":
				results[pos] = newResult(identity, page, text, domain.MethodDigital, started)
				continue
			case mode == DigitalOnly:
				if err != nil && !errors.Is(err, domain.ErrNotDigital) {
					results[pos] = failedResult(identity, page, domain.MethodDigital, started,
						domain.TransientExtractionError(fmt.Sprintf("extract text of page %d", page), err))
					continue
				}
				// No text layer and OCR is off: the page is durably empty.
				results[pos] = newResult(identity, page, "", domain.MethodDigital, started)
				continue
			}
		}

		img, err := d.PageImage(page)
		if err != nil {
			results[pos] = failedResult(identity, page, domain.MethodOCR, started,
				domain.TransientExtractionError(fmt.Sprintf("render page %d", page), err))
			continue
		}
		pending = append(pending, ocrItem{pos: pos, page: page, img: img, started: started})
	}

	c.recognizePending(ctx, identity, pending, results)
	return results
}

// recognizePending runs OCR batches concurrently, bounded by MaxOCRWorkers.
// Every pending item receives a result; recognition failures are recorded
// per page.
func (c *Coordinator) recognizePending(ctx context.Context, identity string, pending []ocrItem, results []domain.PageResult) {
	if len(pending) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.MaxOCRWorkers)
	for start := 0; start < len(pending); start += c.cfg.OCRBatchSize {
		batch := pending[start:min(start+c.cfg.OCRBatchSize, len(pending))]
		g.Go(func() error {
			for _, item := range batch {
				results[item.pos] = c.recognizeOne(ctx, identity, item)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Coordinator) recognizeOne(ctx context.Context, identity string, item ocrItem) domain.PageResult {
	if err := ctx.Err(); err != nil {
		return failedResult(identity, item.page, domain.MethodOCR, item.started,
			domain.TransientExtractionError(fmt.Sprintf("ocr page %d", item.page), err))
	}
	text, err := c.ocr.Recognize(ctx, item.img, item.page)
	if err != nil {
		return failedResult(identity, item.page, domain.MethodOCR, item.started,
			domain.TransientExtractionError(fmt.Sprintf("ocr page %d", item.page), err))
	}
	return newResult(identity, item.page, text, domain.MethodOCR, item.started)
}

// chunkPages splits pages into runs of at most size, preserving order.
func chunkPages(pages []int, size int) [][]int {
	chunks := make([][]int, 0, (len(pages)+size-1)/size)
	for start := 0; start < len(pages); start += size {
		chunks = append(chunks, pages[start:min(start+size, len(pages))])
	}
	return chunks
}

func newResult(identity string, page int, text string, method domain.ExtractionMethod, started time.Time) domain.PageResult {
	return domain.PageResult{
		Identity:  identity,
		PageIndex: page,
		Text:      text,
		Method:    method,
		ByteSize:  len(text),
		Duration:  time.Since(started),
	}
}

func failedResult(identity string, page int, method domain.ExtractionMethod, started time.Time, err error) domain.PageResult {
	r := newResult(identity, page, "", method, started)
	r.Error = err
	return r
}
