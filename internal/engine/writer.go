// Package engine runs the processing pipeline: a bounded worker pool pulls
// eligible documents, extracts their pages, and commits the results in
// atomic batches with checkpointing.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mmumbaiwala/PageFinder/internal/checkpoint"
	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/extract"
	"github.com/mmumbaiwala/PageFinder/internal/fingerprint"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
)

// PageSink is the transactional page store the writer commits to.
type PageSink interface {
	CommitPages(ctx context.Context, identity string, pages []domain.PageResult) error
}

// WriterConfig bounds batching and retry behavior.
type WriterConfig struct {
	// BatchSize is how many pages accumulate before a transactional write.
	BatchSize int
	// MaxAttempts is the total number of tries per batch.
	MaxAttempts int
	// RetryBackoff delays the first retry and doubles after each failure.
	RetryBackoff time.Duration
}

func (c WriterConfig) normalized() WriterConfig {
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 4
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 250 * time.Millisecond
	}
	return c
}

// Writer drains extraction streams into the store in all-or-nothing batches.
// Checkpoints advance strictly after their batch commits, and the document
// record updates only once the final batch is durable. Error-marked page
// results are never written; their pages stay uncommitted so the next run
// retries them. Safe for concurrent use across documents.
type Writer struct {
	sink         PageSink
	checkpoints  checkpoint.Manager
	fingerprints fingerprint.Store
	cfg          WriterConfig
	log          *observability.Logger

	// OnCommitting, when set, fires once per drained document right before
	// its final flush. Must be safe for concurrent use.
	OnCommitting func(identity string)

	// OnBatchCommitted, when set, fires after each batch becomes durable,
	// with the number of pages it carried. Must be safe for concurrent use.
	OnBatchCommitted func(identity string, pages int)
}

// NewWriter creates a storage writer.
func NewWriter(sink PageSink, checkpoints checkpoint.Manager, fingerprints fingerprint.Store, cfg WriterConfig, log *observability.Logger) *Writer {
	return &Writer{
		sink:         sink,
		checkpoints:  checkpoints,
		fingerprints: fingerprints,
		cfg:          cfg.normalized(),
		log:          log.WithComponent("writer"),
	}
}

// Drain consumes one document's stream to exhaustion. The returned outcome
// always describes the document; err is non-nil only for run-fatal
// conditions (store unavailability), never for page- or document-level
// failures. Callers must cancel the stream's context once Drain returns so
// an abandoned producer can wind down.
func (w *Writer) Drain(ctx context.Context, doc domain.Document, stream *extract.Stream) (domain.DocumentOutcome, error) {
	log := w.log.WithDocument(doc.Identity)
	outcome := domain.DocumentOutcome{Identity: doc.Identity}
	batch := make([]domain.PageResult, 0, w.cfg.BatchSize)

	for {
		r, ok := stream.Next()
		if !ok {
			break
		}
		if r.Failed() {
			outcome.PagesFailed++
			log.Warn().Int("page", r.PageIndex).Err(r.Error).Msg("page extraction failed")
			continue
		}
		batch = append(batch, r)
		if len(batch) < w.cfg.BatchSize {
			continue
		}
		co, err := w.CommitBatch(ctx, doc.Identity, batch, false)
		outcome.PagesCommitted += len(co.PageIndices)
		if err != nil {
			return w.fail(ctx, doc, outcome, err)
		}
		batch = batch[:0]
	}

	if streamErr := stream.Err(); streamErr != nil {
		// Extraction aborted at the document level. Flush what already
		// arrived so the next run resumes past it.
		if len(batch) > 0 {
			co, err := w.CommitBatch(ctx, doc.Identity, batch, false)
			outcome.PagesCommitted += len(co.PageIndices)
			if err != nil {
				return w.fail(ctx, doc, outcome, err)
			}
		}
		return w.fail(ctx, doc, outcome, streamErr)
	}

	if w.OnCommitting != nil {
		w.OnCommitting(doc.Identity)
	}
	if len(batch) > 0 {
		co, err := w.CommitBatch(ctx, doc.Identity, batch, true)
		outcome.PagesCommitted += len(co.PageIndices)
		if err != nil {
			return w.fail(ctx, doc, outcome, err)
		}
	}

	if outcome.PagesFailed > 0 {
		seen := outcome.PagesFailed + outcome.PagesCommitted
		return w.fail(ctx, doc, outcome, domain.TransientExtractionError(
			fmt.Sprintf("%d of %d pages failed extraction", outcome.PagesFailed, seen), nil))
	}

	outcome.Status = domain.StatusCompleted
	if err := w.fingerprints.RecordResult(ctx, domain.DocumentRecord{
		Identity:    doc.Identity,
		Fingerprint: doc.Fingerprint,
		PageCount:   doc.PageCount,
		Status:      domain.StatusCompleted,
		SourcePath:  doc.Path,
	}); err != nil {
		outcome.Status = domain.StatusFailed
		outcome.FailureReason = err.Error()
		return outcome, err
	}
	log.Debug().Int("pages", outcome.PagesCommitted).Msg("document committed")
	return outcome, nil
}

// CommitBatch writes one batch in a single transaction, retrying with
// doubling backoff, then advances checkpoints for exactly the committed
// indices. The outcome reports the durable indices even when a later
// checkpoint write fails.
func (w *Writer) CommitBatch(ctx context.Context, identity string, batch []domain.PageResult, final bool) (domain.CommitOutcome, error) {
	out := domain.CommitOutcome{Identity: identity, FinalBatch: final}
	if len(batch) == 0 {
		return out, nil
	}

	backoff := w.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		out.Attempts = attempt
		err := w.sink.CommitPages(ctx, identity, batch)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if attempt == w.cfg.MaxAttempts {
			break
		}
		w.log.Warn().
			Str("document", identity).
			Int("attempt", attempt).
			Int("max_attempts", w.cfg.MaxAttempts).
			Dur("backoff", backoff).
			Err(err).
			Msg("batch commit failed, retrying")
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return out, domain.StorageTransactionError("batch commit interrupted", ctx.Err())
		}
	}
	if lastErr != nil {
		return out, domain.StorageTransactionError(
			fmt.Sprintf("commit %d pages of %s after %d attempts", len(batch), identity, w.cfg.MaxAttempts), lastErr)
	}

	indices := make([]int, len(batch))
	for i, r := range batch {
		indices[i] = r.PageIndex
	}
	out.PageIndices = indices
	if w.OnBatchCommitted != nil {
		w.OnBatchCommitted(identity, len(indices))
	}

	if err := w.checkpoints.MarkCommitted(ctx, identity, indices); err != nil {
		return out, err
	}
	return out, nil
}

// fail records the document as failed. Store-unavailable causes propagate to
// abort the run; everything else stays contained to the document.
func (w *Writer) fail(ctx context.Context, doc domain.Document, outcome domain.DocumentOutcome, cause error) (domain.DocumentOutcome, error) {
	outcome.Status = domain.StatusFailed
	outcome.FailureReason = cause.Error()

	if err := w.fingerprints.RecordResult(ctx, domain.DocumentRecord{
		Identity:      doc.Identity,
		Fingerprint:   doc.Fingerprint,
		PageCount:     doc.PageCount,
		Status:        domain.StatusFailed,
		FailureReason: outcome.FailureReason,
		SourcePath:    doc.Path,
	}); err != nil {
		return outcome, err
	}
	if domain.IsStoreUnavailable(cause) {
		return outcome, cause
	}
	w.log.WithDocument(doc.Identity).Error().
		Int("pages_committed", outcome.PagesCommitted).
		Str("reason", outcome.FailureReason).
		Msg("document failed")
	return outcome, nil
}
