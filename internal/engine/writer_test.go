package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/extract"
)

func newTestWriter(sink PageSink, checks *memCheckpoints, fingers *memFingerprints, batchSize int) *Writer {
	return NewWriter(sink, checks, fingers, WriterConfig{
		BatchSize:    batchSize,
		MaxAttempts:  4,
		RetryBackoff: time.Millisecond,
	}, nopLog())
}

func drainDocument(t *testing.T, w *Writer, b *testBackend, doc domain.Document, chunk int) (domain.DocumentOutcome, error) {
	t.Helper()
	stream := newCoordinator(b, chunk).Extract(context.Background(), doc, pageRange(doc.PageCount), extract.DigitalOnly)
	return w.Drain(context.Background(), doc, stream)
}

func TestDrainCommitsInBatches(t *testing.T) {
	doc := makeDocs(1, 10)[0]
	backend := newTestBackend()
	backend.addDocument(doc.Path, doc.PageCount)

	sink := &flakySink{}
	checks := newMemCheckpoints()
	fingers := newMemFingerprints()
	w := newTestWriter(sink, checks, fingers, 4)

	var mu sync.Mutex
	var observed []int
	w.OnBatchCommitted = func(identity string, pages int) {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, doc.Identity, identity)
		observed = append(observed, pages)
	}

	outcome, err := drainDocument(t, w, backend, doc, 4)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, outcome.Status)
	assert.Equal(t, 10, outcome.PagesCommitted)
	assert.Zero(t, outcome.PagesFailed)
	assert.Equal(t, []int{4, 4, 2}, sink.committedBatches())
	assert.Equal(t, []int{4, 4, 2}, observed)
	assert.Equal(t, pageRange(10), checks.committed(doc.Identity))

	rec, ok := fingers.record(doc.Identity)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, doc.Fingerprint, rec.Fingerprint)
}

func TestDrainRetriesFailedCommits(t *testing.T) {
	doc := makeDocs(1, 3)[0]
	backend := newTestBackend()
	backend.addDocument(doc.Path, doc.PageCount)

	sink := &flakySink{failCall: func(call int) error {
		if call <= 2 {
			return errors.New("database is locked")
		}
		return nil
	}}
	checks := newMemCheckpoints()
	fingers := newMemFingerprints()
	w := newTestWriter(sink, checks, fingers, 10)

	outcome, err := drainDocument(t, w, backend, doc, 2)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, outcome.Status)
	assert.Equal(t, 3, outcome.PagesCommitted)
	assert.Equal(t, 3, sink.callCount())
	assert.Equal(t, []int{0, 1, 2}, checks.committed(doc.Identity))
}

func TestCommitBatchReportsAttempts(t *testing.T) {
	sink := &flakySink{failCall: func(call int) error {
		if call <= 2 {
			return errors.New("disk I/O error")
		}
		return nil
	}}
	checks := newMemCheckpoints()
	w := newTestWriter(sink, checks, newMemFingerprints(), 10)

	batch := []domain.PageResult{
		{Identity: "doc", PageIndex: 0, Text: "a"},
		{Identity: "doc", PageIndex: 1, Text: "b"},
		{Identity: "doc", PageIndex: 2, Text: "c"},
	}
	out, err := w.CommitBatch(context.Background(), "doc", batch, true)
	require.NoError(t, err)

	assert.Equal(t, 3, out.Attempts)
	assert.True(t, out.FinalBatch)
	assert.Equal(t, []int{0, 1, 2}, out.PageIndices)
	assert.Equal(t, []int{0, 1, 2}, checks.committed("doc"))
}

func TestCommitBatchExhaustsRetries(t *testing.T) {
	sink := &flakySink{failCall: func(int) error {
		return errors.New("disk full")
	}}
	checks := newMemCheckpoints()
	w := newTestWriter(sink, checks, newMemFingerprints(), 10)

	out, err := w.CommitBatch(context.Background(), "doc", []domain.PageResult{
		{Identity: "doc", PageIndex: 0, Text: "a"},
	}, false)
	require.Error(t, err)

	assert.True(t, domain.IsStorageTransaction(err))
	assert.ErrorContains(t, err, "after 4 attempts")
	assert.Equal(t, 4, sink.callCount())
	assert.Equal(t, 4, out.Attempts)
	assert.Empty(t, out.PageIndices)
	assert.Empty(t, checks.committed("doc"))
}

func TestCommitBatchInterruptedByCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &flakySink{failCall: func(int) error {
		return errors.New("database is locked")
	}}
	w := newTestWriter(sink, newMemCheckpoints(), newMemFingerprints(), 10)

	_, err := w.CommitBatch(ctx, "doc", []domain.PageResult{
		{Identity: "doc", PageIndex: 0, Text: "a"},
	}, false)
	require.Error(t, err)

	assert.True(t, domain.IsStorageTransaction(err))
	assert.ErrorContains(t, err, "interrupted")
	assert.Equal(t, 1, sink.callCount())
}

func TestCommitBatchCheckpointsStrictlyAfterCommit(t *testing.T) {
	sink := &flakySink{}
	checks := newMemCheckpoints()
	checks.failMark = domain.StoreUnavailableError("append checkpoints", errors.New("connection refused"))
	w := newTestWriter(sink, checks, newMemFingerprints(), 10)

	out, err := w.CommitBatch(context.Background(), "doc", []domain.PageResult{
		{Identity: "doc", PageIndex: 0, Text: "a"},
		{Identity: "doc", PageIndex: 1, Text: "b"},
	}, false)
	require.Error(t, err)

	// The transaction committed, so the outcome still reports its indices.
	assert.True(t, domain.IsStoreUnavailable(err))
	assert.Equal(t, []int{0, 1}, out.PageIndices)
	assert.Equal(t, 1, sink.callCount())
}

func TestDrainFailsDocumentWhenRetriesExhaust(t *testing.T) {
	doc := makeDocs(1, 10)[0]
	backend := newTestBackend()
	backend.addDocument(doc.Path, doc.PageCount)

	sink := &flakySink{failCall: func(int) error {
		return errors.New("disk full")
	}}
	checks := newMemCheckpoints()
	fingers := newMemFingerprints()
	w := newTestWriter(sink, checks, fingers, 4)

	outcome, err := drainDocument(t, w, backend, doc, 4)
	require.NoError(t, err, "storage transaction failures stay contained to the document")

	assert.Equal(t, domain.StatusFailed, outcome.Status)
	assert.Contains(t, outcome.FailureReason, "after 4 attempts")
	assert.Zero(t, outcome.PagesCommitted)
	assert.Equal(t, 4, sink.callCount(), "drain stops at the first exhausted batch")
	assert.Empty(t, checks.committed(doc.Identity))

	rec, ok := fingers.record(doc.Identity)
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, rec.Status)
}

func TestDrainPropagatesStoreUnavailability(t *testing.T) {
	doc := makeDocs(1, 10)[0]
	backend := newTestBackend()
	backend.addDocument(doc.Path, doc.PageCount)

	sink := &flakySink{}
	checks := newMemCheckpoints()
	checks.failMark = domain.StoreUnavailableError("append checkpoints", errors.New("connection refused"))
	w := newTestWriter(sink, checks, newMemFingerprints(), 4)

	outcome, err := drainDocument(t, w, backend, doc, 4)
	require.Error(t, err)

	assert.True(t, domain.IsStoreUnavailable(err))
	assert.Equal(t, domain.StatusFailed, outcome.Status)
	assert.Equal(t, 4, outcome.PagesCommitted, "the first batch was durable before the checkpoint write failed")
}

func TestDrainIsolatesFailedPages(t *testing.T) {
	doc := makeDocs(1, 10)[0]
	backend := newTestBackend()
	backend.addDocument(doc.Path, doc.PageCount)
	backend.textErrs[doc.Path] = map[int]error{
		3: errors.New("page stream corrupt"),
		7: errors.New("page stream corrupt"),
	}

	sink := &flakySink{}
	checks := newMemCheckpoints()
	fingers := newMemFingerprints()
	w := newTestWriter(sink, checks, fingers, 4)

	outcome, err := drainDocument(t, w, backend, doc, 4)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFailed, outcome.Status)
	assert.Contains(t, outcome.FailureReason, "2 of 10 pages failed extraction")
	assert.Equal(t, 8, outcome.PagesCommitted)
	assert.Equal(t, 2, outcome.PagesFailed)
	assert.Equal(t, []int{0, 1, 2, 4, 5, 6, 8, 9}, checks.committed(doc.Identity),
		"failed pages never reach the store, so the next run retries exactly them")

	rec, ok := fingers.record(doc.Identity)
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, rec.Status)
}

func TestDrainFlushesPartialBatchOnStreamAbort(t *testing.T) {
	doc := makeDocs(1, 6)[0]
	backend := newTestBackend()
	backend.addDocument(doc.Path, doc.PageCount)
	pageGate := make(chan struct{})
	backend.pageGates = map[int]chan struct{}{5: pageGate}

	sinkGate := make(chan struct{})
	sink := &flakySink{failCall: func(call int) error {
		if call == 1 {
			<-sinkGate
		}
		return nil
	}}
	checks := newMemCheckpoints()
	fingers := newMemFingerprints()
	w := newTestWriter(sink, checks, fingers, 3)

	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := newCoordinator(backend, 2).Extract(streamCtx, doc, pageRange(6), extract.DigitalOnly)

	type result struct {
		outcome domain.DocumentOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := w.Drain(context.Background(), doc, stream)
		done <- result{outcome, err}
	}()

	// Producer parks on the last page's gate with the first batch held at
	// the sink and one result buffered behind it.
	require.Eventually(t, func() bool {
		return len(backend.extractedPages(doc.Path)) == 6
	}, 5*time.Second, time.Millisecond)

	close(pageGate)
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(sinkGate)

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not finish")
	}
	require.NoError(t, res.err)

	assert.Equal(t, domain.StatusFailed, res.outcome.Status)
	assert.Equal(t, context.Canceled.Error(), res.outcome.FailureReason)
	assert.Equal(t, 5, res.outcome.PagesCommitted,
		"results that arrived before the abort are flushed so the next run resumes past them")
	assert.Equal(t, []int{3, 2}, sink.committedBatches())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, checks.committed(doc.Identity))

	rec, ok := fingers.record(doc.Identity)
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, rec.Status)
}

func TestDrainEmptyStreamCompletes(t *testing.T) {
	doc := makeDocs(1, 0)[0]
	backend := newTestBackend()
	backend.addDocument(doc.Path, 0)

	sink := &flakySink{}
	fingers := newMemFingerprints()
	w := newTestWriter(sink, newMemCheckpoints(), fingers, 4)

	var hooks int
	w.OnCommitting = func(string) { hooks++ }

	stream := newCoordinator(backend, 4).Extract(context.Background(), doc, nil, extract.DigitalOnly)
	outcome, err := w.Drain(context.Background(), doc, stream)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, outcome.Status)
	assert.Zero(t, outcome.PagesCommitted)
	assert.Zero(t, sink.callCount())
	assert.Equal(t, 1, hooks)

	rec, ok := fingers.record(doc.Identity)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
}
