package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmumbaiwala/PageFinder/internal/checkpoint"
	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/extract"
	"github.com/mmumbaiwala/PageFinder/internal/fingerprint"
	"github.com/mmumbaiwala/PageFinder/internal/monitor"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
)

// DocumentState tracks a document through the worker pool.
type DocumentState string

// Document states, in dispatch order. Skipped is terminal for documents the
// fingerprint store ruled out; Done and Failed are terminal for the rest.
const (
	StateQueued     DocumentState = "queued"
	StateDispatched DocumentState = "dispatched"
	StateExtracting DocumentState = "extracting"
	StateCommitting DocumentState = "committing"
	StateDone       DocumentState = "done"
	StateFailed     DocumentState = "failed"
	StateSkipped    DocumentState = "skipped"
)

// TransitionFunc observes per-document state changes. Implementations must
// be safe for concurrent use; workers call it from their own goroutines.
type TransitionFunc func(identity string, from, to DocumentState)

// Extractor produces a document's pages as a lazy stream.
type Extractor interface {
	Extract(ctx context.Context, doc domain.Document, pages []int, mode extract.Mode) *extract.Stream
}

// RunRecorder appends run audit rows.
type RunRecorder interface {
	Create(ctx context.Context, rec *domain.RunRecord) error
}

// Deps are the collaborators a dispatcher drives.
type Deps struct {
	Fingerprints fingerprint.Store
	Checkpoints  checkpoint.Manager
	Monitor      monitor.Monitor
	Extractor    Extractor
	Sink         PageSink
	Runs         RunRecorder // optional
}

// Config bounds the pool and the writer it feeds.
type Config struct {
	// MaxWorkers caps how many documents are processed simultaneously.
	MaxWorkers int
	// Mode selects the extraction backends for this run.
	Mode extract.Mode
	// ThrottlePoll is the wait between memory pressure checks while
	// admission is paused.
	ThrottlePoll time.Duration
	// Writer configures batching and commit retries.
	Writer WriterConfig
}

// Dispatcher owns a bounded pool of workers processing documents. Documents
// ruled out by fingerprint are skipped without occupying a slot, fully
// checkpointed documents short-circuit to done, and per-document failures
// never halt the pool. Only store unavailability aborts a run.
type Dispatcher struct {
	fingerprints fingerprint.Store
	checkpoints  checkpoint.Manager
	mon          monitor.Monitor
	extractor    Extractor
	writer       *Writer
	runs         RunRecorder
	cfg          Config
	log          *observability.Logger

	onTransition TransitionFunc
	states       sync.Map
}

// NewDispatcher wires a dispatcher and its storage writer.
func NewDispatcher(deps Deps, cfg Config, log *observability.Logger) *Dispatcher {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.ThrottlePoll <= 0 {
		cfg.ThrottlePoll = 500 * time.Millisecond
	}
	d := &Dispatcher{
		fingerprints: deps.Fingerprints,
		checkpoints:  deps.Checkpoints,
		mon:          deps.Monitor,
		extractor:    deps.Extractor,
		runs:         deps.Runs,
		cfg:          cfg,
		log:          log.WithComponent("dispatcher"),
	}
	d.writer = NewWriter(deps.Sink, deps.Checkpoints, deps.Fingerprints, cfg.Writer, log)
	d.writer.OnCommitting = func(identity string) {
		d.transition(identity, StateCommitting)
	}
	return d
}

// OnTransition registers a state observer. Must be called before Run.
func (d *Dispatcher) OnTransition(fn TransitionFunc) {
	d.onTransition = fn
}

// OnBatchCommitted registers a durable-batch observer on the underlying
// writer. Must be called before Run.
func (d *Dispatcher) OnBatchCommitted(fn func(identity string, pages int)) {
	d.writer.OnBatchCommitted = fn
}

// workItem is one admitted document and the pages it still owes.
type workItem struct {
	doc     domain.Document
	pages   []int
	skipped int
}

// Run processes the discovered documents and returns a summary. Cancelling
// ctx stops admission of new documents; in-flight documents finish
// extracting and commit normally. The returned error is non-nil only when
// the run aborted on store unavailability.
func (d *Dispatcher) Run(ctx context.Context, docs []domain.Document) (*domain.RunSummary, error) {
	summary := &domain.RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Total:     len(docs),
	}
	ctx = observability.ContextWithRunID(ctx, summary.RunID)
	log := d.log.WithContext(ctx)
	log.Info().
		Int("documents", len(docs)).
		Int("max_workers", d.cfg.MaxWorkers).
		Str("mode", string(d.cfg.Mode)).
		Msg("run started")

	// Workers finish their current document even after a run-level cancel;
	// only a store outage tears the pool down through abort.
	workCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	var mu sync.Mutex
	var runErr error
	fatal := func(err error) {
		mu.Lock()
		if runErr == nil {
			runErr = err
		}
		mu.Unlock()
		abort()
	}
	addOutcome := func(o domain.DocumentOutcome) {
		mu.Lock()
		summary.Add(o)
		mu.Unlock()
	}

	// Unbuffered: a document counts as dispatched only once a worker has
	// taken it, so cancellation leaves queued documents untouched.
	work := make(chan workItem)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.MaxWorkers && i < len(docs); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				addOutcome(d.process(workCtx, item, fatal))
			}
		}()
	}

	for _, doc := range docs {
		if workCtx.Err() != nil {
			d.recordUnadmitted(addOutcome, doc, "run aborted: store unavailable")
			continue
		}
		if ctx.Err() != nil {
			d.recordUnadmitted(addOutcome, doc, "run cancelled before dispatch")
			continue
		}

		d.waitForHeadroom(ctx)

		item, outcome, err := d.prepare(workCtx, doc)
		if err != nil {
			fatal(err)
			d.recordUnadmitted(addOutcome, doc, err.Error())
			continue
		}
		if outcome != nil {
			addOutcome(*outcome)
			continue
		}

		select {
		case work <- *item:
		case <-ctx.Done():
			d.recordUnadmitted(addOutcome, doc, "run cancelled before dispatch")
		case <-workCtx.Done():
			d.recordUnadmitted(addOutcome, doc, "run aborted: store unavailable")
		}
	}
	close(work)
	wg.Wait()

	summary.FinishedAt = time.Now().UTC()
	d.persistRun(ctx, summary)

	mu.Lock()
	err := runErr
	mu.Unlock()
	if err != nil {
		log.Error().Err(err).Msg("run aborted")
	} else {
		log.Info().Msg(summary.String())
	}
	return summary, err
}

// prepare decides a document's admission. It returns exactly one of: a work
// item to dispatch, a terminal outcome (skip or short-circuit), or a
// run-fatal error.
func (d *Dispatcher) prepare(ctx context.Context, doc domain.Document) (*workItem, *domain.DocumentOutcome, error) {
	log := d.log.WithDocument(doc.Identity)

	process, err := d.fingerprints.ShouldProcess(ctx, doc.Identity, doc.Fingerprint)
	if err != nil {
		return nil, nil, err
	}
	if !process {
		d.transition(doc.Identity, StateSkipped)
		log.Debug().Msg("unchanged since last run, skipping")
		return nil, &domain.DocumentOutcome{
			Identity:      doc.Identity,
			Status:        domain.StatusCompleted,
			PagesSkipped:  doc.PageCount,
			SkippedByHash: true,
		}, nil
	}

	rec, err := d.fingerprints.Lookup(ctx, doc.Identity)
	if err != nil {
		return nil, nil, err
	}
	if rec != nil && rec.Fingerprint != doc.Fingerprint {
		// The content changed, so surviving checkpoints describe bytes that
		// no longer exist.
		if err := d.checkpoints.Clear(ctx, doc.Identity); err != nil {
			return nil, nil, err
		}
		log.Debug().Msg("fingerprint changed, checkpoints cleared")
	}

	committed, err := d.checkpoints.CommittedPages(ctx, doc.Identity)
	if err != nil {
		return nil, nil, err
	}
	missing := committed.Missing(doc.PageCount)
	if len(missing) == 0 {
		// Fully checkpointed (or empty): complete without using a slot.
		if err := d.fingerprints.RecordResult(ctx, domain.DocumentRecord{
			Identity:    doc.Identity,
			Fingerprint: doc.Fingerprint,
			PageCount:   doc.PageCount,
			Status:      domain.StatusCompleted,
			SourcePath:  doc.Path,
		}); err != nil {
			return nil, nil, err
		}
		d.transition(doc.Identity, StateDone)
		log.Debug().Msg("already fully checkpointed")
		return nil, &domain.DocumentOutcome{
			Identity:     doc.Identity,
			Status:       domain.StatusCompleted,
			PagesSkipped: doc.PageCount,
		}, nil
	}

	return &workItem{
		doc:     doc,
		pages:   missing,
		skipped: doc.PageCount - len(missing),
	}, nil, nil
}

// process runs one admitted document through extraction and commit.
func (d *Dispatcher) process(ctx context.Context, item workItem, fatal func(error)) domain.DocumentOutcome {
	started := time.Now()
	doc := item.doc
	log := d.log.WithDocument(doc.Identity)

	d.transition(doc.Identity, StateDispatched)

	docCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.fingerprints.RecordResult(docCtx, domain.DocumentRecord{
		Identity:    doc.Identity,
		Fingerprint: doc.Fingerprint,
		PageCount:   doc.PageCount,
		Status:      domain.StatusInProgress,
		SourcePath:  doc.Path,
	}); err != nil {
		fatal(err)
		d.transition(doc.Identity, StateFailed)
		return domain.DocumentOutcome{
			Identity:      doc.Identity,
			Status:        domain.StatusFailed,
			PagesSkipped:  item.skipped,
			FailureReason: err.Error(),
			Elapsed:       time.Since(started),
		}
	}

	d.transition(doc.Identity, StateExtracting)
	log.Info().
		Int("pages", len(item.pages)).
		Int("resumed_from", item.skipped).
		Msg("processing document")

	stream := d.extractor.Extract(docCtx, doc, item.pages, d.cfg.Mode)
	outcome, err := d.writer.Drain(docCtx, doc, stream)
	outcome.PagesSkipped = item.skipped
	outcome.Elapsed = time.Since(started)
	if err != nil {
		fatal(err)
	}

	if outcome.Status == domain.StatusFailed {
		d.transition(doc.Identity, StateFailed)
	} else {
		d.transition(doc.Identity, StateDone)
		log.Info().
			Int("pages_committed", outcome.PagesCommitted).
			Dur("elapsed", outcome.Elapsed).
			Msg("document done")
	}
	return outcome
}

// waitForHeadroom pauses admission while the monitor reports pressure. Only
// admission waits; in-flight documents are never interrupted.
func (d *Dispatcher) waitForHeadroom(ctx context.Context) {
	if !d.mon.ShouldThrottle() {
		return
	}
	usage, _ := d.mon.CurrentUsageMB()
	d.log.Info().Float64("usage_mb", usage).Msg("memory pressure, pausing admission")
	d.mon.Reclaim()
	for d.mon.ShouldThrottle() {
		select {
		case <-time.After(d.cfg.ThrottlePoll):
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) recordUnadmitted(addOutcome func(domain.DocumentOutcome), doc domain.Document, reason string) {
	addOutcome(domain.DocumentOutcome{
		Identity:      doc.Identity,
		Status:        domain.StatusPending,
		FailureReason: reason,
	})
}

// transition advances a document's state, deriving the previous state from
// the dispatcher's own bookkeeping.
func (d *Dispatcher) transition(identity string, to DocumentState) {
	from := StateQueued
	if v, ok := d.states.Load(identity); ok {
		from = v.(DocumentState)
	}
	d.states.Store(identity, to)
	if d.onTransition != nil {
		d.onTransition(identity, from, to)
	}
}

// persistRun appends the audit row, best effort.
func (d *Dispatcher) persistRun(ctx context.Context, s *domain.RunSummary) {
	if d.runs == nil {
		return
	}
	rec := &domain.RunRecord{
		ID:               s.RunID,
		StartedAt:        s.StartedAt,
		FinishedAt:       s.FinishedAt,
		DocumentsTotal:   s.Total,
		DocumentsDone:    s.Done,
		DocumentsSkipped: s.Skipped,
		DocumentsFailed:  s.Failed,
		PagesCommitted:   s.PagesCommitted,
		Summary:          s.String(),
	}
	if err := d.runs.Create(context.WithoutCancel(ctx), rec); err != nil {
		d.log.Warn().Err(err).Msg("failed to persist run record")
	}
}

// Orphans returns identities present in the store but absent from the
// scanned documents, sorted for stable reporting.
func Orphans(records []domain.DocumentRecord, docs []domain.Document) []string {
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		seen[d.Identity] = struct{}{}
	}
	var orphans []string
	for _, r := range records {
		if _, ok := seen[r.Identity]; !ok {
			orphans = append(orphans, r.Identity)
		}
	}
	sort.Strings(orphans)
	return orphans
}
