package engine

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmumbaiwala/PageFinder/internal/checkpoint"
	"github.com/mmumbaiwala/PageFinder/internal/config"
	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/extract"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
	"github.com/mmumbaiwala/PageFinder/internal/store"
)

func nopLog() *observability.Logger { return observability.Nop() }

func openEngineStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), config.StorageConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{
			Path:        filepath.Join(t.TempDir(), "engine.db"),
			JournalMode: "WAL",
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// memCheckpoints is an in-memory checkpoint.Manager.
type memCheckpoints struct {
	mu       sync.Mutex
	pages    map[string]map[int]struct{}
	failMark error
}

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{pages: make(map[string]map[int]struct{})}
}

func (m *memCheckpoints) CommittedPages(_ context.Context, identity string) (checkpoint.PageSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := checkpoint.PageSet{}
	for p := range m.pages[identity] {
		set[p] = struct{}{}
	}
	return set, nil
}

func (m *memCheckpoints) MarkCommitted(_ context.Context, identity string, pages []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark != nil {
		return m.failMark
	}
	set, ok := m.pages[identity]
	if !ok {
		set = make(map[int]struct{})
		m.pages[identity] = set
	}
	for _, p := range pages {
		set[p] = struct{}{}
	}
	return nil
}

func (m *memCheckpoints) IsDocumentComplete(_ context.Context, identity string, totalPages int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages[identity]) >= totalPages, nil
}

func (m *memCheckpoints) Clear(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, identity)
	return nil
}

func (m *memCheckpoints) committed(identity string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.pages[identity]))
	for p := range m.pages[identity] {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// memFingerprints is an in-memory fingerprint.Store.
type memFingerprints struct {
	mu         sync.Mutex
	recs       map[string]domain.DocumentRecord
	failShould error
	failRecord error
}

func newMemFingerprints() *memFingerprints {
	return &memFingerprints{recs: make(map[string]domain.DocumentRecord)}
}

func (m *memFingerprints) ShouldProcess(_ context.Context, identity, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failShould != nil {
		return false, m.failShould
	}
	rec, ok := m.recs[identity]
	if !ok {
		return true, nil
	}
	return !(rec.Status == domain.StatusCompleted && rec.Fingerprint == fingerprint), nil
}

func (m *memFingerprints) RecordResult(_ context.Context, rec domain.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecord != nil {
		return m.failRecord
	}
	m.recs[rec.Identity] = rec
	return nil
}

func (m *memFingerprints) Lookup(_ context.Context, identity string) (*domain.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[identity]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memFingerprints) record(identity string) (domain.DocumentRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[identity]
	return rec, ok
}

// flakySink wraps a sink and injects failures by commit call ordinal.
type flakySink struct {
	inner    PageSink
	failCall func(call int) error

	mu         sync.Mutex
	calls      int
	batchSizes []int
}

func (f *flakySink) CommitPages(ctx context.Context, identity string, pages []domain.PageResult) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.failCall != nil {
		if err := f.failCall(call); err != nil {
			return err
		}
	}
	if f.inner != nil {
		if err := f.inner.CommitPages(ctx, identity, pages); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.batchSizes = append(f.batchSizes, len(pages))
	f.mu.Unlock()
	return nil
}

func (f *flakySink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakySink) committedBatches() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.batchSizes...)
}

// captureRuns records audit rows handed to it.
type captureRuns struct {
	mu   sync.Mutex
	recs []*domain.RunRecord
}

func (c *captureRuns) Create(_ context.Context, rec *domain.RunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func (c *captureRuns) last() *domain.RunRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.recs) == 0 {
		return nil
	}
	return c.recs[len(c.recs)-1]
}

// calmMonitor never throttles.
type calmMonitor struct{}

func (calmMonitor) CurrentUsageMB() (float64, error) { return 0, nil }
func (calmMonitor) ShouldThrottle() bool             { return false }
func (calmMonitor) Reclaim()                         {}

// pressureMonitor throttles until Reclaim is called.
type pressureMonitor struct {
	mu        sync.Mutex
	throttled bool
	reclaims  int
}

func (m *pressureMonitor) CurrentUsageMB() (float64, error) { return 2048, nil }

func (m *pressureMonitor) ShouldThrottle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throttled
}

func (m *pressureMonitor) Reclaim() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaims++
	m.throttled = false
}

// testBackend opens fake documents keyed by path and records every access.
type testBackend struct {
	mu        sync.Mutex
	opens     int
	extracted map[string][]int
	openErrs  map[string]error
	textErrs  map[string]map[int]error
	texts     map[string]map[int]string
	pageCount map[string]int
	delay     time.Duration
	proceed   chan struct{}
	pageGates map[int]chan struct{}
}

func newTestBackend() *testBackend {
	return &testBackend{
		extracted: make(map[string][]int),
		openErrs:  make(map[string]error),
		textErrs:  make(map[string]map[int]error),
		texts:     make(map[string]map[int]string),
		pageCount: make(map[string]int),
	}
}

func (b *testBackend) addDocument(path string, pages int) {
	texts := make(map[int]string, pages)
	for i := 0; i < pages; i++ {
		texts[i] = fmt.Sprintf("%s page %d", path, i)
	}
	b.texts[path] = texts
	b.pageCount[path] = pages
}

func (b *testBackend) Open(path string) (extract.Document, error) {
	b.mu.Lock()
	b.opens++
	err := b.openErrs[path]
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &testDoc{backend: b, path: path}, nil
}

func (b *testBackend) openCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens
}

func (b *testBackend) extractedPages(path string) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	pages := append([]int(nil), b.extracted[path]...)
	sort.Ints(pages)
	return pages
}

type testDoc struct {
	backend *testBackend
	path    string
}

func (d *testDoc) PageCount() int {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()
	return d.backend.pageCount[d.path]
}

func (d *testDoc) PageText(pageIndex int) (string, error) {
	d.backend.mu.Lock()
	d.backend.extracted[d.path] = append(d.backend.extracted[d.path], pageIndex)
	text := d.backend.texts[d.path][pageIndex]
	err := d.backend.textErrs[d.path][pageIndex]
	delay := d.backend.delay
	proceed := d.backend.proceed
	gate := d.backend.pageGates[pageIndex]
	d.backend.mu.Unlock()

	if proceed != nil {
		<-proceed
	}
	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

func (d *testDoc) PageImage(int) (image.Image, error) {
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func (d *testDoc) Close() error { return nil }

func makeDocs(n, pages int) []domain.Document {
	docs := make([]domain.Document, n)
	for i := range docs {
		docs[i] = domain.Document{
			Identity:    fmt.Sprintf("doc-%d", i),
			Path:        fmt.Sprintf("doc-%d.pdf", i),
			Fingerprint: fmt.Sprintf("fp-%d", i),
			PageCount:   pages,
		}
	}
	return docs
}

func registerAll(b *testBackend, docs []domain.Document) {
	for _, d := range docs {
		b.addDocument(d.Path, d.PageCount)
	}
}

func pageRange(n int) []int {
	pages := make([]int, n)
	for i := range pages {
		pages[i] = i
	}
	return pages
}

func newCoordinator(b *testBackend, chunk int) *extract.Coordinator {
	return extract.NewCoordinator(b, nil, extract.Config{
		PageChunkSize: chunk,
		OCRBatchSize:  2,
		MaxOCRWorkers: 2,
	}, nopLog())
}
