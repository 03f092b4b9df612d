// Package checkpoint tracks page-level commit progress so interrupted runs
// resume from the last durable batch instead of starting over.
package checkpoint

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
)

// PageSet holds the zero-based page indices already committed for a document.
type PageSet map[int]struct{}

// NewPageSet builds a set from explicit indices.
func NewPageSet(pages ...int) PageSet {
	s := make(PageSet, len(pages))
	for _, p := range pages {
		s[p] = struct{}{}
	}
	return s
}

// Contains reports whether the page index is in the set.
func (s PageSet) Contains(page int) bool {
	_, ok := s[page]
	return ok
}

// Len returns the number of committed pages.
func (s PageSet) Len() int { return len(s) }

// Missing returns the ordered page indices in [0, totalPages) absent from
// the set. These are exactly the pages a resumed run still owes.
func (s PageSet) Missing(totalPages int) []int {
	missing := make([]int, 0, totalPages-len(s))
	for i := 0; i < totalPages; i++ {
		if !s.Contains(i) {
			missing = append(missing, i)
		}
	}
	return missing
}

// Sorted returns the committed indices in ascending order.
func (s PageSet) Sorted() []int {
	pages := make([]int, 0, len(s))
	for p := range s {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// Manager records which pages of a document have been durably committed.
type Manager interface {
	// CommittedPages returns the set of already committed page indices.
	CommittedPages(ctx context.Context, identity string) (PageSet, error)
	// MarkCommitted records pages as committed. Append-only and idempotent:
	// re-marking a committed page changes nothing. Callers mark pages only
	// after the storage transaction holding them has committed.
	MarkCommitted(ctx context.Context, identity string, pages []int) error
	// IsDocumentComplete reports whether every page in [0, totalPages) is
	// committed.
	IsDocumentComplete(ctx context.Context, identity string, totalPages int) (bool, error)
	// Clear removes all checkpoints for a document, forcing full
	// reprocessing on the next run.
	Clear(ctx context.Context, identity string) error
}

// Checkpoints is the slice of the checkpoint repository the manager consumes.
type Checkpoints interface {
	Pages(ctx context.Context, identity string) ([]int, error)
	Append(ctx context.Context, identity string, pages []int) error
	Count(ctx context.Context, identity string) (int, error)
	Clear(ctx context.Context, identity string) error
}

// lockStripes bounds the mutex pool. Identities hash onto stripes, so two
// documents may share a lock but one document always maps to the same lock.
const lockStripes = 32

// SQLManager persists checkpoints in the relational store. Appends are
// conflict-free in the repository; a striped per-identity mutex additionally
// serializes operations that target the same document, so concurrent callers
// can never interleave checkpoint updates for one identity.
type SQLManager struct {
	checkpoints Checkpoints
	locks       [lockStripes]sync.Mutex
	log         *observability.Logger
}

// NewSQLManager creates a store-backed checkpoint manager.
func NewSQLManager(checkpoints Checkpoints, log *observability.Logger) *SQLManager {
	return &SQLManager{checkpoints: checkpoints, log: log.WithComponent("checkpoint")}
}

func (m *SQLManager) lockFor(identity string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return &m.locks[h.Sum32()%lockStripes]
}

// CommittedPages implements Manager.
func (m *SQLManager) CommittedPages(ctx context.Context, identity string) (PageSet, error) {
	mu := m.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	pages, err := m.checkpoints.Pages(ctx, identity)
	if err != nil {
		return nil, domain.StoreUnavailableError("read checkpoints", err)
	}
	return NewPageSet(pages...), nil
}

// MarkCommitted implements Manager.
func (m *SQLManager) MarkCommitted(ctx context.Context, identity string, pages []int) error {
	if len(pages) == 0 {
		return nil
	}
	mu := m.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	if err := m.checkpoints.Append(ctx, identity, pages); err != nil {
		return domain.StoreUnavailableError("append checkpoints", err)
	}
	m.log.Debug().Str("document", identity).Ints("pages", pages).Msg("checkpointed pages")
	return nil
}

// IsDocumentComplete implements Manager.
func (m *SQLManager) IsDocumentComplete(ctx context.Context, identity string, totalPages int) (bool, error) {
	mu := m.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	count, err := m.checkpoints.Count(ctx, identity)
	if err != nil {
		return false, domain.StoreUnavailableError("count checkpoints", err)
	}
	return count >= totalPages, nil
}

// Clear implements Manager.
func (m *SQLManager) Clear(ctx context.Context, identity string) error {
	mu := m.lockFor(identity)
	mu.Lock()
	defer mu.Unlock()

	if err := m.checkpoints.Clear(ctx, identity); err != nil {
		return domain.StoreUnavailableError("clear checkpoints", err)
	}
	return nil
}

// NoopManager satisfies Manager without persisting anything. Used when
// checkpointing is disabled: every run reprocesses documents in full.
type NoopManager struct{}

// NewNoopManager creates a manager that never records progress.
func NewNoopManager() *NoopManager { return &NoopManager{} }

// CommittedPages implements Manager.
func (*NoopManager) CommittedPages(context.Context, string) (PageSet, error) {
	return PageSet{}, nil
}

// MarkCommitted implements Manager.
func (*NoopManager) MarkCommitted(context.Context, string, []int) error { return nil }

// IsDocumentComplete implements Manager.
func (*NoopManager) IsDocumentComplete(context.Context, string, int) (bool, error) {
	return false, nil
}

// Clear implements Manager.
func (*NoopManager) Clear(context.Context, string) error { return nil }
