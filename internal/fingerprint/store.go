// Package fingerprint decides whether documents need processing based on
// content fingerprints and records processing outcomes.
package fingerprint

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmumbaiwala/PageFinder/internal/cache"
	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
	"github.com/mmumbaiwala/PageFinder/internal/store"
)

// Store maps document identities to fingerprints and processing status.
type Store interface {
	// ShouldProcess returns false iff a record exists with status completed
	// and a bit-for-bit fingerprint match. Store connectivity failures are
	// fatal for the run; there is no silent skip-all fallback.
	ShouldProcess(ctx context.Context, identity, fingerprint string) (bool, error)
	// RecordResult upserts the document record. Idempotent: calling it twice
	// with identical arguments leaves state unchanged.
	RecordResult(ctx context.Context, rec domain.DocumentRecord) error
	// Lookup returns the stored record for identity, or nil when none
	// exists. Callers use it to detect fingerprint drift against durable
	// state, e.g. to discard checkpoints of changed documents.
	Lookup(ctx context.Context, identity string) (*domain.DocumentRecord, error)
}

// Records is the slice of the document repository the store consumes.
type Records interface {
	Get(ctx context.Context, identity string) (*domain.DocumentRecord, error)
	Upsert(ctx context.Context, rec *domain.DocumentRecord) error
}

// SQLStore implements Store over the relational document repository with an
// optional read-through cache.
type SQLStore struct {
	records Records
	cache   cache.Client
	ttl     time.Duration
	log     *observability.Logger
}

// NewSQLStore creates a fingerprint store without caching.
func NewSQLStore(records Records, log *observability.Logger) *SQLStore {
	return &SQLStore{records: records, log: log.WithComponent("fingerprint")}
}

// NewCachedSQLStore creates a fingerprint store with a read-through cache.
// The cache only accelerates reads; misses and cache errors fall through to
// the repository.
func NewCachedSQLStore(records Records, c cache.Client, ttl time.Duration, log *observability.Logger) *SQLStore {
	s := NewSQLStore(records, log)
	s.cache = c
	s.ttl = ttl
	return s
}

// ShouldProcess implements Store.
func (s *SQLStore) ShouldProcess(ctx context.Context, identity, fingerprint string) (bool, error) {
	if fp, status, ok := s.cachedEntry(ctx, identity); ok {
		if status == domain.StatusCompleted && fp == fingerprint {
			s.log.Debug().Str("document", identity).Msg("fingerprint cache hit, skipping")
			return false, nil
		}
		// An entry carrying the same fingerprint is current, so a
		// non-completed status means process. A different fingerprint may
		// just be stale; fall through to the repository.
		if fp == fingerprint {
			return true, nil
		}
	}

	rec, err := s.records.Get(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, domain.StoreUnavailableError("read document record", err)
	}

	s.cacheEntry(ctx, identity, rec.Fingerprint, rec.Status)

	if rec.Status == domain.StatusCompleted && rec.Fingerprint == fingerprint {
		return false, nil
	}
	return true, nil
}

// RecordResult implements Store.
func (s *SQLStore) RecordResult(ctx context.Context, rec domain.DocumentRecord) error {
	if err := s.records.Upsert(ctx, &rec); err != nil {
		return domain.StoreUnavailableError("upsert document record", err)
	}
	s.cacheEntry(ctx, rec.Identity, rec.Fingerprint, rec.Status)
	return nil
}

// Lookup implements Store.
func (s *SQLStore) Lookup(ctx context.Context, identity string) (*domain.DocumentRecord, error) {
	rec, err := s.records.Get(ctx, identity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.StoreUnavailableError("read document record", err)
	}
	return rec, nil
}

// cachedEntry reads the fingerprint cache. ok is false on miss, error, or a
// malformed entry.
func (s *SQLStore) cachedEntry(ctx context.Context, identity string) (fingerprint string, status domain.DocumentStatus, ok bool) {
	if s.cache == nil {
		return "", "", false
	}
	raw, err := s.cache.Get(ctx, cache.FingerprintKey(identity))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Debug().Err(err).Str("document", identity).Msg("fingerprint cache read failed")
		}
		return "", "", false
	}
	fp, st, found := strings.Cut(string(raw), "|")
	if !found {
		return "", "", false
	}
	return fp, domain.DocumentStatus(st), true
}

// cacheEntry writes the fingerprint cache best-effort.
func (s *SQLStore) cacheEntry(ctx context.Context, identity, fingerprint string, status domain.DocumentStatus) {
	if s.cache == nil {
		return
	}
	val := fingerprint + "|" + string(status)
	if err := s.cache.Set(ctx, cache.FingerprintKey(identity), []byte(val), s.ttl); err != nil {
		s.log.Debug().Err(err).Str("document", identity).Msg("fingerprint cache write failed")
	}
}
