// Package search finds text in committed pages and reports where it was.
package search

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
	"github.com/mmumbaiwala/PageFinder/internal/observability"
)

const snippetRadius = 60

// PageSearcher is the store-side page search.
type PageSearcher interface {
	Search(ctx context.Context, text string, limit int) ([]*domain.StoredPage, error)
}

// Hit is one matching page with enough context to show where the query
// appears.
type Hit struct {
	Identity  string
	PageIndex int
	Method    domain.ExtractionMethod
	// Offset is the byte position of the first match in the page text.
	Offset int
	// Matches counts occurrences on the page.
	Matches int
	// Snippet is a whitespace-normalized window around the first match.
	Snippet string
}

// Searcher answers substring queries over the store, case-insensitive.
type Searcher struct {
	pages PageSearcher
	log   *observability.Logger
}

// NewSearcher creates a page text searcher.
func NewSearcher(pages PageSearcher, log *observability.Logger) *Searcher {
	return &Searcher{pages: pages, log: log.WithComponent("search")}
}

// Search returns up to limit hits for query, ordered by document and page.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ValidationError("search query is empty", nil)
	}

	start := time.Now()
	pages, err := s.pages.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	hits := make([]Hit, 0, len(pages))
	for _, p := range pages {
		haystack := strings.ToLower(p.Text)
		idx := strings.Index(haystack, needle)
		if idx < 0 {
			// The store matched but the text shifted under us; show the head.
			idx = 0
		}
		hits = append(hits, Hit{
			Identity:  p.Identity,
			PageIndex: p.PageIndex,
			Method:    p.Method,
			Offset:    idx,
			Matches:   strings.Count(haystack, needle),
			Snippet:   snippet(p.Text, idx, len(query)),
		})
	}

	s.log.Debug().
		Str("query", query).
		Int("hits", len(hits)).
		Dur("elapsed", time.Since(start)).
		Msg("search complete")
	return hits, nil
}

// snippet cuts a window around the match, aligned to rune boundaries, and
// collapses whitespace for single-line display.
func snippet(text string, idx, matchLen int) string {
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + snippetRadius
	if end > len(text) {
		end = len(text)
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}

	out := strings.Join(strings.Fields(text[start:end]), " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}
