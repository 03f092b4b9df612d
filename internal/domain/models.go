// Package domain defines the core types shared across the processing engine.
package domain

import (
	"fmt"
	"time"
)

// DocumentStatus represents the processing status of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusInProgress DocumentStatus = "in_progress"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// ExtractionMethod identifies which backend produced a page's text.
type ExtractionMethod string

const (
	MethodDigital ExtractionMethod = "digital"
	MethodOCR     ExtractionMethod = "ocr"
)

// Document describes a discovered source file eligible for processing.
// Identity is the file stem and stays stable across runs; Fingerprint is
// the SHA-256 digest of the raw bytes at scan time.
type Document struct {
	Identity    string
	Path        string
	Fingerprint string
	PageCount   int
	SizeBytes   int64
}

// DocumentRecord is the durable processing state for a document.
type DocumentRecord struct {
	Identity      string
	Fingerprint   string
	PageCount     int
	Status        DocumentStatus
	FailureReason string
	SourcePath    string
	UpdatedAt     time.Time
}

// PageResult is the extraction outcome for a single page. Ownership moves
// from the producing extraction task to the storage writer on handoff.
type PageResult struct {
	Identity  string
	PageIndex int
	Text      string
	Method    ExtractionMethod
	ByteSize  int
	Duration  time.Duration
	Error     error
}

// Failed reports whether the page carries an error marker instead of text.
func (r PageResult) Failed() bool {
	return r.Error != nil
}

// StoredPage is a committed page as read back from the store. Only
// successfully extracted pages are durable; error-marked results never
// reach the store.
type StoredPage struct {
	Identity    string
	PageIndex   int
	Text        string
	Method      ExtractionMethod
	ByteSize    int
	Duration    time.Duration
	CommittedAt time.Time
}

// CommitOutcome reports what a storage writer transaction durably committed.
type CommitOutcome struct {
	Identity    string
	PageIndices []int
	Attempts    int
	FinalBatch  bool
}

// RunRecord is the audit row appended for each engine run.
type RunRecord struct {
	ID               string
	StartedAt        time.Time
	FinishedAt       time.Time
	DocumentsTotal   int
	DocumentsDone    int
	DocumentsSkipped int
	DocumentsFailed  int
	PagesCommitted   int
	Summary          string
}

// DocumentOutcome is the per-document entry of a run summary.
type DocumentOutcome struct {
	Identity       string
	Status         DocumentStatus
	PagesCommitted int
	PagesFailed    int
	PagesSkipped   int
	SkippedByHash  bool
	FailureReason  string
	Elapsed        time.Duration
}

// RunSummary aggregates the result of one engine run.
type RunSummary struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Total          int
	Done           int
	Skipped        int
	Failed         int
	Pending        int
	PagesCommitted int
	PagesFailed    int
	Outcomes       []DocumentOutcome
	Orphans        []string
}

// Elapsed returns the wall-clock duration of the run.
func (s *RunSummary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Add folds a document outcome into the summary totals. Pending outcomes
// are documents the run never admitted, e.g. after cancellation.
func (s *RunSummary) Add(o DocumentOutcome) {
	s.Outcomes = append(s.Outcomes, o)
	s.PagesCommitted += o.PagesCommitted
	s.PagesFailed += o.PagesFailed
	switch {
	case o.SkippedByHash:
		s.Skipped++
	case o.Status == StatusFailed:
		s.Failed++
	case o.Status == StatusPending:
		s.Pending++
	default:
		s.Done++
	}
}

// String renders a one-line digest for logs.
func (s *RunSummary) String() string {
	line := fmt.Sprintf("run %s: %d documents (%d done, %d skipped, %d failed), %d pages committed in %s",
		s.RunID, s.Total, s.Done, s.Skipped, s.Failed, s.PagesCommitted, s.Elapsed().Round(time.Millisecond))
	if s.Pending > 0 {
		line += fmt.Sprintf(", %d not admitted", s.Pending)
	}
	return line
}
