package extract

import (
	"context"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
)

// Stream is a lazy, finite, non-restartable sequence of page results.
// Results arrive chunk by chunk in page order. Consume with Next until it
// reports false, then check Err for a document-level failure.
type Stream struct {
	ch  chan domain.PageResult
	err error
}

func newStream(buffer int) *Stream {
	return &Stream{ch: make(chan domain.PageResult, buffer)}
}

// Next returns the next page result. ok is false once the stream is
// exhausted or its producing context was cancelled.
func (s *Stream) Next() (domain.PageResult, bool) {
	r, ok := <-s.ch
	return r, ok
}

// Err returns the failure that terminated the stream early, if any. Only
// valid after Next has reported false.
func (s *Stream) Err() error { return s.err }

// emit delivers one result unless the context is cancelled first.
func (s *Stream) emit(ctx context.Context, r domain.PageResult) bool {
	select {
	case s.ch <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish seals the stream. The error write happens before close, so readers
// observing the closed channel see it without further synchronization.
func (s *Stream) finish(err error) {
	s.err = err
	close(s.ch)
}
