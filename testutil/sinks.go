// Package testutil provides recording sinks and a fake ranker server used
// across the test suites.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/searchforge/candidate_merge/merge"
)

// RecordingLateSink captures late-stage batches for assertions.
type RecordingLateSink struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

// NewRecordingLateSink constructs an empty recording sink.
func NewRecordingLateSink() *RecordingLateSink {
	return &RecordingLateSink{}
}

// SendCandidates records the batch and returns the configured error.
func (s *RecordingLateSink) SendCandidates(_ context.Context, itemIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]string, len(itemIDs))
	copy(batch, itemIDs)
	s.batches = append(s.batches, batch)
	return s.err
}

// Batches returns a copy of everything recorded so far.
func (s *RecordingLateSink) Batches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.batches))
	copy(out, s.batches)
	return out
}

// SetError makes subsequent sends fail with err.
func (s *RecordingLateSink) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// WaitForBatches polls until n batches arrived or the timeout elapses.
func (s *RecordingLateSink) WaitForBatches(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		count := len(s.batches)
		s.mu.Unlock()
		if count >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// RecordingEarlySink captures early-stage flushes for assertions.
type RecordingEarlySink struct {
	mu      sync.Mutex
	flushes [][]merge.ScoredItem
}

// NewRecordingEarlySink constructs an empty recording sink.
func NewRecordingEarlySink() *RecordingEarlySink {
	return &RecordingEarlySink{}
}

// SendScored records the flushed selection.
func (s *RecordingEarlySink) SendScored(_ context.Context, items []merge.ScoredItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flush := make([]merge.ScoredItem, len(items))
	copy(flush, items)
	s.flushes = append(s.flushes, flush)
	return nil
}

// Flushes returns a copy of everything recorded so far.
func (s *RecordingEarlySink) Flushes() [][]merge.ScoredItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]merge.ScoredItem, len(s.flushes))
	copy(out, s.flushes)
	return out
}

// WaitForFlushes polls until n flushes arrived or the timeout elapses.
func (s *RecordingEarlySink) WaitForFlushes(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		count := len(s.flushes)
		s.mu.Unlock()
		if count >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
