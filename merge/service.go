package merge

import (
	"context"
	"fmt"
	"sync"

	"github.com/searchforge/candidate_merge/obs"
	"github.com/searchforge/candidate_merge/score"
)

// Service owns all mutable state for one ranking session: the estimate
// store, the admission queue, the sent set, and the send counter. Every
// mutation runs under one mutex so concurrent generator completions and the
// timeout cannot double-admit an item. No blocking I/O happens inside the
// critical section; sink calls are handed to the dispatcher.
type Service struct {
	cfg   Config
	late  LateStageSink
	early EarlyStageSink

	mu           sync.Mutex
	estimates    *EstimateStore
	waiting      *admissionQueue
	sent         map[string]struct{}
	lsrSent      int
	timeoutFired bool

	dispatch *dispatcher
}

// Option customizes Service construction.
type Option func(*options)

type options struct {
	dispatchBuffer  int
	dispatchWorkers int
}

// WithDispatchBuffer sets the pending-dispatch buffer size.
func WithDispatchBuffer(n int) Option {
	return func(o *options) {
		o.dispatchBuffer = n
	}
}

// WithDispatchWorkers sets the number of dispatch workers.
func WithDispatchWorkers(n int) Option {
	return func(o *options) {
		o.dispatchWorkers = n
	}
}

// NewService validates the configuration and builds a session service.
func NewService(cfg Config, late LateStageSink, early EarlyStageSink, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if late == nil {
		return nil, fmt.Errorf("late-stage sink required")
	}
	if early == nil {
		return nil, fmt.Errorf("early-stage sink required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &Service{
		cfg:       cfg,
		late:      late,
		early:     early,
		estimates: NewEstimateStore(),
		waiting:   newAdmissionQueue(),
		sent:      make(map[string]struct{}),
		dispatch:  newDispatcher(o.dispatchBuffer, o.dispatchWorkers),
	}, nil
}

// OnGeneratorCompletion scores a generator's ranked results, merges them
// into the estimate store, and admits qualifying items to the late-stage
// queue. Results are validated up front: a rank below 1 fails the whole
// call before any state changes.
func (s *Service) OnGeneratorCompletion(ctx context.Context, generatorID int, results []CandidateResult) error {
	weights := s.cfg.Weights.Lookup(generatorID)

	estimates := make([]float64, len(results))
	for i, result := range results {
		estimate, err := score.Estimate(weights, result.Rank, result.Score)
		if err != nil {
			return fmt.Errorf("generator %d result %q: %w", generatorID, result.ItemID, err)
		}
		estimates[i] = estimate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, result := range results {
		estimate := estimates[i]
		s.estimates.Update(result.ItemID, estimate)

		if estimate <= s.cfg.LSRSufficiencyThreshold {
			continue
		}
		if _, alreadySent := s.sent[result.ItemID]; alreadySent {
			continue
		}
		s.admitLocked(ctx, result.ItemID)
	}
	return nil
}

// admitLocked stages an item for the late-stage ranker and flushes when the
// batch fills. The budget check reads the counter as it stands now, not the
// projected total after the pending batch, so the final flush can overshoot
// MaxNumLSR by up to LSRBatchSize-1 items.
func (s *Service) admitLocked(ctx context.Context, itemID string) {
	if s.lsrSent >= s.cfg.MaxNumLSR {
		return
	}
	if !s.waiting.push(itemID) {
		return
	}
	if s.waiting.len() >= s.cfg.LSRBatchSize {
		s.flushLocked(ctx)
	}
}

// flushLocked commits the pending batch to the sent set and counter, then
// hands the sink call to the dispatcher. State is committed before dispatch
// and never rolled back on sink failure.
func (s *Service) flushLocked(ctx context.Context) {
	batch := s.waiting.drain()

	toSend := make([]string, 0, len(batch))
	for _, itemID := range batch {
		if _, ok := s.sent[itemID]; ok {
			continue
		}
		s.sent[itemID] = struct{}{}
		toSend = append(toSend, itemID)
	}
	if len(toSend) == 0 {
		return
	}

	s.lsrSent += len(toSend)
	obs.AddLateStageSent(len(toSend))

	if !s.dispatch.enqueue(func(ctx context.Context) {
		_ = s.late.SendCandidates(ctx, toSend)
	}) {
		obs.IncDroppedDispatch("late_stage")
	}
}

// OnTimeout runs the deadline fallback once: it ranks the estimate store,
// drops items already escalated, truncates to MaxNumESR, and dispatches the
// selection to the early-stage ranker. The selection is not added to the
// sent set, so an item surfaced here can still reach the late-stage ranker
// if a generator reports it again above threshold. Returns the selection.
func (s *Service) OnTimeout(ctx context.Context) ([]ScoredItem, error) {
	s.mu.Lock()
	if s.timeoutFired {
		s.mu.Unlock()
		return nil, nil
	}
	s.timeoutFired = true

	selected := selectFallback(s.estimates.Snapshot(), s.sent, s.cfg.MaxNumESR)
	s.mu.Unlock()

	obs.ObserveFallbackFlush(len(selected))

	if !s.dispatch.enqueue(func(ctx context.Context) {
		_ = s.early.SendScored(ctx, selected)
	}) {
		obs.IncDroppedDispatch("early_stage")
	}
	return selected, nil
}

// Get returns the stored estimate for an item.
func (s *Service) Get(itemID string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimates.Get(itemID)
}

// Stats reports current session progress.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ItemsTracked: s.estimates.Len(),
		QueueDepth:   s.waiting.len(),
		LSRSent:      s.lsrSent,
		TimeoutFired: s.timeoutFired,
	}
}

// Close drains pending dispatches and stops the dispatch workers.
func (s *Service) Close() {
	s.dispatch.close()
}
