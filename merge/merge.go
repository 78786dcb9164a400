// Package merge implements the merge and admission-control stage of the
// ranking pipeline: it folds asynchronous generator results into per-item
// value estimates, escalates batches of high-value candidates to the
// late-stage ranker under a send budget, and flushes the best remaining
// candidates to the early-stage ranker when the session deadline fires.
package merge

import (
	"context"
	"fmt"

	"github.com/searchforge/candidate_merge/score"
)

// CandidateResult is a single entry of a generator's ranked output.
type CandidateResult struct {
	ItemID string  `json:"item_id"`
	Rank   int     `json:"rank"`
	Score  float64 `json:"score"`
}

// LateStageSink receives batches of item IDs escalated to the late-stage
// ranker. Calls are best-effort; the core never retries or rolls back.
type LateStageSink interface {
	SendCandidates(ctx context.Context, itemIDs []string) error
}

// EarlyStageSink receives the ordered fallback selection for the early-stage
// ranker.
type EarlyStageSink interface {
	SendScored(ctx context.Context, items []ScoredItem) error
}

// Config groups the admission-control knobs for one ranking session.
type Config struct {
	// MaxNumLSR caps how many items may be sent to the late-stage ranker.
	// The cap is advisory: it is checked at admission time, so a pending
	// batch can overshoot it by up to LSRBatchSize-1 items.
	MaxNumLSR int
	// LSRSufficiencyThreshold is the estimate an item must strictly exceed
	// to qualify for late-stage escalation.
	LSRSufficiencyThreshold float64
	// MaxNumESR caps the fallback selection sent to the early-stage ranker.
	MaxNumESR int
	// LSRBatchSize is the queue length that triggers a late-stage flush.
	LSRBatchSize int
	// Weights holds per-generator scoring weights; unlisted generators use
	// the neutral default.
	Weights score.WeightTable
}

// Validate rejects non-positive limits.
func (c Config) Validate() error {
	if c.MaxNumLSR <= 0 {
		return fmt.Errorf("max_num_lsr must be positive, got %d", c.MaxNumLSR)
	}
	if c.MaxNumESR <= 0 {
		return fmt.Errorf("max_num_esr must be positive, got %d", c.MaxNumESR)
	}
	if c.LSRBatchSize <= 0 {
		return fmt.Errorf("lsr_batch_size must be positive, got %d", c.LSRBatchSize)
	}
	return nil
}

// Stats reports session progress for the API layer.
type Stats struct {
	ItemsTracked int  `json:"items_tracked"`
	QueueDepth   int  `json:"queue_depth"`
	LSRSent      int  `json:"lsr_sent"`
	TimeoutFired bool `json:"timeout_fired"`
}
