package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/searchforge/candidate_merge/merge"
	"github.com/searchforge/candidate_merge/score"
)

// CreateSessionRequest carries the per-session knobs; omitted fields fall
// back to server defaults. Weights are keyed by generator ID and hold the
// (w0, w1, w2) triple.
type CreateSessionRequest struct {
	BudgetMS  int `json:"budget_ms,omitempty"`
	MaxNumLSR int `json:"max_num_lsr,omitempty"`
	// Pointer so an explicit threshold of 0 is distinguishable from "use the
	// server default".
	LSRSufficiencyThreshold *float64             `json:"lsr_sufficiency_threshold,omitempty"`
	MaxNumESR               int                  `json:"max_num_esr,omitempty"`
	LSRBatchSize            int                  `json:"lsr_batch_size,omitempty"`
	Weights                 map[string][]float64 `json:"weights,omitempty"`
}

// Validate rejects malformed knobs before they reach the controller.
func (r CreateSessionRequest) Validate() error {
	if r.BudgetMS < 0 {
		return fmt.Errorf("budget_ms must be positive")
	}
	if r.MaxNumLSR < 0 || r.MaxNumESR < 0 || r.LSRBatchSize < 0 {
		return fmt.Errorf("limits must be positive")
	}
	for id, triple := range r.Weights {
		if _, err := strconv.Atoi(id); err != nil {
			return fmt.Errorf("weights key %q is not a generator id", id)
		}
		if len(triple) != 3 {
			return fmt.Errorf("weights for generator %s must have 3 entries, got %d", id, len(triple))
		}
	}
	return nil
}

// WeightTable converts the JSON weight mapping to the scorer's table.
func (r CreateSessionRequest) WeightTable() score.WeightTable {
	if len(r.Weights) == 0 {
		return nil
	}
	table := make(score.WeightTable, len(r.Weights))
	for id, triple := range r.Weights {
		generatorID, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		table[generatorID] = score.Weights{W0: triple[0], W1: triple[1], W2: triple[2]}
	}
	return table
}

// CreateSessionResponse returns the session handle.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// GeneratorResultsRequest is one generator's ranked report.
type GeneratorResultsRequest struct {
	GeneratorID int                     `json:"generator_id"`
	Results     []merge.CandidateResult `json:"results"`
}

// Validate checks the report shape; rank semantics are enforced by the
// merge service.
func (r GeneratorResultsRequest) Validate() error {
	for i, result := range r.Results {
		if result.ItemID == "" {
			return fmt.Errorf("results[%d]: item_id required", i)
		}
	}
	return nil
}

// TimeoutResponse returns the fallback selection dispatched to the
// early-stage ranker.
type TimeoutResponse struct {
	Items []merge.ScoredItem `json:"items"`
}

type contextKey string

const traceIDKey contextKey = "candidate_merge_trace_id"

// ContextWithTraceID stores the trace identifier in context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext extracts the trace identifier.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value := ctx.Value(traceIDKey)
	if value == nil {
		return "", false
	}
	traceID, ok := value.(string)
	return traceID, ok
}
