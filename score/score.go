package score

import (
	"fmt"
	"math"
)

// Weights holds the per-generator coefficients of the value-estimate formula.
type Weights struct {
	W0 float64
	W1 float64
	W2 float64
}

// WeightTable maps generator IDs to their tuned weights.
type WeightTable map[int]Weights

// DefaultWeights returns the neutral triple used for generators without
// tuned weights.
func DefaultWeights() Weights {
	return Weights{W0: 1.0, W1: 1.0, W2: 1.0}
}

// Lookup resolves the weights for a generator, falling back to the neutral
// default when the generator has no configured entry.
func (t WeightTable) Lookup(generatorID int) Weights {
	if t == nil {
		return DefaultWeights()
	}
	w, ok := t[generatorID]
	if !ok {
		return DefaultWeights()
	}
	return w
}

// Estimate computes the unified value estimate for a candidate reported at
// the given rank with the given raw score:
//
//	w0 / log2(max(1+rank, 2)) + w1*score + w2
//
// The floor keeps the log argument at 2 or above so the first term stays
// finite for every accepted rank. Raw scores are taken as-is.
func Estimate(w Weights, rank int, rawScore float64) (float64, error) {
	if rank < 1 {
		return 0, fmt.Errorf("rank must be >= 1, got %d", rank)
	}

	arg := float64(rank + 1)
	if arg < 2 {
		arg = 2
	}
	return w.W0/math.Log2(arg) + w.W1*rawScore + w.W2, nil
}
