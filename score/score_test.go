package score

import (
	"math"
	"testing"
)

func TestEstimateReferenceVector(t *testing.T) {
	// Generator 1 tuned at (0.5, 0.8, 0.2): rank 1, raw 0.9 lands at
	// 0.5/log2(2) + 0.8*0.9 + 0.2 = 1.42.
	w := Weights{W0: 0.5, W1: 0.8, W2: 0.2}
	got, err := Estimate(w, 1, 0.9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-1.42) > 1e-9 {
		t.Fatalf("expected 1.42, got %v", got)
	}
}

func TestEstimateDecreasesWithRank(t *testing.T) {
	w := DefaultWeights()

	last := math.Inf(1)
	for rank := 1; rank <= 10; rank++ {
		got, err := Estimate(w, rank, 0.5)
		if err != nil {
			t.Fatalf("rank %d: unexpected error: %v", rank, err)
		}
		if got >= last {
			t.Fatalf("rank %d: expected estimate below rank %d, got %v >= %v", rank, rank-1, got, last)
		}
		last = got
	}

	// Rank 1 hits the log2 floor of 2 exactly: w0/1 + w1*0.5 + w2.
	first, _ := Estimate(w, 1, 0.5)
	if math.Abs(first-2.5) > 1e-9 {
		t.Fatalf("expected 2.5 at rank 1, got %v", first)
	}
}

func TestEstimateRejectsBadRank(t *testing.T) {
	for _, rank := range []int{0, -1, -100} {
		if _, err := Estimate(DefaultWeights(), rank, 0.5); err == nil {
			t.Fatalf("expected error for rank %d", rank)
		}
	}
}

func TestEstimateAcceptsAnyScore(t *testing.T) {
	got, err := Estimate(DefaultWeights(), 4, -3.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 1.0/math.Log2(5) + -3.5 + 1.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestLookupDefaultsForUnknownGenerator(t *testing.T) {
	table := WeightTable{
		1: {W0: 0.5, W1: 0.8, W2: 0.2},
	}

	if w := table.Lookup(1); w.W0 != 0.5 {
		t.Fatalf("expected configured weights, got %+v", w)
	}
	if w := table.Lookup(99); w != DefaultWeights() {
		t.Fatalf("expected default weights for unknown generator, got %+v", w)
	}

	var empty WeightTable
	if w := empty.Lookup(1); w != DefaultWeights() {
		t.Fatalf("expected default weights from nil table, got %+v", w)
	}
}
