package merge

// ScoredItem pairs a candidate with its current value estimate.
type ScoredItem struct {
	ItemID   string  `json:"item_id"`
	Estimate float64 `json:"estimate"`
}

// EstimateStore keeps the best value estimate seen for each candidate.
// Merging is by max, so replaying the same generator result is idempotent
// and a stored estimate never decreases. The store is not locked; the
// owning Service serializes all access.
type EstimateStore struct {
	estimates map[string]float64
}

// NewEstimateStore returns an empty store.
func NewEstimateStore() *EstimateStore {
	return &EstimateStore{
		estimates: make(map[string]float64),
	}
}

// Update merges an estimate for an item, keeping the maximum. It reports
// whether the stored value changed.
func (s *EstimateStore) Update(itemID string, estimate float64) bool {
	current, ok := s.estimates[itemID]
	if ok && current >= estimate {
		return false
	}
	s.estimates[itemID] = estimate
	return true
}

// Get returns the stored estimate for an item.
func (s *EstimateStore) Get(itemID string) (float64, bool) {
	estimate, ok := s.estimates[itemID]
	return estimate, ok
}

// Len returns the number of tracked items.
func (s *EstimateStore) Len() int {
	return len(s.estimates)
}

// Snapshot copies the store contents for read-only ranking.
func (s *EstimateStore) Snapshot() []ScoredItem {
	out := make([]ScoredItem, 0, len(s.estimates))
	for id, estimate := range s.estimates {
		out = append(out, ScoredItem{ItemID: id, Estimate: estimate})
	}
	return out
}
