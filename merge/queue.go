package merge

// admissionQueue stages candidates waiting for the late-stage ranker. It
// preserves FIFO order for deterministic batch composition and never holds
// the same item twice. Like EstimateStore it relies on the owning Service
// for serialization.
type admissionQueue struct {
	order  []string
	queued map[string]struct{}
}

func newAdmissionQueue() *admissionQueue {
	return &admissionQueue{
		queued: make(map[string]struct{}),
	}
}

// push appends an item unless it is already waiting.
func (q *admissionQueue) push(itemID string) bool {
	if _, ok := q.queued[itemID]; ok {
		return false
	}
	q.order = append(q.order, itemID)
	q.queued[itemID] = struct{}{}
	return true
}

func (q *admissionQueue) len() int {
	return len(q.order)
}

// drain removes and returns the whole queue in FIFO order.
func (q *admissionQueue) drain() []string {
	batch := q.order
	q.order = nil
	q.queued = make(map[string]struct{})
	return batch
}
