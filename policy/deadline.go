package policy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchforge/candidate_merge/obs"
)

// SessionDeadline arms the one-shot timeout for a ranking session. The fire
// callback runs exactly once, either when the budget expires or when Trigger
// is called first, whichever comes first.
type SessionDeadline struct {
	cancel  context.CancelFunc
	once    sync.Once
	fire    func()
	expired atomic.Bool
}

// NewSessionDeadline starts the deadline clock. A non-positive budget is
// rejected with ErrInvalidBudget.
func NewSessionDeadline(parent context.Context, budgetMS int, fire func()) (*SessionDeadline, error) {
	if budgetMS <= 0 {
		return nil, ErrInvalidBudget
	}
	if parent == nil {
		parent = context.Background()
	}
	if fire == nil {
		fire = func() {}
	}

	ctx, cancel := context.WithTimeout(parent, time.Duration(budgetMS)*time.Millisecond)
	d := &SessionDeadline{
		cancel: cancel,
		fire:   fire,
	}

	go func() {
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			d.expired.Store(true)
			obs.IncDeadlineFired()
			d.once.Do(d.fire)
		}
	}()
	return d, nil
}

// Trigger fires the deadline callback now if it has not fired yet and
// disarms the clock.
func (d *SessionDeadline) Trigger() {
	d.once.Do(d.fire)
	d.cancel()
}

// Cancel disarms the clock without firing.
func (d *SessionDeadline) Cancel() {
	d.cancel()
}

// Expired reports whether the budget ran out before Trigger or Cancel.
func (d *SessionDeadline) Expired() bool {
	if d == nil {
		return false
	}
	return d.expired.Load()
}
