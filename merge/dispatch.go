package merge

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// dispatcher hands batches to the ranker sinks outside the Service lock so a
// slow downstream never stalls ingestion. Jobs are fire-and-forget: when the
// buffer is full, or the dispatcher has been closed, the job is dropped
// rather than blocking or panicking the caller. Registry eviction can close
// a session while a handler still holds it, so post-close enqueues must be
// safe.
type dispatcher struct {
	jobs   chan func(context.Context)
	group  *errgroup.Group
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func newDispatcher(buffer, workers int) *dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	d := &dispatcher{
		jobs:   make(chan func(context.Context), buffer),
		group:  group,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for job := range d.jobs {
				job(ctx)
			}
			return nil
		})
	}
	return d
}

// enqueue schedules a job, reporting false when the buffer is full or the
// dispatcher is closed.
func (d *dispatcher) enqueue(job func(context.Context)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.jobs <- job:
		return true
	default:
		return false
	}
}

// close drains the remaining jobs and stops the workers. Safe to call more
// than once.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	_ = d.group.Wait()
	d.cancel()
}
