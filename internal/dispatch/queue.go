// queue.go defines the queue contract the dispatcher consumes from and an
// in-memory implementation for tests and single-process deployments. The
// queue itself is deliberately dumb: no ordering guarantees between tasks for
// the same instance, no visibility timeouts, no acknowledgements — tasks run
// to completion or failure once dequeued.
package dispatch

import (
	"context"
	"time"

	"github.com/serverfleet/serverfleet/internal/safego"
)

// Queue transports tasks from enqueuers (request boundary, maintenance
// sweeps, the throttle) to dispatcher workers.
type Queue interface {
	// Enqueue makes the task available immediately.
	Enqueue(ctx context.Context, t *Task) error

	// EnqueueAfter makes the task available once delay has elapsed. The
	// throttle uses this for its reschedule-with-backoff.
	EnqueueAfter(ctx context.Context, t *Task, delay time.Duration) error

	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (*Task, error)
}

// MemoryQueue is a channel-backed Queue for tests and single-process runs.
type MemoryQueue struct {
	ch chan *Task
}

// NewMemoryQueue creates a queue buffering up to size tasks.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan *Task, size)}
}

// Enqueue makes the task available immediately.
func (q *MemoryQueue) Enqueue(ctx context.Context, t *Task) error {
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueAfter delivers the task once delay has elapsed. Delivery happens on
// a background goroutine so the caller never blocks on a full buffer.
func (q *MemoryQueue) EnqueueAfter(_ context.Context, t *Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(context.Background(), t)
	}
	safego.Go(func() {
		time.Sleep(delay)
		q.ch <- t
	})
	return nil
}

// Dequeue blocks until a task is available or ctx is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.ch:
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
