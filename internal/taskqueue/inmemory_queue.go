package taskqueue

import (
	"context"
)

// InMemoryQueue is a simple Queue implementation backed by a buffered channel.
// It is safe for concurrent use.
type InMemoryQueue struct {
	ch chan Item
}

// NewInMemoryQueue creates a new queue with the given capacity.
// For tests and small deployments, a modest capacity (e.g. 1024) is fine.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{
		ch: make(chan Item, capacity),
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, it Item) error {
	select {
	case q.ch <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Item, error) {
	select {
	case it := <-q.ch:
		return &it, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryDequeue returns the next item without blocking, or false when the
// queue is empty.
func (q *InMemoryQueue) TryDequeue() (*Item, bool) {
	select {
	case it := <-q.ch:
		return &it, true
	default:
		return nil, false
	}
}

func (q *InMemoryQueue) Len() int {
	return len(q.ch)
}
