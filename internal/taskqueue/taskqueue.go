// Package taskqueue carries work requests from the engine to workers.
//
// Every backend is a plain FIFO of Items. A Dispatcher adapts a Queue to the
// api.Queue the engine talks to.
package taskqueue

import (
	"context"
	"errors"
	"time"
)

// ItemType identifies what the worker should do with an item.
type ItemType string

const (
	// ItemProcess starts a process.
	ItemProcess ItemType = "process"
	// ItemTask starts a step or sub-process task.
	ItemTask ItemType = "task"
	// ItemJob runs the background job of a job task.
	ItemJob ItemType = "job"
)

// Item is one unit of work for a worker. Items only carry references; the
// entity is loaded from storage when the item is processed.
type Item struct {
	ID   string
	Type ItemType

	// UUID is the process uuid for ItemProcess and the task uuid otherwise.
	UUID string

	// ProcessUUID is set for task items.
	ProcessUUID string

	// Job and Args are set for job items.
	Job  string
	Args []any

	// Queue is the named queue the entity asked for, if any.
	Queue string

	// Redrive is set on items re-issued by a resume. They only start work
	// that has not started yet.
	Redrive bool

	EnqueuedAt time.Time

	// Trace carries the propagated trace context of the enqueuing call.
	Trace map[string]string
}

// ErrClosed is returned by Dequeue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO of items.
type Queue interface {
	// Enqueue adds an item to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, it Item) error

	// Dequeue removes and returns the next item, blocking until one is
	// available or the context is cancelled.
	Dequeue(ctx context.Context) (*Item, error)

	// Len returns the approximate number of items queued.
	Len() int
}
