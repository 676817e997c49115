package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/orchestra/pkg/api"
)

// ErrNoQueue is returned when a task or process must be enqueued but its
// environment carries no queue.
var ErrNoQueue = errors.New("engine: no queue configured")

// StatePersister records state transitions as they happen.
// persistence.Store implements it.
//
// PersistState must only apply the change when the stored state is still
// from, and return an error matching api.ErrStateConflict otherwise.
type StatePersister interface {
	PersistState(ctx context.Context, uuid string, from, to api.State) error
}

// StateReader is implemented by persisters that can report the stored state
// of an entity. Concurrent processes use it to count children completed by
// other workers.
type StateReader interface {
	StoredState(ctx context.Context, uuid string) (api.State, error)
}

// Env carries the collaborators shared by every task and process of one
// graph. A nil Env, or nil fields, are valid: persistence and observation
// become no-ops and enqueueing fails with ErrNoQueue.
type Env struct {
	Queue     api.Queue
	Persister StatePersister
	Observer  api.Observer
}

func (e *Env) queue() (api.Queue, error) {
	if e == nil || e.Queue == nil {
		return nil, ErrNoQueue
	}
	return e.Queue, nil
}

func (e *Env) observer() api.Observer {
	if e == nil || e.Observer == nil {
		return api.NoopObserver{}
	}
	return e.Observer
}

func (e *Env) persist(ctx context.Context, uuid string, from, to api.State) error {
	if e == nil || e.Persister == nil {
		return nil
	}
	if err := e.Persister.PersistState(ctx, uuid, from, to); err != nil {
		return fmt.Errorf("persist state %s of %s: %w", to, uuid, err)
	}
	return nil
}

// storedState returns the stored state of uuid. ok is false when the
// persister cannot tell.
func (e *Env) storedState(ctx context.Context, uuid string) (api.State, bool) {
	if e == nil {
		return "", false
	}
	r, ok := e.Persister.(StateReader)
	if !ok {
		return "", false
	}
	state, err := r.StoredState(ctx, uuid)
	if err != nil {
		return "", false
	}
	return state, true
}
