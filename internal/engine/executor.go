package engine

import (
	"context"
	"fmt"

	"github.com/petrijr/orchestra/pkg/api"
)

// Executor binds a definition's methods to one task. It is built for each
// invocation and carries no state of its own.
type Executor struct {
	definition *Definition
	task       *Task
}

func NewExecutor(def *Definition, task *Task) *Executor {
	return &Executor{definition: def, task: task}
}

// Definition returns the definition whose methods this executor exposes.
func (e *Executor) Definition() *Definition {
	return e.definition
}

// Responds reports whether the definition declares method.
func (e *Executor) Responds(method string) bool {
	if e.definition == nil {
		return false
	}
	_, ok := e.definition.Method(method)
	return ok
}

// Call invokes a declared method with args, in order.
func (e *Executor) Call(ctx context.Context, method string, args ...any) error {
	if e.definition == nil {
		return fmt.Errorf("%w: %q (no definition bound)", api.ErrUnknownMethod, method)
	}
	fn, ok := e.definition.Method(method)
	if !ok {
		return fmt.Errorf("%w: %q in definition %q", api.ErrUnknownMethod, method, e.definition.Name())
	}
	return fn(ctx, e, args...)
}

func (e *Executor) UUID() string {
	return e.task.UUID()
}

func (e *Executor) Options() Options {
	return e.task.Options()
}

// RootKey is the uuid of the outermost process the task belongs to.
func (e *Executor) RootKey() string {
	return e.task.RootKey()
}
