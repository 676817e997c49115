package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MethodFunc is a step method declared by a Definition. It runs bound to the
// executor of the task that invokes it.
type MethodFunc func(ctx context.Context, exec *Executor, args ...any) error

// JobFunc performs a background job.
type JobFunc func(ctx context.Context, args ...any) error

// BuildFunc populates a freshly created root process.
type BuildFunc func(ctx context.Context, p *Process, args ...any) error

// Definition declares the methods and jobs a workflow's tasks can invoke,
// and how to build its process graph.
type Definition struct {
	name        string
	composition Composition
	build       BuildFunc

	mu      sync.RWMutex
	methods map[string]MethodFunc
	jobs    map[string]JobFunc
}

// NewDefinition creates an empty definition. Root processes it builds are
// sequential unless SetBuilder says otherwise.
func NewDefinition(name string) *Definition {
	return &Definition{
		name:        name,
		composition: Sequential,
		methods:     make(map[string]MethodFunc),
		jobs:        make(map[string]JobFunc),
	}
}

func (d *Definition) Name() string {
	return d.name
}

// DefineMethod declares a step method.
func (d *Definition) DefineMethod(name string, fn MethodFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.methods[name] = fn
}

// DefineJob declares a background job.
func (d *Definition) DefineJob(name string, fn JobFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs[name] = fn
}

// SetBuilder sets the composition of root processes and the function that
// fills them.
func (d *Definition) SetBuilder(c Composition, fn BuildFunc) {
	d.composition = c
	d.build = fn
}

// Method returns the declared method with the given name.
func (d *Definition) Method(name string) (MethodFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.methods[name]
	return fn, ok
}

// Job returns the declared job with the given name.
func (d *Definition) Job(name string) (JobFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.jobs[name]
	return fn, ok
}

// Methods lists declared method names in lexical order.
func (d *Definition) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.methods))
	for name := range d.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CreateProcess builds a new root process for this definition. The process
// is not saved or started.
func (d *Definition) CreateProcess(ctx context.Context, env *Env, args ...any) (*Process, error) {
	p := NewProcess(d, d.composition, env, nil)
	if d.build == nil {
		return p, nil
	}
	if err := d.build(ctx, p, args...); err != nil {
		return nil, fmt.Errorf("build process for %s: %w", d.name, err)
	}
	return p, nil
}
