package engine

import (
	"sync"

	"github.com/petrijr/orchestra/pkg/api"
)

// FieldKind tags a persisted field so a visitor knows how to store it.
type FieldKind string

const (
	// FieldType is a discriminator needed to rebuild the right variant.
	FieldType FieldKind = "type"
	// FieldAttribute is a scalar stored verbatim.
	FieldAttribute FieldKind = "attribute"
	// FieldArgs is an opaque serializable blob (arguments, options).
	FieldArgs FieldKind = "args"
	// FieldProcessReference is a process stored by uuid and resolved lazily.
	FieldProcessReference FieldKind = "process_reference"
	// FieldTaskReference is a task stored by uuid and resolved lazily.
	FieldTaskReference FieldKind = "task_reference"
	// FieldProcess is an owned, embedded process.
	FieldProcess FieldKind = "process"
	// FieldTasks is the owned, ordered task list of a process.
	FieldTasks FieldKind = "tasks"
)

// Visitor walks the persistable fields of tasks and processes. Entities
// pass pointers to their fields, so the same call sequence lets a writer
// read values and a reader assign them.
type Visitor interface {
	VisitType(name string, value *string)
	VisitAttribute(name string, value *string)
	// VisitArgs receives a pointer to an Options or []any field.
	VisitArgs(name string, value any)
	VisitProcessReference(name string, ref *ProcessRef)
	VisitTaskReference(name string, ref *TaskRef)
	VisitProcess(name string, p **Process)
	VisitTasks(name string, tasks *[]*Task)
}

// Entity is anything a persistence store can save and load.
type Entity interface {
	api.Completable
	Kind() Kind
	Accept(v Visitor)
	// Hydrate restores a persisted state. It refuses to move an entity
	// backwards along its lifecycle.
	Hydrate(state api.State) error
	// Refresh is Hydrate for a live entity: load runs under the entity's
	// lock and states behind the current one are ignored.
	Refresh(load func() (api.State, error)) error
}

// Field is one recorded visitor call.
type Field struct {
	Kind FieldKind
	Name string
}

// Recorder is a Visitor that records the sequence of calls it receives
// without following references or embedded entities.
type Recorder struct {
	Fields []Field
}

func (r *Recorder) add(kind FieldKind, name string) {
	r.Fields = append(r.Fields, Field{Kind: kind, Name: name})
}

func (r *Recorder) VisitType(name string, _ *string)                 { r.add(FieldType, name) }
func (r *Recorder) VisitAttribute(name string, _ *string)            { r.add(FieldAttribute, name) }
func (r *Recorder) VisitArgs(name string, _ any)                     { r.add(FieldArgs, name) }
func (r *Recorder) VisitProcessReference(name string, _ *ProcessRef) { r.add(FieldProcessReference, name) }
func (r *Recorder) VisitTaskReference(name string, _ *TaskRef)       { r.add(FieldTaskReference, name) }
func (r *Recorder) VisitProcess(name string, _ **Process)            { r.add(FieldProcess, name) }
func (r *Recorder) VisitTasks(name string, _ *[]*Task)               { r.add(FieldTasks, name) }

// ProcessLoader resolves a process by uuid.
type ProcessLoader func(uuid string) (*Process, error)

// TaskLoader resolves a task by uuid.
type TaskLoader func(uuid string) (*Task, error)

// ProcessRef is a non-owning reference to a process. A reference read from
// storage only knows the uuid until first use, when it calls its loader.
type ProcessRef struct {
	mu   sync.Mutex
	uuid string
	p    *Process
	load ProcessLoader
}

// UUID returns the referenced uuid, or "" for an empty reference.
func (r *ProcessRef) UUID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uuid
}

// Set points the reference at p.
func (r *ProcessRef) Set(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.p = p
	r.uuid = ""
	r.load = nil
	if p != nil {
		r.uuid = p.UUID()
	}
}

// SetLazy points the reference at uuid, to be resolved with load on first use.
func (r *ProcessRef) SetLazy(uuid string, load ProcessLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uuid = uuid
	r.p = nil
	r.load = load
}

// Resolve returns the referenced process, loading it on first use. It
// returns nil, nil for an empty reference.
func (r *ProcessRef) Resolve() (*Process, error) {
	r.mu.Lock()
	p, uuid, load := r.p, r.uuid, r.load
	r.mu.Unlock()

	if p != nil || uuid == "" || load == nil {
		return p, nil
	}

	// Loading may re-enter this reference (identity maps bind it), so the
	// lock is not held across the call.
	loaded, err := load(uuid)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.p == nil && r.uuid == uuid {
		r.p = loaded
		r.load = nil
	}
	return r.p, nil
}

// TaskRef is a non-owning reference to a task, resolved like ProcessRef.
type TaskRef struct {
	mu   sync.Mutex
	uuid string
	t    *Task
	load TaskLoader
}

func (r *TaskRef) UUID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uuid
}

func (r *TaskRef) Set(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.t = t
	r.uuid = ""
	r.load = nil
	if t != nil {
		r.uuid = t.UUID()
	}
}

func (r *TaskRef) SetLazy(uuid string, load TaskLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uuid = uuid
	r.t = nil
	r.load = load
}

func (r *TaskRef) Resolve() (*Task, error) {
	r.mu.Lock()
	t, uuid, load := r.t, r.uuid, r.load
	r.mu.Unlock()

	if t != nil || uuid == "" || load == nil {
		return t, nil
	}

	loaded, err := load(uuid)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.t == nil && r.uuid == uuid {
		r.t = loaded
		r.load = nil
	}
	return r.t, nil
}
