package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/petrijr/orchestra/pkg/api"
)

// Kind discriminates task variants and processes in storage.
type Kind string

const (
	// KindTask is the undifferentiated base task. It has no behavior of its
	// own and cannot decide whether it may complete.
	KindTask       Kind = "task"
	KindStep       Kind = "step"
	KindJob        Kind = "job"
	KindSubProcess Kind = "sub_process"
	KindProcess    Kind = "process"
)

// Options is caller supplied configuration attached to a task or process.
type Options map[string]any

// OptionQueue names the queue a task or process should be dispatched on.
const OptionQueue = "queue"

// Task is a unit of work owned by a Process. Steps invoke a definition
// method, jobs are handed to a background worker and sub-process tasks
// delegate to a nested Process.
type Task struct {
	mu sync.Mutex

	uuid    string
	kind    Kind
	process ProcessRef
	next    TaskRef
	options Options
	state   api.State

	def     *Definition
	defName string
	env     *Env

	// step
	method  string
	args    []any
	invoked bool

	// job
	job      string
	finished bool

	// sub-process
	sub *Process
}

func newTask(kind Kind, opts Options) *Task {
	if opts == nil {
		opts = Options{}
	}
	return &Task{
		uuid:    uuid.NewString(),
		kind:    kind,
		options: opts,
		state:   api.StateInitial,
	}
}

// NewTask creates a base task. It is only useful as a building block in
// tests; CanComplete panics on it.
func NewTask(opts Options) *Task {
	return newTask(KindTask, opts)
}

// NewStepTask creates a task that invokes method with args.
func NewStepTask(method string, args []any, opts Options) *Task {
	t := newTask(KindStep, opts)
	t.method = method
	t.args = args
	return t
}

// NewJobTask creates a task that submits the named job with args.
func NewJobTask(job string, args []any, opts Options) *Task {
	t := newTask(KindJob, opts)
	t.job = job
	t.args = args
	return t
}

// NewSubProcessTask creates a task that drives sub. The task takes
// ownership of sub.
func NewSubProcessTask(sub *Process, opts Options) *Task {
	t := newTask(KindSubProcess, opts)
	t.sub = sub
	if sub != nil {
		sub.parent.Set(t)
	}
	return t
}

// EmptyTask returns a task of the given kind with no identity, ready to be
// filled by a reading Visitor.
func EmptyTask(kind Kind) *Task {
	return &Task{
		kind:    kind,
		options: Options{},
		state:   api.StateInitial,
	}
}

func (t *Task) UUID() string {
	return t.uuid
}

func (t *Task) Kind() Kind {
	return t.kind
}

func (t *Task) State() api.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) Options() Options {
	return t.options
}

// QueueName returns the queue option, or "" when none is set.
func (t *Task) QueueName() string {
	if q, ok := t.options[OptionQueue].(string); ok {
		return q
	}
	return ""
}

// Method returns the step method name.
func (t *Task) Method() string {
	return t.method
}

// JobName returns the name of the job a job task submits.
func (t *Task) JobName() string {
	return t.job
}

// Args returns a copy of the step or job arguments.
func (t *Task) Args() []any {
	out := make([]any, len(t.args))
	copy(out, t.args)
	return out
}

// SubProcess returns the process owned by a sub-process task.
func (t *Task) SubProcess() *Process {
	return t.sub
}

// Definition returns the definition bound to this task, if any.
func (t *Task) Definition() *Definition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.def
}

// DefinitionName is the name of the definition the task was built from.
func (t *Task) DefinitionName() string {
	return t.defName
}

// Process resolves the owning process.
func (t *Task) Process() (*Process, error) {
	return t.process.Resolve()
}

// ProcessUUID returns the owning process uuid without resolving it.
func (t *Task) ProcessUUID() string {
	return t.process.UUID()
}

// Next resolves the task that follows this one in a sequential process.
func (t *Task) Next() (*Task, error) {
	return t.next.Resolve()
}

// Bind attaches the definition and environment a loaded task runs with.
func (t *Task) Bind(def *Definition, env *Env) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.def = def
	if def != nil {
		t.defName = def.Name()
	}
	t.env = env
}

// Equal reports whether t and other have the same uuid.
func (t *Task) Equal(other *Task) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.uuid == other.uuid
}

// Compare orders tasks lexically by uuid.
func (t *Task) Compare(other *Task) int {
	return strings.Compare(t.uuid, other.uuid)
}

func (t *Task) String() string {
	return fmt.Sprintf("%s %s (%s)", t.kind, t.uuid, t.State())
}

// RootKey is the uuid of the outermost process this task belongs to.
func (t *Task) RootKey() string {
	p, err := t.Process()
	if err != nil || p == nil {
		return t.process.UUID()
	}
	return p.RootKey()
}

func (t *Task) Completed() bool { return t.State() == api.StateCompleted }
func (t *Task) Failed() bool    { return t.State() == api.StateFailed }

// Paused reports whether the owning process, or one of its ancestors, is
// paused. Tasks never record the paused state themselves.
func (t *Task) Paused() bool {
	p, err := t.Process()
	if err != nil || p == nil {
		return false
	}
	return p.Paused()
}

// Cancelled reports whether the owning process, or one of its ancestors, is
// cancelled.
func (t *Task) Cancelled() bool {
	p, err := t.Process()
	if err != nil || p == nil {
		return false
	}
	return p.Cancelled()
}

// CanComplete reports whether the task's work is done. Calling it on a base
// task is a programming error and panics with api.ErrNotImplemented.
func (t *Task) CanComplete() bool {
	switch t.kind {
	case KindStep:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.invoked
	case KindJob:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.finished
	case KindSubProcess:
		return t.sub != nil && t.sub.Completed()
	default:
		panic(api.ErrNotImplemented)
	}
}

func (t *Task) info() api.TaskInfo {
	info := api.TaskInfo{
		UUID:        t.uuid,
		ProcessUUID: t.process.UUID(),
		Kind:        string(t.kind),
	}
	switch t.kind {
	case KindStep:
		info.Name = t.method
	case KindJob:
		info.Name = t.job
	}
	return info
}

func (t *Task) invalid(from api.State, ev event) error {
	return &api.InvalidTransitionError{Entity: string(t.kind), UUID: t.uuid, From: from, Event: string(ev)}
}

// move applies ev and persists the result. Callers hold t.mu.
func (t *Task) move(ctx context.Context, ev event) (api.State, error) {
	from := t.state
	to, ok := lookup(taskTransitions, from, ev)
	if !ok {
		return from, t.invalid(from, ev)
	}
	t.state = to
	if err := t.env.persist(ctx, t.uuid, from, to); err != nil {
		t.state = from
		return from, err
	}
	return from, nil
}

// Enqueue moves the task from initial to enqueued and hands it to the queue.
// Job tasks are submitted as job requests; every other kind is pushed as a
// task request for a worker to start.
func (t *Task) Enqueue(ctx context.Context) error {
	t.mu.Lock()
	from, err := t.move(ctx, evEnqueue)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if err := t.push(ctx, false); err != nil {
		t.state = from
		if perr := t.env.persist(ctx, t.uuid, api.StateEnqueued, from); perr != nil {
			err = errors.Join(err, perr)
		}
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	t.env.observer().OnTaskEnqueued(ctx, t.info())
	return nil
}

// Requeue pushes an already enqueued task again. Resume uses it for items a
// worker dropped while the process was paused. The new item is marked as a
// redrive: workers never use it to run work that already started.
func (t *Task) Requeue(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != api.StateEnqueued {
		return t.invalid(t.state, evEnqueue)
	}
	return t.push(ctx, true)
}

// push hands the task to the queue. Callers hold t.mu.
func (t *Task) push(ctx context.Context, redrive bool) error {
	q, err := t.env.queue()
	if err != nil {
		return err
	}
	if t.kind == KindJob {
		err = q.EnqueueJob(ctx, api.JobRequest{
			TaskUUID: t.uuid,
			Job:      t.job,
			Args:     t.args,
			Queue:    t.QueueName(),
			Redrive:  redrive,
		})
	} else {
		err = q.EnqueueTask(ctx, api.TaskRequest{
			TaskUUID:    t.uuid,
			ProcessUUID: t.process.UUID(),
			Queue:       t.QueueName(),
			Redrive:     redrive,
		})
	}
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", t.kind, t.uuid, err)
	}
	return nil
}

// Start moves the task to processing and runs its work. Errors raised by
// the work are not returned: the task fails instead, and the owning process
// is told why. Start only returns transition and persistence errors.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	_, err := t.move(ctx, evStart)
	def, method, args := t.def, t.method, t.args
	t.mu.Unlock()
	if err != nil {
		return err
	}

	t.env.observer().OnTaskStart(ctx, t.info())

	switch t.kind {
	case KindStep:
		if err := NewExecutor(def, t).Call(ctx, method, args...); err != nil {
			return t.Fail(ctx, &api.ExecutionError{TaskUUID: t.uuid, Err: err})
		}
		t.mu.Lock()
		t.invoked = true
		t.mu.Unlock()
		return t.Complete(ctx)
	case KindSubProcess:
		if t.sub == nil {
			return t.Fail(ctx, &api.ExecutionError{TaskUUID: t.uuid, Err: errors.New("sub-process task has no process")})
		}
		if err := t.sub.Start(ctx); err != nil {
			return t.Fail(ctx, &api.ExecutionError{TaskUUID: t.uuid, Err: err})
		}
	}
	// Jobs were submitted on Enqueue; their completion arrives through Finish.
	return nil
}

// Perform runs fn with the job's arguments. Workers call it for job tasks
// they pulled from the job queue.
func (t *Task) Perform(ctx context.Context, fn JobFunc) error {
	if t.kind != KindJob {
		return fmt.Errorf("perform: %s %s is not a job", t.kind, t.uuid)
	}
	return fn(ctx, t.Args()...)
}

// Finish signals that the submitted job has finished and completes the task.
// Only a processing job can finish.
func (t *Task) Finish(ctx context.Context) error {
	if t.kind != KindJob {
		return fmt.Errorf("finish: %s %s is not a job", t.kind, t.uuid)
	}
	t.mu.Lock()
	if t.state != api.StateProcessing {
		from := t.state
		t.mu.Unlock()
		return t.invalid(from, evComplete)
	}
	t.finished = true
	t.mu.Unlock()
	return t.Complete(ctx)
}

// Complete moves the task to completed when CanComplete allows it and tells
// the owning process. When the task cannot complete yet, Complete does
// nothing and returns nil.
func (t *Task) Complete(ctx context.Context) error {
	t.mu.Lock()
	from := t.state
	_, ok := lookup(taskTransitions, from, evComplete)
	t.mu.Unlock()
	if !ok {
		return t.invalid(from, evComplete)
	}

	if !t.CanComplete() {
		return nil
	}

	t.mu.Lock()
	_, err := t.move(ctx, evComplete)
	t.mu.Unlock()
	if err != nil {
		return err
	}

	t.env.observer().OnTaskCompleted(ctx, t.info())

	p, err := t.Process()
	if err != nil {
		return fmt.Errorf("resolve process of %s: %w", t.uuid, err)
	}
	if p == nil {
		return nil
	}
	return p.TaskCompleted(ctx, t)
}

// Fail moves the task to failed and tells the owning process, passing cause
// along unchanged. Failing a task that already failed does nothing.
func (t *Task) Fail(ctx context.Context, cause error) error {
	t.mu.Lock()
	if t.state == api.StateFailed {
		t.mu.Unlock()
		return nil
	}
	_, err := t.move(ctx, evFail)
	t.mu.Unlock()
	if err != nil {
		return err
	}

	t.env.observer().OnTaskFailed(ctx, t.info(), cause)

	p, err := t.Process()
	if err != nil {
		return fmt.Errorf("resolve process of %s: %w", t.uuid, err)
	}
	if p == nil {
		return nil
	}
	return p.TaskFailed(ctx, t, cause)
}

// Hydrate restores a persisted state. Tasks only take states of the task
// machine and never move backwards.
func (t *Task) Hydrate(state api.State) error {
	if state == api.StatePaused || state == api.StateCancelled {
		return fmt.Errorf("hydrate %s %s: tasks do not record %s", t.kind, t.uuid, state)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !canHydrate(t.state, state) {
		return t.invalid(t.state, event("hydrate "+string(state)))
	}
	t.state = state
	if state == api.StateCompleted {
		t.invoked = true
		t.finished = true
	}
	return nil
}

// Refresh replaces the state with the one load returns, holding the task
// lock so no transition of this instance interleaves. Stored states behind
// the in-memory one are ignored.
func (t *Task) Refresh(load func() (api.State, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, err := load()
	if err != nil {
		return err
	}
	if state == t.state || !canHydrate(t.state, state) {
		return nil
	}
	if state == api.StatePaused || state == api.StateCancelled {
		return fmt.Errorf("refresh %s %s: tasks do not record %s", t.kind, t.uuid, state)
	}
	t.state = state
	if state == api.StateCompleted {
		t.invoked = true
		t.finished = true
	}
	return nil
}

// Accept walks the persistable fields of the task in storage order.
func (t *Task) Accept(v Visitor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.kind {
	case KindStep:
		v.VisitType("definition", &t.defName)
		t.acceptBase(v)
		v.VisitAttribute("method", &t.method)
		v.VisitArgs("args", &t.args)
	case KindJob:
		t.acceptBase(v)
		v.VisitType("definition", &t.defName)
		v.VisitType("job", &t.job)
		v.VisitArgs("args", &t.args)
	case KindSubProcess:
		t.acceptBase(v)
		v.VisitProcess("sub_process", &t.sub)
	default:
		t.acceptBase(v)
	}
}

func (t *Task) acceptBase(v Visitor) {
	v.VisitAttribute("uuid", &t.uuid)
	v.VisitProcessReference("process", &t.process)
	v.VisitTaskReference("next", &t.next)
	v.VisitArgs("options", &t.options)
}
