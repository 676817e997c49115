package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/petrijr/orchestra/pkg/api"
)

// Composition decides how a process schedules its tasks. It is fixed when
// the process is created.
type Composition string

const (
	// Sequential runs tasks one after the other, in insertion order.
	Sequential Composition = "sequential"
	// Concurrent enqueues every task at once and completes when all of them
	// have completed.
	Concurrent Composition = "concurrent"
)

// ErrProcessSealed is returned when tasks are added to a process that has
// already left the initial state.
var ErrProcessSealed = errors.New("engine: process task list is sealed")

// Process is an ordered or concurrent collection of tasks. It follows the
// same lifecycle as a task, which lets it run nested inside a sub-process
// task, and adds pause, resume and cancel.
type Process struct {
	mu sync.Mutex

	uuid        string
	def         *Definition
	defName     string
	composition Composition
	options     Options
	tasks       []*Task
	state       api.State
	env         *Env

	// done holds the uuids of completed tasks.
	done map[string]struct{}

	// parent is the sub-process task carrying this process, if nested.
	parent TaskRef
}

// NewProcess creates an empty process in the initial state.
func NewProcess(def *Definition, c Composition, env *Env, opts Options) *Process {
	p := EmptyProcess()
	p.uuid = uuid.NewString()
	p.def = def
	if def != nil {
		p.defName = def.Name()
	}
	if c != "" {
		p.composition = c
	}
	if opts != nil {
		p.options = opts
	}
	p.env = env
	return p
}

// EmptyProcess returns a process with no identity, ready to be filled by a
// reading Visitor.
func EmptyProcess() *Process {
	return &Process{
		composition: Sequential,
		options:     Options{},
		state:       api.StateInitial,
		done:        make(map[string]struct{}),
	}
}

func (p *Process) UUID() string {
	return p.uuid
}

func (p *Process) Kind() Kind {
	return KindProcess
}

func (p *Process) State() api.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) Composition() Composition {
	return p.composition
}

func (p *Process) Options() Options {
	return p.options
}

func (p *Process) Definition() *Definition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.def
}

func (p *Process) DefinitionName() string {
	return p.defName
}

// Tasks returns the tasks of the process in insertion order.
func (p *Process) Tasks() []*Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Task, len(p.tasks))
	copy(out, p.tasks)
	return out
}

// Parent resolves the sub-process task that carries this process. It
// returns nil for a root process.
func (p *Process) Parent() (*Task, error) {
	return p.parent.Resolve()
}

// Env returns the environment the process runs with.
func (p *Process) Env() *Env {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.env
}

// Bind attaches the definition and environment a loaded process runs with.
func (p *Process) Bind(def *Definition, env *Env) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.def = def
	if def != nil {
		p.defName = def.Name()
	}
	p.env = env
}

// Attach sets env on the process, its tasks and every nested process.
func (p *Process) Attach(env *Env) {
	p.mu.Lock()
	p.env = env
	tasks := append([]*Task(nil), p.tasks...)
	p.mu.Unlock()

	for _, t := range tasks {
		t.mu.Lock()
		t.env = env
		t.mu.Unlock()
		if t.sub != nil {
			t.sub.Attach(env)
		}
	}
}

// RootKey is the uuid of the outermost process.
func (p *Process) RootKey() string {
	parent, err := p.Parent()
	if err != nil || parent == nil {
		return p.uuid
	}
	return parent.RootKey()
}

func (p *Process) String() string {
	return fmt.Sprintf("process %s %s (%s)", p.defName, p.uuid, p.State())
}

func (p *Process) Completed() bool { return p.State() == api.StateCompleted }
func (p *Process) Failed() bool    { return p.State() == api.StateFailed }

// Paused reports whether this process or one of its ancestors is paused.
func (p *Process) Paused() bool {
	if p.State() == api.StatePaused {
		return true
	}
	parent, err := p.Parent()
	if err != nil || parent == nil {
		return false
	}
	return parent.Paused()
}

// Cancelled reports whether this process or one of its ancestors is
// cancelled.
func (p *Process) Cancelled() bool {
	if p.State() == api.StateCancelled {
		return true
	}
	parent, err := p.Parent()
	if err != nil || parent == nil {
		return false
	}
	return parent.Cancelled()
}

// AddTask appends t to the process. In a sequential process the previous
// last task is linked to t.
func (p *Process) AddTask(t *Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != api.StateInitial {
		return fmt.Errorf("%w: %s is %s", ErrProcessSealed, p.uuid, p.state)
	}
	if owner := t.process.UUID(); owner != "" && owner != p.uuid {
		return fmt.Errorf("task %s already belongs to process %s", t.uuid, owner)
	}

	t.process.Set(p)
	t.mu.Lock()
	if t.def == nil {
		t.def = p.def
		t.defName = p.defName
	}
	if t.env == nil {
		t.env = p.env
	}
	t.mu.Unlock()

	if p.composition == Sequential && len(p.tasks) > 0 {
		p.tasks[len(p.tasks)-1].next.Set(t)
	}
	p.tasks = append(p.tasks, t)
	return nil
}

// AddStep appends a step invoking method with args.
func (p *Process) AddStep(method string, args ...any) (*Task, error) {
	t := NewStepTask(method, args, nil)
	if err := p.AddTask(t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddJob appends a task submitting the named job with args.
func (p *Process) AddJob(job string, args ...any) (*Task, error) {
	t := NewJobTask(job, args, nil)
	if err := p.AddTask(t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddSubProcess appends a sub-process task owning a new, empty process with
// composition c. Fill the nested process through t.SubProcess().
func (p *Process) AddSubProcess(c Composition, opts Options) (*Task, error) {
	sub := NewProcess(p.Definition(), c, p.Env(), opts)
	t := NewSubProcessTask(sub, nil)
	if err := p.AddTask(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *Process) info() api.ProcessInfo {
	return api.ProcessInfo{
		UUID:       p.uuid,
		Definition: p.defName,
		ParentTask: p.parent.UUID(),
	}
}

func (p *Process) invalid(from api.State, ev event) error {
	return &api.InvalidTransitionError{Entity: string(KindProcess), UUID: p.uuid, From: from, Event: string(ev)}
}

// move applies ev and persists the result. Callers hold p.mu.
func (p *Process) move(ctx context.Context, ev event) (api.State, error) {
	from := p.state
	to, ok := lookup(processTransitions, from, ev)
	if !ok {
		return from, p.invalid(from, ev)
	}
	p.state = to
	if err := p.env.persist(ctx, p.uuid, from, to); err != nil {
		p.state = from
		return from, err
	}
	return from, nil
}

func (p *Process) queueName() string {
	if q, ok := p.options[OptionQueue].(string); ok {
		return q
	}
	return ""
}

// Enqueue moves the process from initial to enqueued and asks a worker to
// start it.
func (p *Process) Enqueue(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	from, err := p.move(ctx, evEnqueue)
	if err != nil {
		return err
	}
	q, err := p.env.queue()
	if err == nil {
		err = q.EnqueueProcess(ctx, api.ProcessRequest{ProcessUUID: p.uuid, Queue: p.queueName()})
	}
	if err != nil {
		p.state = from
		if perr := p.env.persist(ctx, p.uuid, api.StateEnqueued, from); perr != nil {
			err = errors.Join(err, perr)
		}
		return fmt.Errorf("enqueue process %s: %w", p.uuid, err)
	}
	return nil
}

// Start moves the process to processing and enqueues its first task, or
// every task when the process is concurrent. An empty process completes
// right away.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	_, err := p.move(ctx, evStart)
	tasks := append([]*Task(nil), p.tasks...)
	p.mu.Unlock()
	if err != nil {
		return err
	}

	p.env.observer().OnProcessStart(ctx, p.info())

	if len(tasks) == 0 {
		return p.complete(ctx)
	}
	if p.composition == Sequential {
		return p.dispatch(ctx, tasks[0])
	}

	var errs []error
	for _, t := range tasks {
		if err := p.dispatch(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dispatch enqueues t unless the process is held back by a pause or a
// cancellation, here or further up.
func (p *Process) dispatch(ctx context.Context, t *Task) error {
	if p.Paused() || p.Cancelled() {
		return nil
	}
	return t.Enqueue(ctx)
}

func (p *Process) owns(t *Task) bool {
	for _, own := range p.tasks {
		if own.Equal(t) {
			return true
		}
	}
	return false
}

// TaskCompleted records the completion of t and moves the process on: a
// sequential process enqueues the next task, a concurrent one counts
// completions. The process completes once no work is left.
func (p *Process) TaskCompleted(ctx context.Context, t *Task) error {
	p.mu.Lock()
	if !p.owns(t) {
		p.mu.Unlock()
		return fmt.Errorf("task %s is not part of process %s", t.uuid, p.uuid)
	}
	// A process loaded after t completed has already counted it; the
	// outcome is evaluated again either way and every step below is
	// guarded against running twice.
	p.done[t.uuid] = struct{}{}

	// Failed, cancelled and paused processes only record the outcome.
	if p.state != api.StateProcessing {
		p.mu.Unlock()
		return nil
	}
	if p.composition == Concurrent {
		p.countStored(ctx)
		if len(p.done) < len(p.tasks) {
			p.mu.Unlock()
			return nil
		}
		_, err := p.move(ctx, evComplete)
		p.mu.Unlock()
		if errors.Is(err, api.ErrStateConflict) {
			return nil
		}
		if err != nil {
			return err
		}
		return p.completed(ctx)
	}
	p.mu.Unlock()

	next, err := t.Next()
	if err != nil {
		return fmt.Errorf("resolve task after %s: %w", t.uuid, err)
	}
	if next == nil {
		return p.complete(ctx)
	}
	if next.State() != api.StateInitial {
		return nil
	}
	return p.dispatch(ctx, next)
}

// countStored adds the children other workers completed, as recorded in
// storage, to the done set. The child's own completion is persisted before
// the process is told, so of two workers finishing the last siblings at
// once at least one sees both. Callers hold p.mu.
func (p *Process) countStored(ctx context.Context) {
	for _, t := range p.tasks {
		if _, ok := p.done[t.uuid]; ok {
			continue
		}
		if !t.Completed() {
			state, ok := p.env.storedState(ctx, t.uuid)
			if !ok || state != api.StateCompleted {
				continue
			}
			if err := t.Refresh(func() (api.State, error) { return state, nil }); err != nil {
				continue
			}
		}
		p.done[t.uuid] = struct{}{}
	}
}

// complete moves a processing process to completed. It does nothing when
// the process already left processing.
func (p *Process) complete(ctx context.Context) error {
	p.mu.Lock()
	if p.state != api.StateProcessing {
		p.mu.Unlock()
		return nil
	}
	_, err := p.move(ctx, evComplete)
	p.mu.Unlock()
	if errors.Is(err, api.ErrStateConflict) {
		// Another worker completed, paused or cancelled it first.
		return nil
	}
	if err != nil {
		return err
	}
	return p.completed(ctx)
}

// completed reports completion and lets a carrying sub-process task
// complete in turn.
func (p *Process) completed(ctx context.Context) error {
	p.env.observer().OnProcessCompleted(ctx, p.info())

	parent, err := p.Parent()
	if err != nil {
		return fmt.Errorf("resolve parent of process %s: %w", p.uuid, err)
	}
	if parent == nil {
		return nil
	}
	return parent.Complete(ctx)
}

// TaskFailed fails the process with cause. The first failure wins; later
// failures, like late completions, are recorded on the tasks only.
func (p *Process) TaskFailed(ctx context.Context, t *Task, cause error) error {
	p.mu.Lock()
	if !p.owns(t) {
		p.mu.Unlock()
		return fmt.Errorf("task %s is not part of process %s", t.uuid, p.uuid)
	}
	if _, ok := lookup(processTransitions, p.state, evFail); !ok {
		p.mu.Unlock()
		return nil
	}
	_, err := p.move(ctx, evFail)
	p.mu.Unlock()
	if errors.Is(err, api.ErrStateConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	p.env.observer().OnProcessFailed(ctx, p.info(), cause)

	parent, err := p.Parent()
	if err != nil {
		return fmt.Errorf("resolve parent of process %s: %w", p.uuid, err)
	}
	if parent == nil {
		return nil
	}
	return parent.Fail(ctx, cause)
}

// Pause holds back new work. Tasks already running finish their current
// transition.
func (p *Process) Pause(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.move(ctx, evPause)
	return err
}

// Cancel stops the process for good. Tasks already running finish their
// current transition but nothing new is enqueued.
func (p *Process) Cancel(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.move(ctx, evCancel)
	return err
}

// Resume continues a paused process and re-drives the work the pause held
// back, including inside running sub-processes.
func (p *Process) Resume(ctx context.Context) error {
	p.mu.Lock()
	_, err := p.move(ctx, evResume)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.redrive(ctx)
}

// redrive enqueues whatever should be queued but is not: tasks still in the
// initial state and enqueued tasks whose queue items were dropped.
func (p *Process) redrive(ctx context.Context) error {
	p.mu.Lock()
	if p.state != api.StateProcessing {
		p.mu.Unlock()
		return nil
	}
	tasks := append([]*Task(nil), p.tasks...)
	allDone := len(p.done) == len(p.tasks)
	p.mu.Unlock()

	if allDone {
		return p.complete(ctx)
	}

	if p.composition == Sequential {
		for _, t := range tasks {
			if t.Completed() {
				continue
			}
			return p.redriveTask(ctx, t)
		}
		return nil
	}

	var errs []error
	for _, t := range tasks {
		if err := p.redriveTask(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Process) redriveTask(ctx context.Context, t *Task) error {
	switch t.State() {
	case api.StateInitial:
		return p.dispatch(ctx, t)
	case api.StateEnqueued:
		if p.Paused() || p.Cancelled() {
			return nil
		}
		return t.Requeue(ctx)
	case api.StateProcessing:
		if t.kind == KindSubProcess && t.sub != nil {
			return t.sub.redrive(ctx)
		}
	}
	return nil
}

// Hydrate restores a persisted state and recounts completed tasks.
func (p *Process) Hydrate(state api.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !canHydrate(p.state, state) {
		return p.invalid(p.state, event("hydrate "+string(state)))
	}
	p.state = state
	p.recount()
	return nil
}

// Refresh replaces the state with the one load returns and recounts
// completed tasks, holding the process lock so no transition of this
// instance interleaves. Stored states behind the in-memory one are ignored.
// Refresh the tasks first so the recount sees their stored states.
func (p *Process) Refresh(load func() (api.State, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, err := load()
	if err != nil {
		return err
	}
	if state != p.state && canHydrate(p.state, state) {
		p.state = state
	}
	p.recount()
	return nil
}

// recount rebuilds the done set from task states. Callers hold p.mu.
func (p *Process) recount() {
	p.done = make(map[string]struct{}, len(p.tasks))
	for _, t := range p.tasks {
		if t.Completed() {
			p.done[t.uuid] = struct{}{}
		}
	}
}

// Accept walks the persistable fields of the process in storage order.
func (p *Process) Accept(v Visitor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	comp := string(p.composition)
	v.VisitType("definition", &p.defName)
	v.VisitAttribute("uuid", &p.uuid)
	v.VisitTaskReference("parent", &p.parent)
	v.VisitAttribute("composition", &comp)
	v.VisitArgs("options", &p.options)
	v.VisitTasks("tasks", &p.tasks)
	p.composition = Composition(comp)
}
