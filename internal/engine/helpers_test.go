package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/petrijr/orchestra/pkg/api"
)

type recordingQueue struct {
	mu        sync.Mutex
	tasks     []api.TaskRequest
	jobs      []api.JobRequest
	processes []api.ProcessRequest
	err       error
}

func (q *recordingQueue) EnqueueTask(_ context.Context, req api.TaskRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, req)
	return nil
}

func (q *recordingQueue) EnqueueJob(_ context.Context, req api.JobRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, req)
	return nil
}

func (q *recordingQueue) EnqueueProcess(_ context.Context, req api.ProcessRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.processes = append(q.processes, req)
	return nil
}

func (q *recordingQueue) taskUUIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tasks))
	for _, r := range q.tasks {
		out = append(out, r.TaskUUID)
	}
	return out
}

func (q *recordingQueue) jobCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// recordingObserver keeps the errors of failure callbacks and counts the rest.
type recordingObserver struct {
	api.NoopObserver

	mu                 sync.Mutex
	processesCompleted int
	processFailures    []error
	taskFailures       []error
}

func (o *recordingObserver) OnProcessCompleted(context.Context, api.ProcessInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processesCompleted++
}

func (o *recordingObserver) OnProcessFailed(_ context.Context, _ api.ProcessInfo, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processFailures = append(o.processFailures, err)
}

func (o *recordingObserver) OnTaskFailed(_ context.Context, _ api.TaskInfo, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.taskFailures = append(o.taskFailures, err)
}

func (o *recordingObserver) completedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.processesCompleted
}

// memoryPersister keeps the state history of every uuid. A state set with
// store acts like a write from another worker: the next PersistState of that
// uuid conflicts unless it starts from the stored state.
type memoryPersister struct {
	mu     sync.Mutex
	states map[string][]api.State
	stored map[string]api.State
	err    error
}

func (m *memoryPersister) PersistState(_ context.Context, uuid string, from, to api.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if cur, ok := m.stored[uuid]; ok && cur != from {
		return fmt.Errorf("%w: %s is %s", api.ErrStateConflict, uuid, cur)
	}
	if m.states == nil {
		m.states = make(map[string][]api.State)
	}
	m.states[uuid] = append(m.states[uuid], to)
	if m.stored != nil {
		delete(m.stored, uuid)
	}
	return nil
}

func (m *memoryPersister) StoredState(_ context.Context, uuid string) (api.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.stored[uuid]; ok {
		return cur, nil
	}
	h := m.states[uuid]
	if len(h) == 0 {
		return "", errors.New("no state")
	}
	return h[len(h)-1], nil
}

// store records state for uuid behind the back of the in-memory entity.
func (m *memoryPersister) store(uuid string, state api.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		m.stored = make(map[string]api.State)
	}
	m.stored[uuid] = state
}

func (m *memoryPersister) history(uuid string) []api.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.State(nil), m.states[uuid]...)
}

var errBoom = errors.New("boom")

type call struct {
	uuid string
	args []any
}

// testDefinition declares "foo", which records its calls, and "explode",
// which fails with errBoom.
func testDefinition(t *testing.T) (*Definition, *[]call) {
	t.Helper()

	var (
		mu    sync.Mutex
		calls []call
	)
	def := NewDefinition("test")
	def.DefineMethod("foo", func(_ context.Context, exec *Executor, args ...any) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, call{uuid: exec.UUID(), args: args})
		return nil
	})
	def.DefineMethod("explode", func(context.Context, *Executor, ...any) error {
		return errBoom
	})
	def.DefineJob("TestJob", func(context.Context, ...any) error {
		return nil
	})
	return def, &calls
}

type fixture struct {
	def      *Definition
	calls    *[]call
	queue    *recordingQueue
	observer *recordingObserver
	persist  *memoryPersister
	env      *Env
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	def, calls := testDefinition(t)
	f := &fixture{
		def:      def,
		calls:    calls,
		queue:    &recordingQueue{},
		observer: &recordingObserver{},
		persist:  &memoryPersister{},
	}
	f.env = &Env{Queue: f.queue, Persister: f.persist, Observer: f.observer}
	return f
}

func (f *fixture) process(c Composition) *Process {
	return NewProcess(f.def, c, f.env, nil)
}
