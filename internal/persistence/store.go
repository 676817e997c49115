package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petrijr/orchestra/internal/engine"
	"github.com/petrijr/orchestra/pkg/api"
)

// ErrNotFound is returned when no record exists for a uuid.
var ErrNotFound = errors.New("record not found")

// Backend is the key/value storage behind a Store. Records are keyed by
// uuid; Put is an upsert, so saving the same record twice is harmless.
type Backend interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, uuid string) (Record, error)
	// SetState moves an existing record from one state to another. It
	// returns ErrNotFound for a missing record and an error matching
	// api.ErrStateConflict when the stored state is not from. The check and
	// the update are atomic.
	SetState(ctx context.Context, uuid string, from, to api.State) error
	// List returns the records matching filter, ordered by uuid.
	List(ctx context.Context, filter Filter) ([]Record, error)
}

// Filter selects records in Backend.List. Empty fields match everything.
type Filter struct {
	Kind  engine.Kind
	State api.State
}

func stateConflict(uuid string, from, cur api.State) error {
	return fmt.Errorf("%w: %s is %s, not %s", api.ErrStateConflict, uuid, cur, from)
}

func (f Filter) match(rec Record) bool {
	return (f.Kind == "" || rec.Kind == f.Kind) && (f.State == "" || rec.State == f.State)
}

// Store saves and loads task/process graphs through the visitor protocol.
//
// A Store keeps an identity map of the entities it saved or loaded, so all
// callers sharing a Store work on the same instances. Other Stores on the
// same Backend may move those entities too: call Reload before acting on a
// cached graph, and Forget once a graph is finished. State changes are
// compare-and-set, so a stale instance fails with api.ErrStateConflict
// instead of overwriting newer state.
type Store struct {
	backend  Backend
	registry *engine.Registry
	history  History

	mu        sync.Mutex
	env       *engine.Env
	processes map[string]*engine.Process
	tasks     map[string]*engine.Task
}

// Ensure Store can be used as the state sink of an engine.Env.
var (
	_ engine.StatePersister = (*Store)(nil)
	_ engine.StateReader    = (*Store)(nil)
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithHistory records every persisted transition in h.
func WithHistory(h History) StoreOption {
	return func(s *Store) {
		s.history = h
	}
}

// NewStore creates a Store. registry resolves the definitions loaded tasks
// and processes were built from; it may be nil when no definitions are
// needed.
func NewStore(backend Backend, registry *engine.Registry, opts ...StoreOption) *Store {
	s := &Store{
		backend:   backend,
		registry:  registry,
		processes: make(map[string]*engine.Process),
		tasks:     make(map[string]*engine.Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEnv sets the environment bound to loaded entities. It is usually an
// Env whose Persister is this Store.
func (s *Store) SetEnv(env *engine.Env) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = env
}

// History returns the transition history, or nil when none is configured.
func (s *Store) History() History {
	return s.history
}

// Save writes e and every entity it owns. Owned entities are written
// before their owner.
func (s *Store) Save(ctx context.Context, e engine.Entity) error {
	var (
		records []Record
		pending = []engine.Entity{e}
		seen    = map[string]bool{}
	)
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]
		if seen[cur.UUID()] {
			continue
		}
		seen[cur.UUID()] = true

		w := newWriter(cur)
		cur.Accept(w)
		if w.err != nil {
			return fmt.Errorf("save %s %s: %w", cur.Kind(), cur.UUID(), w.err)
		}
		records = append(records, w.rec)
		pending = append(pending, w.owned...)

		s.remember(cur)
	}

	for i := len(records) - 1; i >= 0; i-- {
		if err := s.backend.Put(ctx, records[i]); err != nil {
			return fmt.Errorf("put %s %s: %w", records[i].Kind, records[i].UUID, err)
		}
	}
	return nil
}

func (s *Store) remember(e engine.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := e.(type) {
	case *engine.Process:
		s.processes[v.UUID()] = v
	case *engine.Task:
		s.tasks[v.UUID()] = v
	}
}

// Load returns the task or process stored under uuid.
func (s *Store) Load(ctx context.Context, uuid string) (engine.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.processes[uuid]; ok {
		return p, nil
	}
	if t, ok := s.tasks[uuid]; ok {
		return t, nil
	}
	rec, err := s.backend.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if rec.Kind == engine.KindProcess {
		return s.buildProcess(ctx, rec)
	}
	return s.buildTask(ctx, rec)
}

// LoadProcess returns the process stored under uuid. References inside the
// graph are resolved on first use.
func (s *Store) LoadProcess(ctx context.Context, uuid string) (*engine.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadProcess(ctx, uuid)
}

// LoadTask returns the task stored under uuid.
func (s *Store) LoadTask(ctx context.Context, uuid string) (*engine.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTask(ctx, uuid)
}

// loadProcess and loadTask run with s.mu held.
func (s *Store) loadProcess(ctx context.Context, uuid string) (*engine.Process, error) {
	if p, ok := s.processes[uuid]; ok {
		return p, nil
	}
	rec, err := s.backend.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if rec.Kind != engine.KindProcess {
		return nil, fmt.Errorf("%s is a %s, not a process", uuid, rec.Kind)
	}
	return s.buildProcess(ctx, rec)
}

func (s *Store) loadTask(ctx context.Context, uuid string) (*engine.Task, error) {
	if t, ok := s.tasks[uuid]; ok {
		return t, nil
	}
	rec, err := s.backend.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if rec.Kind == engine.KindProcess {
		return nil, fmt.Errorf("%s is a process, not a task", uuid)
	}
	return s.buildTask(ctx, rec)
}

func (s *Store) buildProcess(ctx context.Context, rec Record) (*engine.Process, error) {
	p := engine.EmptyProcess()
	s.processes[rec.UUID] = p

	r := newReader(s, ctx, rec)
	p.Accept(r)
	if err := r.done(); err != nil {
		delete(s.processes, rec.UUID)
		return nil, fmt.Errorf("load process %s: %w", rec.UUID, err)
	}

	def, err := s.definition(p.DefinitionName())
	if err != nil {
		delete(s.processes, rec.UUID)
		return nil, err
	}
	p.Bind(def, s.env)
	if err := p.Hydrate(rec.State); err != nil {
		delete(s.processes, rec.UUID)
		return nil, fmt.Errorf("load process %s: %w", rec.UUID, err)
	}
	return p, nil
}

func (s *Store) buildTask(ctx context.Context, rec Record) (*engine.Task, error) {
	t := engine.EmptyTask(rec.Kind)
	s.tasks[rec.UUID] = t

	r := newReader(s, ctx, rec)
	t.Accept(r)
	if err := r.done(); err != nil {
		delete(s.tasks, rec.UUID)
		return nil, fmt.Errorf("load task %s: %w", rec.UUID, err)
	}

	def, err := s.definition(t.DefinitionName())
	if err != nil {
		delete(s.tasks, rec.UUID)
		return nil, err
	}
	t.Bind(def, s.env)
	if err := t.Hydrate(rec.State); err != nil {
		delete(s.tasks, rec.UUID)
		return nil, fmt.Errorf("load task %s: %w", rec.UUID, err)
	}
	return t, nil
}

func (s *Store) definition(name string) (*engine.Definition, error) {
	if name == "" || s.registry == nil {
		return nil, nil
	}
	return s.registry.Definition(name)
}

// Reload refreshes the state of e, and of the tasks and nested processes it
// owns, from storage. Owned entities are refreshed first, so a process
// recounts its completed tasks from their stored states. It returns false
// when nothing was ever persisted for e. Persisted states older than the
// in-memory ones are ignored.
func (s *Store) Reload(ctx context.Context, e engine.Entity) (bool, error) {
	if p, ok := e.(*engine.Process); ok {
		for _, t := range p.Tasks() {
			if _, err := s.Reload(ctx, t); err != nil {
				return false, err
			}
		}
	}
	if t, ok := e.(*engine.Task); ok && t.SubProcess() != nil {
		if _, err := s.Reload(ctx, t.SubProcess()); err != nil {
			return false, err
		}
	}

	err := e.Refresh(func() (api.State, error) {
		return s.StoredState(ctx, e.UUID())
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reload %s %s: %w", e.Kind(), e.UUID(), err)
	}
	return true, nil
}

// StoredState returns the persisted state of uuid.
func (s *Store) StoredState(ctx context.Context, uuid string) (api.State, error) {
	rec, err := s.backend.Get(ctx, uuid)
	if err != nil {
		return "", err
	}
	return rec.State, nil
}

// Forget drops p, its tasks and nested processes from the identity map.
// Instances already handed out keep working; the next load reads storage
// again.
func (s *Store) Forget(p *engine.Process) {
	var ids []string
	var walk func(p *engine.Process)
	walk = func(p *engine.Process) {
		ids = append(ids, p.UUID())
		for _, t := range p.Tasks() {
			ids = append(ids, t.UUID())
			if sub := t.SubProcess(); sub != nil {
				walk(sub)
			}
		}
	}
	walk(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.processes, id)
		delete(s.tasks, id)
	}
}

// ListProcesses returns the uuids of stored processes in the given state,
// or in any state when state is empty.
func (s *Store) ListProcesses(ctx context.Context, state api.State) ([]string, error) {
	recs, err := s.backend.List(ctx, Filter{Kind: engine.KindProcess, State: state})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.UUID)
	}
	return out, nil
}

// PersistState records a transition. Tasks and processes call it through
// their Env on every state change.
func (s *Store) PersistState(ctx context.Context, uuid string, from, to api.State) error {
	if err := s.backend.SetState(ctx, uuid, from, to); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.Append(ctx, Transition{UUID: uuid, State: to}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
	}
	return nil
}

func (s *Store) lazyProcess(ctx context.Context) engine.ProcessLoader {
	ctx = context.WithoutCancel(ctx)
	return func(uuid string) (*engine.Process, error) {
		return s.LoadProcess(ctx, uuid)
	}
}

func (s *Store) lazyTask(ctx context.Context) engine.TaskLoader {
	ctx = context.WithoutCancel(ctx)
	return func(uuid string) (*engine.Task, error) {
		return s.LoadTask(ctx, uuid)
	}
}
