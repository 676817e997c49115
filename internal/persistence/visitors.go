package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/orchestra/internal/engine"
)

// writer turns the fields an entity emits into a Record. A nested process
// is embedded whole; process tasks are kept by uuid. Owned entities are
// collected for the Store to save next, nested processes included, so
// their state can be updated by uuid.
type writer struct {
	rec   Record
	owned []engine.Entity
	err   error
}

var _ engine.Visitor = (*writer)(nil)

func newWriter(e engine.Entity) *writer {
	return &writer{rec: Record{UUID: e.UUID(), Kind: e.Kind(), State: e.State()}}
}

func (w *writer) add(kind engine.FieldKind, name string, value []byte) {
	w.rec.Fields = append(w.rec.Fields, Field{Kind: kind, Name: name, Value: value})
}

func (w *writer) VisitType(name string, value *string) {
	w.add(engine.FieldType, name, []byte(*value))
}

func (w *writer) VisitAttribute(name string, value *string) {
	w.add(engine.FieldAttribute, name, []byte(*value))
}

func (w *writer) VisitArgs(name string, value any) {
	var (
		data []byte
		err  error
	)
	switch v := value.(type) {
	case *engine.Options:
		if len(*v) > 0 {
			data, err = EncodeValue(*v)
		}
	case *[]any:
		if len(*v) > 0 {
			data, err = EncodeValue(*v)
		}
	default:
		err = fmt.Errorf("unsupported args field %q of type %T", name, value)
	}
	if err != nil && w.err == nil {
		w.err = fmt.Errorf("encode %s: %w", name, err)
	}
	w.add(engine.FieldArgs, name, data)
}

func (w *writer) VisitProcessReference(name string, ref *engine.ProcessRef) {
	w.add(engine.FieldProcessReference, name, []byte(ref.UUID()))
}

func (w *writer) VisitTaskReference(name string, ref *engine.TaskRef) {
	w.add(engine.FieldTaskReference, name, []byte(ref.UUID()))
}

func (w *writer) VisitProcess(name string, p **engine.Process) {
	if *p == nil {
		w.add(engine.FieldProcess, name, nil)
		return
	}
	sub := newWriter(*p)
	(*p).Accept(sub)
	data, err := encodeRecord(sub.rec)
	if err == nil {
		err = sub.err
	}
	if err != nil && w.err == nil {
		w.err = fmt.Errorf("embed %s: %w", name, err)
	}
	w.owned = append(w.owned, *p)
	w.add(engine.FieldProcess, name, data)
}

func (w *writer) VisitTasks(name string, tasks *[]*engine.Task) {
	ids := make([]string, 0, len(*tasks))
	for _, t := range *tasks {
		ids = append(ids, t.UUID())
		w.owned = append(w.owned, t)
	}
	data, err := EncodeValue(ids)
	if err != nil && w.err == nil {
		w.err = fmt.Errorf("encode %s: %w", name, err)
	}
	w.add(engine.FieldTasks, name, data)
}

// reader replays a Record into an empty entity. It consumes fields in the
// order the entity asks for them and fails on any mismatch. References are
// bound lazily; owned entities are loaded right away. The Store's lock is
// held for the whole replay.
type reader struct {
	s   *Store
	ctx context.Context
	rec Record
	pos int
	err error
}

var _ engine.Visitor = (*reader)(nil)

func newReader(s *Store, ctx context.Context, rec Record) *reader {
	return &reader{s: s, ctx: ctx, rec: rec}
}

func (r *reader) take(kind engine.FieldKind, name string) ([]byte, bool) {
	if r.err != nil {
		return nil, false
	}
	if r.pos >= len(r.rec.Fields) {
		r.err = fmt.Errorf("%w: missing %s %q", ErrFieldMismatch, kind, name)
		return nil, false
	}
	f := r.rec.Fields[r.pos]
	r.pos++
	if f.Kind != kind || f.Name != name {
		r.err = fmt.Errorf("%w: want %s %q, found %s %q", ErrFieldMismatch, kind, name, f.Kind, f.Name)
		return nil, false
	}
	return f.Value, true
}

func (r *reader) done() error {
	if r.err == nil && r.pos != len(r.rec.Fields) {
		return fmt.Errorf("%w: %d unread fields", ErrFieldMismatch, len(r.rec.Fields)-r.pos)
	}
	return r.err
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) VisitType(name string, value *string) {
	if data, ok := r.take(engine.FieldType, name); ok {
		*value = string(data)
	}
}

func (r *reader) VisitAttribute(name string, value *string) {
	if data, ok := r.take(engine.FieldAttribute, name); ok {
		*value = string(data)
	}
}

func (r *reader) VisitArgs(name string, value any) {
	data, ok := r.take(engine.FieldArgs, name)
	if !ok || len(data) == 0 {
		return
	}
	switch v := value.(type) {
	case *engine.Options:
		opts, err := DecodeValue[engine.Options](data)
		if err != nil {
			r.fail(fmt.Errorf("decode %s: %w", name, err))
			return
		}
		*v = opts
	case *[]any:
		args, err := DecodeValue[[]any](data)
		if err != nil {
			r.fail(fmt.Errorf("decode %s: %w", name, err))
			return
		}
		*v = args
	default:
		r.fail(fmt.Errorf("unsupported args field %q of type %T", name, value))
	}
}

func (r *reader) VisitProcessReference(name string, ref *engine.ProcessRef) {
	if data, ok := r.take(engine.FieldProcessReference, name); ok {
		ref.SetLazy(string(data), r.s.lazyProcess(r.ctx))
	}
}

func (r *reader) VisitTaskReference(name string, ref *engine.TaskRef) {
	if data, ok := r.take(engine.FieldTaskReference, name); ok {
		ref.SetLazy(string(data), r.s.lazyTask(r.ctx))
	}
}

func (r *reader) VisitProcess(name string, p **engine.Process) {
	data, ok := r.take(engine.FieldProcess, name)
	if !ok || len(data) == 0 {
		return
	}
	rec, err := decodeRecord(data)
	if err != nil {
		r.fail(fmt.Errorf("decode %s: %w", name, err))
		return
	}
	if cached, ok := r.s.processes[rec.UUID]; ok {
		*p = cached
		return
	}

	// The embedded copy holds the state at save time; transitions since
	// then are on the process's own record.
	state, err := r.s.StoredState(r.ctx, rec.UUID)
	switch {
	case err == nil:
		rec.State = state
	case !errors.Is(err, ErrNotFound):
		r.fail(fmt.Errorf("load %s state: %w", name, err))
		return
	}
	sub, err := r.s.buildProcess(r.ctx, rec)
	if err != nil {
		r.fail(fmt.Errorf("load %s: %w", name, err))
		return
	}
	*p = sub
}

func (r *reader) VisitTasks(name string, tasks *[]*engine.Task) {
	data, ok := r.take(engine.FieldTasks, name)
	if !ok {
		return
	}
	ids, err := DecodeValue[[]string](data)
	if err != nil {
		r.fail(fmt.Errorf("decode %s: %w", name, err))
		return
	}
	out := make([]*engine.Task, 0, len(ids))
	for _, id := range ids {
		t, err := r.s.loadTask(r.ctx, id)
		if err != nil {
			r.fail(fmt.Errorf("load task %s: %w", id, err))
			return
		}
		out = append(out, t)
	}
	*tasks = out
}
