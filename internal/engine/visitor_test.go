package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(e interface{ Accept(Visitor) }) []Field {
	var r Recorder
	e.Accept(&r)
	return r.Fields
}

func TestAcceptEmitsFieldsInStorageOrder(t *testing.T) {
	base := []Field{
		{FieldAttribute, "uuid"},
		{FieldProcessReference, "process"},
		{FieldTaskReference, "next"},
		{FieldArgs, "options"},
	}

	cases := []struct {
		name string
		task *Task
		want []Field
	}{
		{
			name: "base",
			task: NewTask(nil),
			want: base,
		},
		{
			name: "step",
			task: NewStepTask("foo", []any{1, 2}, nil),
			want: append(append([]Field{{FieldType, "definition"}}, base...),
				Field{FieldAttribute, "method"},
				Field{FieldArgs, "args"},
			),
		},
		{
			name: "job",
			task: NewJobTask("TestJob", nil, nil),
			want: append(append([]Field{}, base...),
				Field{FieldType, "definition"},
				Field{FieldType, "job"},
				Field{FieldArgs, "args"},
			),
		},
		{
			name: "sub_process",
			task: NewSubProcessTask(NewProcess(nil, Sequential, nil, nil), nil),
			want: append(append([]Field{}, base...),
				Field{FieldProcess, "sub_process"},
			),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, fields(tc.task))
		})
	}

	t.Run("process", func(t *testing.T) {
		assert.Equal(t, []Field{
			{FieldType, "definition"},
			{FieldAttribute, "uuid"},
			{FieldTaskReference, "parent"},
			{FieldAttribute, "composition"},
			{FieldArgs, "options"},
			{FieldTasks, "tasks"},
		}, fields(NewProcess(nil, Concurrent, nil, nil)))
	})
}

// snapshot is a storage-free rendering of what a writer sees.
type snapshot struct {
	kind   Kind
	values map[string]any
}

type snapshotWriter struct {
	s snapshot
}

func takeSnapshot(kind Kind, e interface{ Accept(Visitor) }) snapshot {
	w := &snapshotWriter{s: snapshot{kind: kind, values: map[string]any{}}}
	e.Accept(w)
	return w.s
}

func (w *snapshotWriter) VisitType(name string, v *string)      { w.s.values[name] = *v }
func (w *snapshotWriter) VisitAttribute(name string, v *string) { w.s.values[name] = *v }

func (w *snapshotWriter) VisitArgs(name string, v any) {
	switch val := v.(type) {
	case *Options:
		cp := Options{}
		for k, x := range *val {
			cp[k] = x
		}
		w.s.values[name] = cp
	case *[]any:
		w.s.values[name] = append([]any(nil), (*val)...)
	}
}

func (w *snapshotWriter) VisitProcessReference(name string, ref *ProcessRef) {
	w.s.values[name] = ref.UUID()
}

func (w *snapshotWriter) VisitTaskReference(name string, ref *TaskRef) {
	w.s.values[name] = ref.UUID()
}

func (w *snapshotWriter) VisitProcess(name string, p **Process) {
	w.s.values[name] = takeSnapshot(KindProcess, *p)
}

func (w *snapshotWriter) VisitTasks(name string, tasks *[]*Task) {
	out := make([]snapshot, 0, len(*tasks))
	for _, t := range *tasks {
		out = append(out, takeSnapshot(t.Kind(), t))
	}
	w.s.values[name] = out
}

type snapshotReader struct {
	s snapshot
}

func restoreTask(s snapshot) *Task {
	t := EmptyTask(s.kind)
	t.Accept(&snapshotReader{s: s})
	return t
}

func restoreProcess(s snapshot) *Process {
	p := EmptyProcess()
	p.Accept(&snapshotReader{s: s})
	return p
}

func (r *snapshotReader) VisitType(name string, v *string)      { *v = r.s.values[name].(string) }
func (r *snapshotReader) VisitAttribute(name string, v *string) { *v = r.s.values[name].(string) }

func (r *snapshotReader) VisitArgs(name string, v any) {
	switch val := v.(type) {
	case *Options:
		*val = r.s.values[name].(Options)
	case *[]any:
		*val = r.s.values[name].([]any)
	}
}

func (r *snapshotReader) VisitProcessReference(name string, ref *ProcessRef) {
	ref.SetLazy(r.s.values[name].(string), func(string) (*Process, error) { return nil, nil })
}

func (r *snapshotReader) VisitTaskReference(name string, ref *TaskRef) {
	ref.SetLazy(r.s.values[name].(string), func(string) (*Task, error) { return nil, nil })
}

func (r *snapshotReader) VisitProcess(name string, p **Process) {
	*p = restoreProcess(r.s.values[name].(snapshot))
}

func (r *snapshotReader) VisitTasks(name string, tasks *[]*Task) {
	for _, s := range r.s.values[name].([]snapshot) {
		*tasks = append(*tasks, restoreTask(s))
	}
}

func TestAcceptRoundTripsThroughWriterAndReader(t *testing.T) {
	def, _ := testDefinition(t)
	root := NewProcess(def, Sequential, nil, Options{"queue": "default"})

	step := NewStepTask("foo", []any{1, "two"}, Options{"queue": "fast"})
	require.NoError(t, root.AddTask(step))
	job, err := root.AddJob("TestJob", 3)
	require.NoError(t, err)
	subTask, err := root.AddSubProcess(Concurrent, nil)
	require.NoError(t, err)
	inner, err := subTask.SubProcess().AddStep("foo", 4)
	require.NoError(t, err)

	restored := restoreProcess(takeSnapshot(KindProcess, root))

	assert.Equal(t, root.UUID(), restored.UUID())
	assert.Equal(t, "test", restored.DefinitionName())
	assert.Equal(t, Sequential, restored.Composition())
	assert.Equal(t, root.Options(), restored.Options())

	tasks := restored.Tasks()
	require.Len(t, tasks, 3)

	assert.True(t, tasks[0].Equal(step))
	assert.Equal(t, KindStep, tasks[0].Kind())
	assert.Equal(t, "foo", tasks[0].Method())
	assert.Equal(t, []any{1, "two"}, tasks[0].Args())
	assert.Equal(t, "fast", tasks[0].QueueName())
	assert.Equal(t, "test", tasks[0].DefinitionName())
	assert.Equal(t, root.UUID(), tasks[0].ProcessUUID())
	assert.Equal(t, job.UUID(), tasks[0].next.UUID())

	assert.True(t, tasks[1].Equal(job))
	assert.Equal(t, "TestJob", tasks[1].JobName())
	assert.Equal(t, []any{3}, tasks[1].Args())
	assert.Equal(t, subTask.UUID(), tasks[1].next.UUID())

	assert.True(t, tasks[2].Equal(subTask))
	sub := tasks[2].SubProcess()
	require.NotNil(t, sub)
	assert.Equal(t, subTask.SubProcess().UUID(), sub.UUID())
	assert.Equal(t, Concurrent, sub.Composition())
	assert.Equal(t, subTask.UUID(), sub.parent.UUID())
	require.Len(t, sub.Tasks(), 1)
	assert.True(t, sub.Tasks()[0].Equal(inner))
	assert.Equal(t, []any{4}, sub.Tasks()[0].Args())

	// A second pass over the restored graph emits the same field sequence.
	assert.Equal(t, fields(root), fields(restored))
	assert.Equal(t, fields(step), fields(tasks[0]))
}

func TestProcessRefResolvesLazilyOnce(t *testing.T) {
	p := NewProcess(nil, Sequential, nil, nil)

	loads := 0
	var ref ProcessRef
	ref.SetLazy(p.UUID(), func(id string) (*Process, error) {
		loads++
		assert.Equal(t, p.UUID(), id)
		return p, nil
	})
	assert.Equal(t, 0, loads, "setting a reference must not load it")

	for i := 0; i < 3; i++ {
		got, err := ref.Resolve()
		require.NoError(t, err)
		assert.Same(t, p, got)
	}
	assert.Equal(t, 1, loads)

	var empty TaskRef
	got, err := empty.Resolve()
	require.NoError(t, err)
	assert.Nil(t, got)
}
