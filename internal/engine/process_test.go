package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/orchestra/pkg/api"
)

func TestSequentialStartEnqueuesOnlyFirstTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Sequential)
	first, _ := p.AddStep("foo")
	second, _ := p.AddStep("foo")

	require.NoError(t, p.Start(ctx))

	assert.Equal(t, api.StateProcessing, p.State())
	assert.Equal(t, []string{first.UUID()}, f.queue.taskUUIDs())
	assert.Equal(t, api.StateInitial, second.State())

	next, err := first.Next()
	require.NoError(t, err)
	assert.True(t, next.Equal(second))
}

func TestSequentialNeverSkipsAhead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Sequential)
	a, _ := p.AddJob("TestJob")
	b, _ := p.AddJob("TestJob")
	c, _ := p.AddJob("TestJob")

	require.NoError(t, p.Start(ctx))
	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.Finish(ctx))

	assert.Equal(t, api.StateEnqueued, b.State())
	assert.Equal(t, api.StateInitial, c.State(), "task i+2 must wait for task i+1")
	assert.Equal(t, 2, f.queue.jobCount())

	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Finish(ctx))
	assert.Equal(t, api.StateEnqueued, c.State())

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Finish(ctx))
	assert.True(t, p.Completed())
	assert.Equal(t, 1, f.observer.completedCount())
}

func TestSequentialFailureHalts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Sequential)
	bad, _ := p.AddStep("explode")
	after, _ := p.AddStep("foo")

	require.NoError(t, p.Start(ctx))
	require.NoError(t, bad.Start(ctx))

	assert.True(t, p.Failed())
	assert.Equal(t, api.StateInitial, after.State())
	assert.Len(t, f.queue.taskUUIDs(), 1)
}

func TestConcurrentStartEnqueuesAllTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Concurrent)
	for i := 0; i < 3; i++ {
		_, err := p.AddStep("foo", i)
		require.NoError(t, err)
	}

	require.NoError(t, p.Start(ctx))
	assert.Len(t, f.queue.taskUUIDs(), 3)
	for _, task := range p.Tasks() {
		next, err := task.Next()
		require.NoError(t, err)
		assert.Nil(t, next, "concurrent tasks are not chained")
	}
}

func TestConcurrentCompletesExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Concurrent)

	const n = 32
	for i := 0; i < n; i++ {
		_, err := p.AddJob("TestJob", i)
		require.NoError(t, err)
	}
	require.NoError(t, p.Start(ctx))

	var wg sync.WaitGroup
	for _, task := range p.Tasks() {
		wg.Add(1)
		go func(task *Task) {
			defer wg.Done()
			assert.NoError(t, task.Start(ctx))
			assert.NoError(t, task.Finish(ctx))
		}(task)
	}
	wg.Wait()

	assert.True(t, p.Completed())
	assert.Equal(t, 1, f.observer.completedCount())
	assert.Equal(t, []api.State{api.StateProcessing, api.StateCompleted}, f.persist.history(p.UUID()))
}

func TestConcurrentCountsSiblingsCompletedElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Concurrent)
	mine, _ := p.AddJob("TestJob")
	theirs, _ := p.AddJob("TestJob")

	require.NoError(t, p.Start(ctx))
	require.NoError(t, mine.Start(ctx))

	// Another worker, with its own copy of the graph, finished theirs.
	f.persist.store(theirs.UUID(), api.StateCompleted)

	require.NoError(t, mine.Finish(ctx))
	assert.True(t, p.Completed())
	assert.True(t, theirs.Completed(), "the stored outcome is taken over")
	assert.Equal(t, 1, f.observer.completedCount())
}

func TestProcessCompletedElsewhereIsNotCompletedAgain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Concurrent)
	a, _ := p.AddJob("TestJob")

	require.NoError(t, p.Start(ctx))
	require.NoError(t, a.Start(ctx))
	f.persist.store(p.UUID(), api.StateCompleted)

	require.NoError(t, a.Finish(ctx))
	assert.True(t, a.Completed())
	assert.Equal(t, 0, f.observer.completedCount(), "the other worker reported the completion")
}

func TestConcurrentFailureIsRecordedNotReversed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Concurrent)
	ok1, _ := p.AddJob("TestJob")
	bad, _ := p.AddJob("TestJob")
	ok2, _ := p.AddJob("TestJob")

	require.NoError(t, p.Start(ctx))
	for _, task := range []*Task{ok1, bad, ok2} {
		require.NoError(t, task.Start(ctx))
	}

	require.NoError(t, ok1.Finish(ctx))
	require.NoError(t, bad.Fail(ctx, errBoom))
	require.NoError(t, ok2.Finish(ctx))

	assert.True(t, p.Failed())
	assert.True(t, ok1.Completed())
	assert.True(t, ok2.Completed(), "siblings still record their own outcome")
	assert.Len(t, f.observer.processFailures, 1)
	assert.Equal(t, 0, f.observer.completedCount())
}

func TestEmptyProcessCompletesOnStart(t *testing.T) {
	f := newFixture(t)
	for _, c := range []Composition{Sequential, Concurrent} {
		p := f.process(c)
		require.NoError(t, p.Start(context.Background()))
		assert.True(t, p.Completed(), "composition %s", c)
	}
}

func TestAddTaskAfterStartIsSealed(t *testing.T) {
	f := newFixture(t)
	p := f.process(Sequential)
	_, _ = p.AddStep("foo")
	require.NoError(t, p.Start(context.Background()))

	_, err := p.AddStep("foo")
	assert.ErrorIs(t, err, ErrProcessSealed)
}

func TestProcessEnqueuePushesProcessRequest(t *testing.T) {
	f := newFixture(t)
	p := NewProcess(f.def, Sequential, f.env, Options{OptionQueue: "bulk"})

	require.NoError(t, p.Enqueue(context.Background()))
	assert.Equal(t, api.StateEnqueued, p.State())
	require.Len(t, f.queue.processes, 1)
	assert.Equal(t, api.ProcessRequest{ProcessUUID: p.UUID(), Queue: "bulk"}, f.queue.processes[0])

	assert.ErrorIs(t, p.Enqueue(context.Background()), api.ErrInvalidTransition)
}

func TestPauseHoldsNextTaskAndResumeRedrives(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Sequential)
	a, _ := p.AddJob("TestJob")
	b, _ := p.AddJob("TestJob")

	require.NoError(t, p.Start(ctx))
	require.NoError(t, a.Start(ctx))
	require.NoError(t, p.Pause(ctx))

	// The running job may finish, but nothing new is enqueued.
	require.NoError(t, a.Finish(ctx))
	assert.True(t, a.Completed())
	assert.Equal(t, api.StateInitial, b.State())
	assert.True(t, b.Paused())

	require.NoError(t, p.Resume(ctx))
	assert.Equal(t, api.StateProcessing, p.State())
	assert.Equal(t, api.StateEnqueued, b.State())

	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Finish(ctx))
	assert.True(t, p.Completed())
}

func TestResumeRequeuesEnqueuedTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Concurrent)
	a, _ := p.AddStep("foo")
	_, _ = p.AddStep("foo")

	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Pause(ctx))
	require.NoError(t, a.Start(ctx))

	require.NoError(t, p.Resume(ctx))
	// a finished while paused; only the other task is pushed again.
	require.Len(t, f.queue.tasks, 3)
	assert.False(t, f.queue.tasks[0].Redrive)
	assert.True(t, f.queue.tasks[2].Redrive, "resume marks re-issued items")
}

func TestRefreshRecountsAndIgnoresOlderStates(t *testing.T) {
	f := newFixture(t)
	p := f.process(Concurrent)
	a, _ := p.AddJob("TestJob")
	_, _ = p.AddJob("TestJob")
	require.NoError(t, p.Hydrate(api.StatePaused))

	stored := func(s api.State) func() (api.State, error) {
		return func() (api.State, error) { return s, nil }
	}
	require.NoError(t, a.Refresh(stored(api.StateCompleted)))
	require.NoError(t, p.Refresh(stored(api.StateProcessing)))
	assert.Equal(t, api.StateProcessing, p.State(), "resumed elsewhere")

	require.NoError(t, p.Refresh(stored(api.StateEnqueued)))
	assert.Equal(t, api.StateProcessing, p.State())

	p.mu.Lock()
	done := len(p.done)
	p.mu.Unlock()
	assert.Equal(t, 1, done)
}

func TestResumeCompletesWhenEverythingFinishedWhilePaused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Concurrent)
	a, _ := p.AddJob("TestJob")

	require.NoError(t, p.Start(ctx))
	require.NoError(t, a.Start(ctx))
	require.NoError(t, p.Pause(ctx))
	require.NoError(t, a.Finish(ctx))
	assert.Equal(t, api.StatePaused, p.State())

	require.NoError(t, p.Resume(ctx))
	assert.True(t, p.Completed())
}

func TestCancelStopsNewEnqueues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Sequential)
	a, _ := p.AddJob("TestJob")
	b, _ := p.AddJob("TestJob")

	require.NoError(t, p.Start(ctx))
	require.NoError(t, a.Start(ctx))
	require.NoError(t, p.Cancel(ctx))
	require.NoError(t, a.Finish(ctx))

	assert.Equal(t, api.StateCancelled, p.State())
	assert.Equal(t, api.StateInitial, b.State())
	assert.True(t, b.Cancelled())
	assert.ErrorIs(t, p.Resume(ctx), api.ErrInvalidTransition)
	assert.ErrorIs(t, p.Pause(ctx), api.ErrInvalidTransition)
}

func TestPauseOnParentHoldsSubProcessWork(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := f.process(Sequential)
	subTask, _ := root.AddSubProcess(Sequential, nil)
	sub := subTask.SubProcess()
	a, _ := sub.AddJob("TestJob")
	b, _ := sub.AddJob("TestJob")

	require.NoError(t, root.Start(ctx))
	require.NoError(t, subTask.Start(ctx))
	require.NoError(t, a.Start(ctx))
	require.NoError(t, root.Pause(ctx))

	assert.True(t, sub.Paused())
	assert.True(t, b.Paused())
	require.NoError(t, a.Finish(ctx))
	assert.Equal(t, api.StateInitial, b.State())

	require.NoError(t, root.Resume(ctx))
	assert.Equal(t, api.StateEnqueued, b.State())

	require.NoError(t, b.Start(ctx))
	require.NoError(t, b.Finish(ctx))
	assert.True(t, sub.Completed())
	assert.True(t, subTask.Completed())
	assert.True(t, root.Completed())
	assert.Equal(t, root.UUID(), b.RootKey())
}

func TestSubProcessFailurePropagates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	root := f.process(Sequential)
	subTask, _ := root.AddSubProcess(Concurrent, nil)
	bad, _ := subTask.SubProcess().AddStep("explode")
	after, _ := root.AddStep("foo")

	require.NoError(t, root.Start(ctx))
	require.NoError(t, subTask.Start(ctx))
	require.NoError(t, bad.Start(ctx))

	assert.True(t, subTask.SubProcess().Failed())
	assert.True(t, subTask.Failed())
	assert.True(t, root.Failed())
	assert.Equal(t, api.StateInitial, after.State())
	require.Len(t, f.observer.processFailures, 2)
	assert.ErrorIs(t, f.observer.processFailures[1], errBoom)
}

func TestHydrateRecountsCompletedTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.process(Concurrent)
	a, _ := p.AddJob("TestJob")
	b, _ := p.AddJob("TestJob")

	require.NoError(t, a.Hydrate(api.StateCompleted))
	require.NoError(t, b.Hydrate(api.StateProcessing))
	require.NoError(t, p.Hydrate(api.StateProcessing))

	require.NoError(t, b.Finish(ctx))
	assert.True(t, p.Completed())
	assert.Error(t, p.Hydrate(api.StateInitial))
}
