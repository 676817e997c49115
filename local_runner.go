package orchestra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/orchestra/pkg/worker"
)

// LocalRunner bundles an in-memory Runtime and a Worker to provide a simple
// "local runner" for development and debugging.
//
// Typical usage:
//
//	runner := orchestra.NewLocalRunner()
//	orchestra.Define("my-flow").Method(...).Steps(...).MustRegister(runner.Runtime)
//
//	_ = runner.StartWorkers(ctx, 2)
//	p, _ := runner.Start(ctx, "my-flow", input)
//	_ = runner.Wait(ctx, p)
//	runner.Stop()
type LocalRunner struct {
	// Runtime is the in-memory runtime processes are created in.
	Runtime *Runtime

	// Worker processes items from the runtime queue.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory runtime
// and a Worker with default options.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner(opts ...RuntimeOption) *LocalRunner {
	rt := NewInMemoryRuntime(opts...)
	return &LocalRunner{
		Runtime: rt,
		Worker:  rt.NewWorker(),
	}
}

// StartWorkers starts 'concurrency' worker loops that run until Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("orchestra: LocalRunner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Worker.Run(ctx, concurrency); err != nil {
			slog.Error("orchestra: local runner stopped", "error", err)
		}
	}()
	return nil
}

// Stop cancels the worker loops started by StartWorkers and waits for them
// to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Start creates a process of the named definition and enqueues it.
func (r *LocalRunner) Start(ctx context.Context, name string, args ...any) (*Process, error) {
	return r.Runtime.Start(ctx, name, args...)
}

// Wait blocks until p completes, fails or is cancelled, or ctx ends. It
// returns an error unless p completed.
func (r *LocalRunner) Wait(ctx context.Context, p *Process) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		switch p.State() {
		case StateCompleted:
			return nil
		case StateFailed, StateCancelled:
			return fmt.Errorf("process %s %s", p.UUID(), p.State())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
