// Package orchestra runs multi-step units of work, called processes, as
// graphs of tasks driven through a work queue and persisted between steps.
//
// # Core Concepts
//
//  1. Definition: the methods and jobs tasks can invoke, and how a new
//     process graph is built.
//  2. Process: an ordered set of tasks, run either sequentially (one task
//     after another) or concurrently (all at once, completing when all
//     tasks completed).
//  3. Task: a step (a method call), a job (a background job submission),
//     or a sub-process (a nested process).
//  4. Runtime: definitions, a Store over a storage backend, and a queue.
//  5. Worker: pulls queued items and starts the tasks they reference.
//
// # State machines
//
// Tasks move initial → enqueued → processing → completed or failed, and
// never backwards. Processes add paused and cancelled. A paused process
// holds back new work until it is resumed; a cancelled one never issues
// work again. Tasks ask their process whether it is paused or cancelled.
//
// A failing task fails its process, and a failing sub-process fails the
// task that carries it, up to the root. In a concurrent process the first
// failure wins; completions of siblings already running are recorded but
// never reversed.
//
// # Persistence
//
// Every transition is written through the runtime Store. Tasks and processes
// describe their fields to a visitor; the same call sequence writes a record
// and reads it back, so a process saved by one program can be loaded and
// continued by another. References to owning processes and following tasks
// load lazily.
//
// Records can live in memory, SQLite, PostgreSQL, Redis or MongoDB; work
// can be queued in memory, SQLite, PostgreSQL, Redis, MongoDB or Kafka.
//
// # Example
//
//	rt := orchestra.NewInMemoryRuntime()
//	orchestra.Define("Greeting").
//	    Method("hello", hello).
//	    Method("bye", bye).
//	    Steps("hello", "bye").
//	    MustRegister(rt)
//
//	p, err := rt.Start(ctx, "Greeting", "Gopher")
//	...
//	go rt.NewWorker().Run(ctx, 4)
//
// LocalRunner wraps the same pieces for tests and development.
package orchestra
