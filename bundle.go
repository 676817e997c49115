package orchestra

import (
	"database/sql"

	"github.com/petrijr/orchestra/internal/persistence"
	"github.com/petrijr/orchestra/internal/taskqueue"
)

// NewInMemoryRuntime returns a Runtime that keeps records and queued work
// in memory. Nothing survives the process.
func NewInMemoryRuntime(opts ...RuntimeOption) *Runtime {
	return NewRuntime(persistence.NewInMemoryBackend(), taskqueue.NewInMemoryQueue(1024), opts...)
}

// NewSQLiteRuntime returns a Runtime whose records, queue and transition
// history share the provided SQLite database.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:orchestra.db?_pragma=journal_mode(WAL)")
//	rt, err := orchestra.NewSQLiteRuntime(db)
//	// register definitions on rt, then run rt.NewWorker()
func NewSQLiteRuntime(db *sql.DB, opts ...RuntimeOption) (*Runtime, error) {
	backend, err := persistence.NewSQLiteBackend(db)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	history, err := persistence.NewSQLiteHistory(db)
	if err != nil {
		return nil, err
	}

	// Caller options come last so an explicit WithHistory wins.
	opts = append([]RuntimeOption{WithHistory(history)}, opts...)
	return NewRuntime(backend, q, opts...), nil
}
