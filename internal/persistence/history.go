package persistence

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/petrijr/orchestra/pkg/api"
)

// Transition is one persisted state change of a task or process.
type Transition struct {
	UUID  string
	State api.State
	At    time.Time
}

// History is an append-only log of transitions.
type History interface {
	Append(ctx context.Context, tr Transition) error
	List(ctx context.Context, uuid string) ([]Transition, error)
}

// MemoryHistory keeps transitions in memory.
type MemoryHistory struct {
	mu     sync.RWMutex
	byUUID map[string][]Transition
}

var _ History = (*MemoryHistory)(nil)

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{byUUID: make(map[string][]Transition)}
}

func (h *MemoryHistory) Append(_ context.Context, tr Transition) error {
	if tr.At.IsZero() {
		tr.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byUUID[tr.UUID] = append(h.byUUID[tr.UUID], tr)
	return nil
}

func (h *MemoryHistory) List(_ context.Context, uuid string) ([]Transition, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Transition(nil), h.byUUID[uuid]...), nil
}

// SQLiteHistory stores transitions in SQLite.
type SQLiteHistory struct {
	db *sql.DB
}

var _ History = (*SQLiteHistory)(nil)

func NewSQLiteHistory(db *sql.DB) (*SQLiteHistory, error) {
	h := &SQLiteHistory{db: db}
	if err := h.initSchema(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *SQLiteHistory) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL,
			state TEXT NOT NULL,
			at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transitions_uuid ON transitions(uuid, id);
	`)
	return err
}

func (h *SQLiteHistory) Append(ctx context.Context, tr Transition) error {
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO transitions (uuid, state, at) VALUES (?, ?, ?)`,
		tr.UUID, string(tr.State), at.UnixNano(),
	)
	return err
}

func (h *SQLiteHistory) List(ctx context.Context, uuid string) ([]Transition, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT uuid, state, at
		FROM transitions
		WHERE uuid = ?
		ORDER BY id ASC`, uuid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			id    string
			state string
			atN   int64
		)
		if err := rows.Scan(&id, &state, &atN); err != nil {
			return nil, err
		}
		out = append(out, Transition{UUID: id, State: api.State(state), At: time.Unix(0, atN)})
	}
	return out, rows.Err()
}
