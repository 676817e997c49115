package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SQLiteQueue is a persistent queue backed by SQLite. FIFO order follows an
// auto-incrementing id; a claimed row is deleted in the same transaction.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the queue table in the given DB and returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id TEXT NOT NULL,
			type TEXT NOT NULL,
			uuid TEXT NOT NULL,
			payload BLOB NOT NULL,
			enqueued_at INTEGER NOT NULL
		);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, it Item) error {
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = time.Now()
	}
	payload, err := EncodeItem(it)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO queue_items (item_id, type, uuid, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?)`,
		it.ID,
		string(it.Type),
		it.UUID,
		payload,
		it.EnqueuedAt.UnixNano(),
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Item, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		payload, err := q.claim(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			// Nothing available: sleep a bit and retry.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(q.pollInterval):
				continue
			}
		}
		if err != nil {
			return nil, err
		}
		return DecodeItem(payload)
	}
}

func (q *SQLiteQueue) claim(ctx context.Context) ([]byte, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id      int64
		payload []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, payload
		FROM queue_items
		ORDER BY id
		LIMIT 1`).Scan(&id, &payload)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("claim queue item %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return payload, nil
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM queue_items`).Scan(&n); err != nil {
		slog.Warn("sqlite queue: len failed", "error", err)
		return 0
	}
	return n
}

// LenByType counts queued items of one type.
func (q *SQLiteQueue) LenByType(ctx context.Context, typ ItemType) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_items WHERE type = ?`, string(typ)).Scan(&n)
	return n, err
}
