package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresQueue implements Queue using a PostgreSQL table.
//
// Schema (created automatically if missing):
//
//	CREATE TABLE IF NOT EXISTS queue_items (
//	    seq         BIGSERIAL PRIMARY KEY,
//	    id          TEXT NOT NULL,
//	    type        TEXT NOT NULL,
//	    uuid        TEXT NOT NULL,
//	    payload     BYTEA NOT NULL,
//	    enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// Concurrent workers claim rows with FOR UPDATE SKIP LOCKED, so each item
// is handed to one worker.
type PostgresQueue struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
}

// NewPostgresQueue creates the required schema if needed and returns a Queue.
func NewPostgresQueue(ctx context.Context, pool *pgxpool.Pool) (*PostgresQueue, error) {
	q := &PostgresQueue{pool: pool, pollInterval: 100 * time.Millisecond}
	if err := q.initSchema(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Ensure PostgresQueue implements Queue.
var _ Queue = (*PostgresQueue)(nil)

func (q *PostgresQueue) initSchema(ctx context.Context) error {
	_, err := q.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS queue_items (
			seq         BIGSERIAL PRIMARY KEY,
			id          TEXT NOT NULL,
			type        TEXT NOT NULL,
			uuid        TEXT NOT NULL,
			payload     BYTEA NOT NULL,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	return err
}

// Enqueue inserts an item into the queue.
func (q *PostgresQueue) Enqueue(ctx context.Context, it Item) error {
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = time.Now().UTC()
	}
	data, err := EncodeItem(it)
	if err != nil {
		return err
	}

	_, err = q.pool.Exec(ctx, `
		INSERT INTO queue_items (id, type, uuid, payload, enqueued_at)
		VALUES ($1, $2, $3, $4, $5)
	`, it.ID, string(it.Type), it.UUID, data, it.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("enqueue item %s: %w", it.ID, err)
	}
	return nil
}

// Dequeue blocks (with polling) until an item is available or ctx is cancelled.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*Item, error) {
	// Use a reusable timer to avoid allocating a new timer on every idle poll.
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	defer tmr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		payload, err := q.claim(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			tmr.Reset(q.pollInterval)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-tmr.C:
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		return DecodeItem(payload)
	}
}

func (q *PostgresQueue) claim(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := pgx.BeginFunc(ctx, q.pool, func(tx pgx.Tx) error {
		var seq int64
		// Lock a single oldest row, if any.
		if err := tx.QueryRow(ctx, `
			SELECT seq, payload
			FROM queue_items
			ORDER BY seq
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		`).Scan(&seq, &payload); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM queue_items WHERE seq = $1`, seq)
		return err
	})
	return payload, err
}

// Len returns an approximate number of queued items.
func (q *PostgresQueue) Len() int {
	var n int
	if err := q.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM queue_items`).Scan(&n); err != nil {
		slog.Warn("postgres queue: len failed", "error", err)
		return 0
	}
	return n
}
