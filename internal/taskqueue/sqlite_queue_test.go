package taskqueue

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	// Every connection to ":memory:" opens its own database.
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = db.Close()
	})

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	return q
}

func TestSQLiteQueue_FIFO(t *testing.T) {
	q := newTestSQLiteQueue(t)
	exerciseFIFO(t, q)
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestSQLiteQueue_DequeueRespectsContext(t *testing.T) {
	exerciseDequeueCancel(t, newTestSQLiteQueue(t))
}

func TestSQLiteQueue_LenByType(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx := context.Background()

	for _, it := range []Item{
		{ID: "1", Type: ItemTask, UUID: "a"},
		{ID: "2", Type: ItemJob, UUID: "b"},
		{ID: "3", Type: ItemTask, UUID: "c"},
	} {
		if err := q.Enqueue(ctx, it); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	n, err := q.LenByType(ctx, ItemTask)
	if err != nil {
		t.Fatalf("LenByType failed: %v", err)
	}
	if n != 2 || q.Len() != 3 {
		t.Fatalf("expected 2 task items of 3, got %d of %d", n, q.Len())
	}
}

func TestSQLiteQueue_SurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/queue.db"
	ctx := context.Background()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, Item{ID: "1", Type: ItemProcess, UUID: "p1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	_ = db.Close()

	db, err = sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q, err = NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	it, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if it.UUID != "p1" {
		t.Fatalf("expected p1 after reopen, got %s", it.UUID)
	}
}
