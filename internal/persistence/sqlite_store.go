package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/petrijr/orchestra/internal/engine"
	"github.com/petrijr/orchestra/pkg/api"
)

// SQLiteBackend is a Backend backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteBackend struct {
	db *sql.DB
}

// Ensure SQLiteBackend implements Backend.
var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend initializes the required schema in the given
// database and returns a new SQLiteBackend.
func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			uuid TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			fields BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_records_kind_state ON records(kind, state);`,
	)
	return err
}

func (b *SQLiteBackend) Put(ctx context.Context, rec Record) error {
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO records (uuid, kind, state, fields)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			kind = excluded.kind,
			state = excluded.state,
			fields = excluded.fields`,
		rec.UUID,
		string(rec.Kind),
		string(rec.State),
		fields,
	)
	return err
}

func (b *SQLiteBackend) Get(ctx context.Context, uuid string) (Record, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT uuid, kind, state, fields
		FROM records
		WHERE uuid = ?`,
		uuid,
	)
	return scanRecord(row)
}

func (b *SQLiteBackend) SetState(ctx context.Context, uuid string, from, to api.State) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE records SET state = ? WHERE uuid = ? AND state = ?`,
		string(to), uuid, string(from),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		row := b.db.QueryRowContext(ctx, `SELECT state FROM records WHERE uuid = ?`, uuid)
		return missedUpdate(row, uuid, from)
	}
	return nil
}

func (b *SQLiteBackend) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT uuid, kind, state, fields
		FROM records`
	var args []any
	var clauses []string

	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(filter.State))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY uuid"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// missedUpdate explains a conditional state update that matched no row:
// either the record is missing or its state is no longer from.
func missedUpdate(row scanner, uuid string, from api.State) error {
	var cur string
	if err := row.Scan(&cur); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return stateConflict(uuid, from, api.State(cur))
}

// scanRecord reads one records row. It is shared with the Postgres backend.
func scanRecord(row scanner) (Record, error) {
	var (
		rec    Record
		kind   string
		state  string
		fields []byte
	)
	if err := row.Scan(&rec.UUID, &kind, &state, &fields); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec.Kind = engine.Kind(kind)
	rec.State = api.State(state)

	decoded, err := decodeFields(fields)
	if err != nil {
		return Record{}, err
	}
	rec.Fields = decoded
	return rec, nil
}
