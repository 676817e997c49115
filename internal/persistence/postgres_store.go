package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/petrijr/orchestra/pkg/api"
)

// PostgresBackend is a Backend backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresBackend struct {
	db *sql.DB
}

// Ensure PostgresBackend implements Backend.
var _ Backend = (*PostgresBackend)(nil)

// NewPostgresBackend initializes the required schema in the given
// database and returns a new PostgresBackend.
func NewPostgresBackend(db *sql.DB) (*PostgresBackend, error) {
	b := &PostgresBackend{db: db}
	if err := b.initSchema(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) initSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			uuid   TEXT PRIMARY KEY,
			kind   TEXT NOT NULL,
			state  TEXT NOT NULL,
			fields BYTEA
		);
		CREATE INDEX IF NOT EXISTS idx_records_kind_state ON records(kind, state);
	`)
	return err
}

func (b *PostgresBackend) Put(ctx context.Context, rec Record) error {
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO records (uuid, kind, state, fields)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uuid) DO UPDATE
		SET kind   = EXCLUDED.kind,
		    state  = EXCLUDED.state,
		    fields = EXCLUDED.fields
	`,
		rec.UUID,
		string(rec.Kind),
		string(rec.State),
		fields,
	)
	return err
}

func (b *PostgresBackend) Get(ctx context.Context, uuid string) (Record, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT uuid, kind, state, fields
		FROM records
		WHERE uuid = $1
	`, uuid)
	return scanRecord(row)
}

func (b *PostgresBackend) SetState(ctx context.Context, uuid string, from, to api.State) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE records SET state = $1 WHERE uuid = $2 AND state = $3`,
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
		row := b.db.QueryRowContext(ctx, `SELECT state FROM records WHERE uuid = $1`, uuid)
		return missedUpdate(row, uuid, from)
	}
	return nil
}

func (b *PostgresBackend) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT uuid, kind, state, fields
		FROM records`
	var args []any
	var clauses []string

	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		clauses = append(clauses, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		clauses = append(clauses, fmt.Sprintf("state = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
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
