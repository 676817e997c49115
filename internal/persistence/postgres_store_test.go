package persistence

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/orchestra/internal/testutil"
)

func openPostgres(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", testutil.GetPostgresDSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(context.Background()))
	return db
}

func TestPostgresBackend(t *testing.T) {
	b, err := NewPostgresBackend(openPostgres(t))
	require.NoError(t, err)
	exerciseBackend(t, b)
}

func TestPostgresBackendRunsGraph(t *testing.T) {
	ctx := context.Background()
	b, err := NewPostgresBackend(openPostgres(t))
	require.NoError(t, err)
	reg := ordersRegistry(t)

	store, env, q := newRuntime(b, reg)
	p := buildOrder(t, reg, env)
	require.NoError(t, store.Save(ctx, p))
	require.NoError(t, p.Start(ctx))

	step, err := store.LoadTask(ctx, q.lastTask())
	require.NoError(t, err)
	require.NoError(t, step.Start(ctx))

	rec, err := b.Get(ctx, step.UUID())
	require.NoError(t, err)
	require.Equal(t, "completed", string(rec.State))
}
