package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/orchestra/internal/engine"
	"github.com/petrijr/orchestra/pkg/api"
)

// exerciseBackend checks the Backend contract every implementation must
// honor. Record ids are random so shared containers can be reused.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	proc := Record{
		UUID:  uuid.NewString(),
		Kind:  engine.KindProcess,
		State: api.StateInitial,
		Fields: []Field{
			{Kind: engine.FieldType, Name: "definition", Value: []byte("orders")},
			{Kind: engine.FieldAttribute, Name: "uuid", Value: []byte("x")},
			{Kind: engine.FieldArgs, Name: "options"},
		},
	}
	step := Record{UUID: uuid.NewString(), Kind: engine.KindStep, State: api.StateInitial}

	t.Run("get missing", func(t *testing.T) {
		_, err := b.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, b.Put(ctx, proc))
		require.NoError(t, b.Put(ctx, step))

		got, err := b.Get(ctx, proc.UUID)
		require.NoError(t, err)
		assert.Equal(t, proc.UUID, got.UUID)
		assert.Equal(t, engine.KindProcess, got.Kind)
		assert.Equal(t, api.StateInitial, got.State)
		require.Len(t, got.Fields, 3)
		assert.Equal(t, proc.Fields[0], got.Fields[0])
		assert.Empty(t, got.Fields[2].Value)
	})

	t.Run("put is an upsert", func(t *testing.T) {
		again := proc
		again.State = api.StateEnqueued
		require.NoError(t, b.Put(ctx, again))
		require.NoError(t, b.Put(ctx, again))

		got, err := b.Get(ctx, proc.UUID)
		require.NoError(t, err)
		assert.Equal(t, api.StateEnqueued, got.State)
	})

	t.Run("set state", func(t *testing.T) {
		require.NoError(t, b.SetState(ctx, step.UUID, api.StateInitial, api.StateProcessing))
		got, err := b.Get(ctx, step.UUID)
		require.NoError(t, err)
		assert.Equal(t, api.StateProcessing, got.State)

		assert.ErrorIs(t, b.SetState(ctx, uuid.NewString(), api.StateInitial, api.StateFailed), ErrNotFound)
	})

	t.Run("set state from a stale state", func(t *testing.T) {
		err := b.SetState(ctx, step.UUID, api.StateInitial, api.StateFailed)
		assert.ErrorIs(t, err, api.ErrStateConflict)
		assert.NotErrorIs(t, err, ErrNotFound)

		got, err := b.Get(ctx, step.UUID)
		require.NoError(t, err)
		assert.Equal(t, api.StateProcessing, got.State)
	})

	t.Run("list", func(t *testing.T) {
		recs, err := b.List(ctx, Filter{Kind: engine.KindProcess, State: api.StateEnqueued})
		require.NoError(t, err)
		assert.Contains(t, ids(recs), proc.UUID)
		assert.NotContains(t, ids(recs), step.UUID)

		recs, err = b.List(ctx, Filter{State: api.StateProcessing})
		require.NoError(t, err)
		assert.Contains(t, ids(recs), step.UUID)
		assert.NotContains(t, ids(recs), proc.UUID)
	})
}

func ids(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.UUID)
	}
	return out
}

func TestInMemoryBackend(t *testing.T) {
	b := NewInMemoryBackend()
	exerciseBackend(t, b)
	assert.Equal(t, 2, b.Len())
}
