package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/orchestra/internal/engine"
	"github.com/petrijr/orchestra/pkg/api"
)

// RedisBackend is a Backend backed by Redis.
// It uses a simple key structure:
//
//	<prefix>:rec:<uuid>         => HASH {kind, state, fields}
//	<prefix>:idx:kind:<kind>    => SET of uuids for a given kind
//
// The kind index is only ever added to; a record never changes kind.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend creates a RedisBackend.
// prefix is optional but recommended (e.g. "orchestra:").
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "orchestra:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
	}
}

func (b *RedisBackend) keyRecord(uuid string) string {
	return b.prefix + "rec:" + uuid
}

func (b *RedisBackend) keyKind(kind engine.Kind) string {
	return b.prefix + "idx:kind:" + string(kind)
}

var redisKinds = []engine.Kind{
	engine.KindProcess, engine.KindTask, engine.KindStep, engine.KindJob, engine.KindSubProcess,
}

func (b *RedisBackend) Put(ctx context.Context, rec Record) error {
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, b.keyRecord(rec.UUID),
		"kind", string(rec.Kind),
		"state", string(rec.State),
		"fields", fields,
	)
	pipe.SAdd(ctx, b.keyKind(rec.Kind), rec.UUID)
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) Get(ctx context.Context, uuid string) (Record, error) {
	vals, err := b.client.HGetAll(ctx, b.keyRecord(uuid)).Result()
	if err != nil {
		return Record{}, err
	}
	return decodeRedisRecord(uuid, vals)
}

func decodeRedisRecord(uuid string, vals map[string]string) (Record, error) {
	if len(vals) == 0 {
		return Record{}, ErrNotFound
	}
	fields, err := decodeFields([]byte(vals["fields"]))
	if err != nil {
		return Record{}, err
	}
	return Record{
		UUID:   uuid,
		Kind:   engine.Kind(vals["kind"]),
		State:  api.State(vals["state"]),
		Fields: fields,
	}, nil
}

// redisSetStateRetries bounds how often SetState retries after another
// writer touched the record between WATCH and EXEC.
const redisSetStateRetries = 10

func (b *RedisBackend) SetState(ctx context.Context, uuid string, from, to api.State) error {
	key := b.keyRecord(uuid)

	// WATCH makes the state check and the update atomic.
	update := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "state").Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if api.State(cur) != from {
			return stateConflict(uuid, from, api.State(cur))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "state", string(to))
			return nil
		})
		return err
	}

	for i := 0; i < redisSetStateRetries; i++ {
		err := b.client.Watch(ctx, update, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("set state of %s: %w", uuid, redis.TxFailedErr)
}

func (b *RedisBackend) List(ctx context.Context, filter Filter) ([]Record, error) {
	kinds := redisKinds
	if filter.Kind != "" {
		kinds = []engine.Kind{filter.Kind}
	}

	var ids []string
	for _, kind := range kinds {
		members, err := b.client.SMembers(ctx, b.keyKind(kind)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		ids = append(ids, members...)
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}
	sort.Strings(ids)

	pipe := b.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, b.keyRecord(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var out []Record
	for i, cmd := range cmds {
		rec, err := decodeRedisRecord(ids[i], cmd.Val())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.match(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}
