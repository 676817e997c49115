package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue using a single Redis list:
//
//	<prefix>items
//
// Values are gob-encoded Items. Enqueue is LPUSH, Dequeue is BRPOP.
type RedisQueue struct {
	client *redis.Client
	key    string
	block  time.Duration
}

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "orchestra:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "orchestra:"
	}
	return &RedisQueue{
		client: client,
		key:    prefix + "items",
		block:  time.Second,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes an item onto the Redis list (LPUSH).
func (q *RedisQueue) Enqueue(ctx context.Context, it Item) error {
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = time.Now()
	}
	data, err := EncodeItem(it)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Dequeue blocks on BRPOP until an item is available or ctx is cancelled.
// BRPOP is issued with a short timeout so cancellation is noticed between
// calls.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Item, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// BRPop returns [key, value]
		res, err := q.client.BRPop(ctx, q.block, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if len(res) != 2 {
			slog.Warn("redis queue: unexpected BRPOP result", "result", res)
			continue
		}
		return DecodeItem([]byte(res[1]))
	}
}

// Len returns the approximate number of items queued (LLEN).
func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		slog.Warn("redis queue: len failed", "error", err)
		return 0
	}
	return int(n)
}
