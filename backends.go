package orchestra

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/orchestra/internal/persistence"
	"github.com/petrijr/orchestra/internal/taskqueue"
)

// Storage backends.
// These wrap the internal/persistence package so external callers
// never need to import internal packages.

// NewInMemoryBackend returns a non-durable backend, best for tests.
func NewInMemoryBackend() Backend {
	return persistence.NewInMemoryBackend()
}

// NewSQLiteBackend stores records in a SQLite database.
func NewSQLiteBackend(db *sql.DB) (Backend, error) {
	return persistence.NewSQLiteBackend(db)
}

// NewPostgresBackend stores records in PostgreSQL. db must use a Postgres
// driver, e.g. "github.com/jackc/pgx/v5/stdlib".
func NewPostgresBackend(db *sql.DB) (Backend, error) {
	return persistence.NewPostgresBackend(db)
}

// NewRedisBackend stores records as Redis hashes under prefix.
func NewRedisBackend(client *redis.Client, prefix string) Backend {
	return persistence.NewRedisBackend(client, prefix)
}

// NewMongoBackend stores records in a MongoDB collection.
func NewMongoBackend(client *mongo.Client, dbName, collName string) Backend {
	return persistence.NewMongoBackend(client, dbName, collName)
}

// Queues.

// NewInMemoryQueue returns a process-local queue.
func NewInMemoryQueue(capacity int) Queue {
	return taskqueue.NewInMemoryQueue(capacity)
}

// NewSQLiteQueue returns a durable queue in a SQLite database.
func NewSQLiteQueue(db *sql.DB) (Queue, error) {
	return taskqueue.NewSQLiteQueue(db)
}

// NewPostgresQueue returns a queue several workers can claim from safely.
func NewPostgresQueue(ctx context.Context, pool *pgxpool.Pool) (Queue, error) {
	return taskqueue.NewPostgresQueue(ctx, pool)
}

// NewRedisQueue returns a queue on a Redis list.
func NewRedisQueue(client *redis.Client, prefix string) Queue {
	return taskqueue.NewRedisQueue(client, prefix)
}

// NewMongoQueue returns a queue in a MongoDB collection.
func NewMongoQueue(client *mongo.Client, dbName, collName string) Queue {
	return taskqueue.NewMongoQueue(client, dbName, collName)
}

// NewKafkaQueue returns a queue on a Kafka topic consumed by groupID.
func NewKafkaQueue(brokers []string, topic, groupID string) *taskqueue.KafkaQueue {
	return taskqueue.NewKafkaQueue(taskqueue.KafkaConfig{Brokers: brokers, Topic: topic, GroupID: groupID})
}
