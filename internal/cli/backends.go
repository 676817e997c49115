package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite" // database/sql driver "sqlite"

	"github.com/petrijr/orchestra"
	"github.com/petrijr/orchestra/internal/config"
	"github.com/petrijr/orchestra/internal/persistence"
	"github.com/petrijr/orchestra/internal/taskqueue"
)

// conns opens each external connection once, so a store and a queue on the
// same backend share it.
type conns struct {
	cfg     config.Config
	sqlite  *sql.DB
	pgDB    *sql.DB
	pgPool  *pgxpool.Pool
	redis   *redis.Client
	mongo   *mongo.Client
	closers []func() error
}

func (c *conns) sqliteDB() (*sql.DB, error) {
	if c.sqlite == nil {
		db, err := sql.Open("sqlite", c.cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One writer at a time; modernc sqlite returns SQLITE_BUSY otherwise.
		db.SetMaxOpenConns(1)
		c.sqlite = db
		c.closers = append(c.closers, db.Close)
	}
	return c.sqlite, nil
}

func (c *conns) postgresDB(ctx context.Context) (*sql.DB, error) {
	if c.pgDB == nil {
		db, err := sql.Open("pgx", c.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		c.pgDB = db
		c.closers = append(c.closers, db.Close)
	}
	return c.pgDB, nil
}

func (c *conns) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if c.pgPool == nil {
		pool, err := taskqueue.NewPool(ctx, c.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		c.pgPool = pool
		c.closers = append(c.closers, func() error { pool.Close(); return nil })
	}
	return c.pgPool, nil
}

func (c *conns) redisClient(ctx context.Context) (*redis.Client, error) {
	if c.redis == nil {
		client := redis.NewClient(&redis.Options{Addr: c.cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		c.redis = client
		c.closers = append(c.closers, client.Close)
	}
	return c.redis, nil
}

func (c *conns) mongoClient(ctx context.Context) (*mongo.Client, error) {
	if c.mongo == nil {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.cfg.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		c.mongo = client
		c.closers = append(c.closers, func() error { return client.Disconnect(context.Background()) })
	}
	return c.mongo, nil
}

func (c *conns) close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// openBackend returns the configured storage backend and the history that
// goes with it.
func (c *conns) openBackend(ctx context.Context) (orchestra.Backend, persistence.History, error) {
	switch c.cfg.StoreBackend {
	case config.BackendMemory:
		return orchestra.NewInMemoryBackend(), persistence.NewMemoryHistory(), nil
	case config.BackendSQLite:
		db, err := c.sqliteDB()
		if err != nil {
			return nil, nil, err
		}
		b, err := orchestra.NewSQLiteBackend(db)
		if err != nil {
			return nil, nil, err
		}
		h, err := persistence.NewSQLiteHistory(db)
		if err != nil {
			return nil, nil, err
		}
		return b, h, nil
	case config.BackendPostgres:
		db, err := c.postgresDB(ctx)
		if err != nil {
			return nil, nil, err
		}
		b, err := orchestra.NewPostgresBackend(db)
		return b, nil, err
	case config.BackendRedis:
		client, err := c.redisClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		return orchestra.NewRedisBackend(client, c.cfg.RedisPrefix), nil, nil
	case config.BackendMongo:
		client, err := c.mongoClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		return orchestra.NewMongoBackend(client, c.cfg.MongoDB, "records"), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", c.cfg.StoreBackend)
}

func (c *conns) openQueue(ctx context.Context) (orchestra.Queue, error) {
	switch c.cfg.QueueBackend {
	case config.BackendMemory:
		return orchestra.NewInMemoryQueue(1024), nil
	case config.BackendSQLite:
		db, err := c.sqliteDB()
		if err != nil {
			return nil, err
		}
		return orchestra.NewSQLiteQueue(db)
	case config.BackendPostgres:
		pool, err := c.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		return orchestra.NewPostgresQueue(ctx, pool)
	case config.BackendRedis:
		client, err := c.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return orchestra.NewRedisQueue(client, c.cfg.RedisPrefix), nil
	case config.BackendMongo:
		client, err := c.mongoClient(ctx)
		if err != nil {
			return nil, err
		}
		return orchestra.NewMongoQueue(client, c.cfg.MongoDB, "queue_items"), nil
	case config.BackendKafka:
		q := orchestra.NewKafkaQueue(c.cfg.Brokers(), c.cfg.KafkaTopic, c.cfg.KafkaGroup)
		c.closers = append(c.closers, q.Close)
		return q, nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", c.cfg.QueueBackend)
}

// openRuntime builds a Runtime from cfg. The returned function closes every
// connection the runtime uses.
func openRuntime(ctx context.Context, cfg config.Config, opts ...orchestra.RuntimeOption) (*orchestra.Runtime, func() error, error) {
	c := &conns{cfg: cfg}
	backend, history, err := c.openBackend(ctx)
	if err != nil {
		_ = c.close()
		return nil, nil, err
	}
	q, err := c.openQueue(ctx)
	if err != nil {
		_ = c.close()
		return nil, nil, err
	}
	if history != nil {
		opts = append([]orchestra.RuntimeOption{orchestra.WithHistory(history)}, opts...)
	}
	return orchestra.NewRuntime(backend, q, opts...), c.close, nil
}
