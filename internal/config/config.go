// Package config holds the typed configuration of the orchestra server.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Storage and queue backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendKafka    = "kafka"
)

// Config holds typed configuration for the server.
type Config struct {
	LogLevel string

	StoreBackend string
	QueueBackend string

	SQLitePath   string
	PostgresDSN  string
	RedisAddr    string
	RedisPrefix  string
	MongoURI     string
	MongoDB      string
	KafkaBrokers string
	KafkaTopic   string
	KafkaGroup   string

	Workers   int
	RateLimit float64

	HTTPAddr     string
	MetricsAddr  string
	OTelEndpoint string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		StoreBackend: v.GetString("store_backend"),
		QueueBackend: v.GetString("queue_backend"),
		SQLitePath:   v.GetString("sqlite_path"),
		PostgresDSN:  v.GetString("postgres_dsn"),
		RedisAddr:    v.GetString("redis_addr"),
		RedisPrefix:  v.GetString("redis_prefix"),
		MongoURI:     v.GetString("mongo_uri"),
		MongoDB:      v.GetString("mongo_db"),
		KafkaBrokers: v.GetString("kafka_brokers"),
		KafkaTopic:   v.GetString("kafka_topic"),
		KafkaGroup:   v.GetString("kafka_group"),
		Workers:      v.GetInt("workers"),
		RateLimit:    v.GetFloat64("rate_limit"),
		HTTPAddr:     v.GetString("http_addr"),
		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),
	}
}

// Brokers splits KafkaBrokers on commas.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite, BackendPostgres, BackendRedis, BackendMongo:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	switch c.QueueBackend {
	case BackendMemory, BackendSQLite, BackendPostgres, BackendRedis, BackendMongo, BackendKafka:
	default:
		return fmt.Errorf("unknown queue backend %q", c.QueueBackend)
	}

	// An in-memory store only makes sense next to a queue in the same
	// process; items in a shared queue would reference records other
	// workers cannot load.
	if c.StoreBackend == BackendMemory && c.QueueBackend != BackendMemory {
		return fmt.Errorf("store backend %q requires queue backend %q", BackendMemory, BackendMemory)
	}

	uses := func(name string) bool { return c.StoreBackend == name || c.QueueBackend == name }
	switch {
	case uses(BackendSQLite) && c.SQLitePath == "":
		return fmt.Errorf("sqlite_path is required")
	case uses(BackendPostgres) && c.PostgresDSN == "":
		return fmt.Errorf("postgres_dsn is required")
	case uses(BackendRedis) && c.RedisAddr == "":
		return fmt.Errorf("redis_addr is required")
	case uses(BackendMongo) && (c.MongoURI == "" || c.MongoDB == ""):
		return fmt.Errorf("mongo_uri and mongo_db are required")
	case c.QueueBackend == BackendKafka && (len(c.Brokers()) == 0 || c.KafkaTopic == "" || c.KafkaGroup == ""):
		return fmt.Errorf("kafka_brokers, kafka_topic and kafka_group are required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}
