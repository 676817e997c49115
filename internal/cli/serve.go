package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petrijr/orchestra"
	"github.com/petrijr/orchestra/internal/config"
	"github.com/petrijr/orchestra/internal/httpapi"
	"github.com/petrijr/orchestra/internal/telemetry"
	"github.com/petrijr/orchestra/pkg/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run workers and the admin API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("store-backend", config.BackendSQLite, "record storage: memory | sqlite | postgres | redis | mongo")
	serveCmd.Flags().String("queue-backend", config.BackendSQLite, "work queue: memory | sqlite | postgres | redis | mongo | kafka")
	serveCmd.Flags().String("sqlite-path", "orchestra.db", "SQLite database file")
	serveCmd.Flags().String("postgres-dsn", "", "PostgreSQL DSN")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address (host:port)")
	serveCmd.Flags().String("redis-prefix", "orchestra:", "Redis key prefix")
	serveCmd.Flags().String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	serveCmd.Flags().String("mongo-db", "orchestra", "MongoDB database")
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("kafka-topic", "orchestra.items", "Kafka topic carrying queue items")
	serveCmd.Flags().String("kafka-group", "orchestra-workers", "Kafka consumer group")
	serveCmd.Flags().Int("workers", 4, "concurrent worker loops")
	serveCmd.Flags().Float64("rate-limit", 0, "items per second across all loops; 0 disables")
	serveCmd.Flags().String("http-addr", ":8080", "admin API address; empty disables")
	serveCmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics server address; empty disables")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("store_backend", serveCmd.Flags(), "store-backend")
	bindFlag("queue_backend", serveCmd.Flags(), "queue-backend")
	bindFlag("sqlite_path", serveCmd.Flags(), "sqlite-path")
	bindFlag("postgres_dsn", serveCmd.Flags(), "postgres-dsn")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("redis_prefix", serveCmd.Flags(), "redis-prefix")
	bindFlag("mongo_uri", serveCmd.Flags(), "mongo-uri")
	bindFlag("mongo_db", serveCmd.Flags(), "mongo-db")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("kafka_topic", serveCmd.Flags(), "kafka-topic")
	bindFlag("kafka_group", serveCmd.Flags(), "kafka-group")
	bindFlag("workers", serveCmd.Flags(), "workers")
	bindFlag("rate_limit", serveCmd.Flags(), "rate-limit")
	bindFlag("http_addr", serveCmd.Flags(), "http-addr")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := buildLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "orchestra", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	return serve(ctx, cfg, logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, definitions)
}

// serve runs until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer, defs []*orchestra.Definition) error {
	metrics := telemetry.NewMetrics(reg)
	observer := orchestra.NewCompositeObserver(orchestra.NewLoggingObserver(logger), metrics)

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	rt, closeConns, err := openRuntime(initCtx, cfg, orchestra.WithObserver(observer))
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeConns(); err != nil {
			logger.Error("close connections", slog.String("error", err.Error()))
		}
	}()

	if err := rt.Register(defs...); err != nil {
		return fmt.Errorf("register definitions: %w", err)
	}
	if err := metrics.WatchQueue(cfg.QueueBackend, rt.Queue); err != nil {
		return fmt.Errorf("watch queue: %w", err)
	}

	if cfg.MetricsAddr != "" {
		telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, gatherer, logger)
	}

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		api := httpapi.New(rt.Store,
			httpapi.WithStarter(rt),
			httpapi.WithHistory(rt.Store.History()),
			httpapi.WithLogger(logger),
		)
		httpSrv = &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      api.Router(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("admin API starting", slog.String("addr", httpSrv.Addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", slog.String("error", err.Error()))
			}
		}()
	}

	opts := []worker.Option{worker.WithLogger(logger), worker.WithObserver(metrics)}
	if cfg.RateLimit > 0 {
		opts = append(opts, worker.WithRateLimit(cfg.RateLimit, cfg.Workers))
	}
	w := rt.NewWorker(opts...)

	logger.Info("orchestra starting",
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("queue_backend", cfg.QueueBackend),
		slog.Int("workers", cfg.Workers),
		slog.Any("definitions", rt.Registry.Names()),
	)
	runErr := w.Run(ctx, cfg.Workers)

	if httpSrv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutCancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
		}
	}
	if runErr != nil {
		return fmt.Errorf("worker: %w", runErr)
	}
	logger.Info("stopped")
	return nil
}
