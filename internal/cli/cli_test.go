package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/orchestra"
	"github.com/petrijr/orchestra/internal/config"
)

func memoryConfig() config.Config {
	return config.Config{
		StoreBackend: config.BackendMemory,
		QueueBackend: config.BackendMemory,
		Workers:      2,
	}
}

func echo(done chan<- string) *orchestra.Definition {
	return orchestra.Define("echo").
		Method("say", func(_ context.Context, _ *orchestra.Executor, args ...any) error {
			done <- args[0].(string)
			return nil
		}).
		Steps("say").
		Definition()
}

func TestOpenRuntimeOnSQLiteSharesOneDatabase(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{
		StoreBackend: config.BackendSQLite,
		QueueBackend: config.BackendSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "orchestra.db"),
		Workers:      1,
	}
	rt, closeConns, err := openRuntime(ctx, cfg)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeConns()) }()

	done := make(chan string, 1)
	require.NoError(t, rt.Register(echo(done)))
	p, err := rt.Start(ctx, "echo", "hi")
	require.NoError(t, err)

	w := rt.NewWorker()
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for !p.Completed() {
		_, err := w.ProcessOne(wctx)
		require.NoError(t, err)
	}
	assert.Equal(t, "hi", <-done)
	assert.NotNil(t, rt.Store.History(), "sqlite runtimes record history")
}

func TestOpenRuntimeRejectsUnknownBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreBackend = "etcd"
	_, _, err := openRuntime(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown store backend")

	cfg = memoryConfig()
	cfg.QueueBackend = "sqs"
	_, _, err = openRuntime(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown queue backend")
}

func TestServeRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	done := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- serve(ctx, memoryConfig(), logger, reg, reg, []*orchestra.Definition{echo(done)})
	}()

	// Give the workers a moment, then stop.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "orchestra_queue_depth")
}

func TestServeRejectsDuplicateDefinitions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	def := orchestra.Define("dup").Definition()
	err := serve(context.Background(), memoryConfig(), logger, reg, reg, []*orchestra.Definition{def, def})
	assert.ErrorContains(t, err, "register definitions")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "orchestra "+Version)
}

func TestInitCommandWritesDefaultConfig(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "conf", "orchestra.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		cfgFile = ""
	})

	rootCmd.SetArgs([]string{"init", "--config", dest})
	require.NoError(t, rootCmd.Execute())
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, defaultYAML, string(data))
	assert.Contains(t, out.String(), dest)

	rootCmd.SetArgs([]string{"init", "--config", dest})
	assert.ErrorContains(t, rootCmd.Execute(), "already exists")
}

func TestBuildLoggerLevels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, buildLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, buildLogger("info").Enabled(ctx, slog.LevelDebug))
	assert.False(t, buildLogger("error").Enabled(ctx, slog.LevelWarn))
}
