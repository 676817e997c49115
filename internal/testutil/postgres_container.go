package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var postgresContainer shared

// GetPostgresDSN returns a DSN for a shared Postgres container.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	return postgresContainer.get(t, "postgres", func(ctx context.Context) (string, error) {
		postgresC, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForLog("ready to accept connections"),
					// The log line appears once during init as well; only a
					// query proves the final server is up.
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return fmt.Sprintf("postgres://orchestra:orchestra@%s:%s/orchestra_test?sslmode=disable", host, port.Port())
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "orchestra",
				"POSTGRES_PASSWORD": "orchestra",
				"POSTGRES_DB":       "orchestra_test",
			}),
		)
		if err != nil {
			return "", err
		}

		endpoint, err := postgresC.Endpoint(ctx, "")
		if err != nil {
			_ = postgresC.Terminate(context.Background()) // best-effort cleanup
			return "", err
		}
		return fmt.Sprintf("postgres://orchestra:orchestra@%s/orchestra_test?sslmode=disable", endpoint), nil
	})
}
