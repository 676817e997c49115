// Package testutil starts the containers integration tests run against.
// Each container is started once per test binary and shared by every test
// that asks for it.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

// startTimeout is generous for CI environments pulling images.
const startTimeout = 3 * time.Minute

// shared starts a container on first use and remembers its endpoint, or
// the error that kept it from starting.
type shared struct {
	once     sync.Once
	endpoint string
	err      error
}

func (s *shared) get(t *testing.T, name string, start func(ctx context.Context) (string, error)) string {
	t.Helper()
	if testing.Short() {
		t.Skipf("skipping %s integration test in short mode", name)
	}

	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
		defer cancel()
		s.endpoint, s.err = start(ctx)
	})
	if s.err != nil {
		t.Skipf("%s container unavailable: %v", name, s.err)
	}
	return s.endpoint
}
