package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
)

var kafkaContainer shared

// GetKafkaBrokers returns the broker addresses of a shared single-node
// Kafka cluster.
func GetKafkaBrokers(t *testing.T) []string {
	t.Helper()
	joined := kafkaContainer.get(t, "kafka", func(ctx context.Context) (string, error) {
		kafkaC, err := tcKafka.Run(ctx, "confluentinc/confluent-local:7.7.1",
			testcontainers.WithWaitStrategy(
				wait.ForLog("Kafka Server started").
					WithStartupTimeout(90*time.Second),
			),
		)
		if err != nil {
			return "", err
		}

		brokers, err := kafkaC.Brokers(ctx)
		if err != nil {
			_ = kafkaC.Terminate(context.Background()) // best-effort cleanup
			return "", err
		}
		return strings.Join(brokers, ","), nil
	})
	return strings.Split(joined, ",")
}
