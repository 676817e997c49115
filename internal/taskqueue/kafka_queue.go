package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaQueue implements Queue on a Kafka topic.
//
// Messages are keyed by process uuid, so the items of one process land on
// one partition and keep their order. Offsets are committed as soon as an
// item is handed out; an item lost to a crash after that is redriven by
// resuming its process.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *slog.Logger
}

// KafkaConfig configures a KafkaQueue.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Logger  *slog.Logger
}

// NewKafkaQueue connects a writer and a consumer-group reader to cfg.Topic.
func NewKafkaQueue(cfg KafkaConfig) *KafkaQueue {
	if cfg.GroupID == "" {
		cfg.GroupID = "orchestra-workers"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // route by key → deterministic partition
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
		// Auto-create topics if they don't exist
		AllowAutoTopicCreation: true,
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10 MB
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // manual commit only
		StartOffset:    kafka.FirstOffset,
	})
	return &KafkaQueue{writer: w, reader: r, logger: cfg.Logger}
}

// Ensure KafkaQueue implements Queue.
var _ Queue = (*KafkaQueue)(nil)

func partitionKey(it Item) string {
	if it.ProcessUUID != "" {
		return it.ProcessUUID
	}
	return it.UUID
}

// Enqueue publishes the item.
func (q *KafkaQueue) Enqueue(ctx context.Context, it Item) error {
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = time.Now()
	}
	data, err := EncodeItem(it)
	if err != nil {
		return err
	}

	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(partitionKey(it)),
		Value:   data,
		Headers: []kafka.Header{{Key: "type", Value: []byte(it.Type)}},
		Time:    it.EnqueuedAt,
	})
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", q.writer.Topic, err)
	}
	return nil
}

// Dequeue fetches the next message of the consumer group and commits it.
func (q *KafkaQueue) Dequeue(ctx context.Context) (*Item, error) {
	for {
		m, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("kafka fetch: %w", err)
		}

		it, err := DecodeItem(m.Value)
		if err != nil {
			// A message nobody can decode would block the partition forever.
			q.logger.Error("dropping undecodable queue item",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
		}

		if err := q.reader.CommitMessages(ctx, m); err != nil {
			return nil, fmt.Errorf("kafka commit offset %d: %w", m.Offset, err)
		}
		if it != nil {
			return it, nil
		}
	}
}

// Len returns the consumer lag, which approximates the queued items.
func (q *KafkaQueue) Len() int {
	return int(q.reader.Stats().Lag)
}

// Close closes the writer and the reader.
func (q *KafkaQueue) Close() error {
	werr := q.writer.Close()
	if err := q.reader.Close(); err != nil {
		return err
	}
	return werr
}
