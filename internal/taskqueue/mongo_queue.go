package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQueue implements Queue on top of MongoDB.
//
// Collection schema:
//
//	{
//	  _id:        string,    // item ID
//	  type:       string,
//	  seq:        int64,     // enqueue time in nanoseconds, the FIFO key
//	  payload:    []byte,    // gob-encoded Item
//	  created_at: time.Time,
//	}
type MongoQueue struct {
	coll *mongo.Collection
}

// NewMongoQueue creates a Mongo-backed queue.
// dbName defaults to "orchestra", collName to "queue_items".
func NewMongoQueue(client *mongo.Client, dbName, collName string) *MongoQueue {
	if dbName == "" {
		dbName = "orchestra"
	}
	if collName == "" {
		collName = "queue_items"
	}
	return &MongoQueue{
		coll: client.Database(dbName).Collection(collName),
	}
}

// Ensure MongoQueue implements Queue.
var _ Queue = (*MongoQueue)(nil)

type mongoQueueDoc struct {
	ID        string    `bson:"_id"`
	Type      string    `bson:"type"`
	Seq       int64     `bson:"seq"`
	Payload   []byte    `bson:"payload"`
	CreatedAt time.Time `bson:"created_at"`
}

// Enqueue inserts a document for the given Item.
func (q *MongoQueue) Enqueue(ctx context.Context, it Item) error {
	if it.EnqueuedAt.IsZero() {
		it.EnqueuedAt = time.Now().UTC()
	}
	data, err := EncodeItem(it)
	if err != nil {
		return err
	}

	_, err = q.coll.InsertOne(ctx, mongoQueueDoc{
		ID:        it.ID,
		Type:      string(it.Type),
		Seq:       it.EnqueuedAt.UnixNano(),
		Payload:   data,
		CreatedAt: it.EnqueuedAt,
	})
	return err
}

// Dequeue blocks (via polling) until an item is available or ctx is cancelled.
func (q *MongoQueue) Dequeue(ctx context.Context) (*Item, error) {
	// Use a reusable timer to avoid allocating a new timer on every idle poll.
	// Initialize stopped; reset only when needed.
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	defer tmr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var doc mongoQueueDoc
		err := q.coll.FindOneAndDelete(
			ctx,
			bson.M{},
			options.FindOneAndDelete().SetSort(bson.D{{Key: "seq", Value: 1}}),
		).Decode(&doc)

		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				tmr.Reset(100 * time.Millisecond)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-tmr.C:
				}
				continue
			}
			return nil, err
		}

		return DecodeItem(doc.Payload)
	}
}

// Len returns an approximate number of queued items.
func (q *MongoQueue) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := q.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		slog.Warn("mongo queue: len failed", "error", err)
		return 0
	}
	return int(n)
}
