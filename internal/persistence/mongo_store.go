package persistence

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/orchestra/internal/engine"
	"github.com/petrijr/orchestra/pkg/api"
)

// MongoBackend is a Backend storing one document per record.
type MongoBackend struct {
	coll *mongo.Collection
}

// Ensure it implements Backend.
var _ Backend = (*MongoBackend)(nil)

// NewMongoBackend creates a Mongo-backed Backend.
// dbName defaults to "orchestra" if empty, collName defaults to "records".
func NewMongoBackend(client *mongo.Client, dbName, collName string) *MongoBackend {
	if dbName == "" {
		dbName = "orchestra"
	}
	if collName == "" {
		collName = "records"
	}

	return &MongoBackend{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoRecordDoc struct {
	UUID   string `bson:"_id"`
	Kind   string `bson:"kind"`
	State  string `bson:"state"`
	Fields []byte `bson:"fields,omitempty"`
}

func (b *MongoBackend) Put(ctx context.Context, rec Record) error {
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}

	doc := mongoRecordDoc{
		UUID:   rec.UUID,
		Kind:   string(rec.Kind),
		State:  string(rec.State),
		Fields: fields,
	}
	_, err = b.coll.ReplaceOne(ctx, bson.M{"_id": rec.UUID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (b *MongoBackend) Get(ctx context.Context, uuid string) (Record, error) {
	var doc mongoRecordDoc
	err := b.coll.FindOne(ctx, bson.M{"_id": uuid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return doc.record()
}

func (d mongoRecordDoc) record() (Record, error) {
	fields, err := decodeFields(d.Fields)
	if err != nil {
		return Record{}, err
	}
	return Record{
		UUID:   d.UUID,
		Kind:   engine.Kind(d.Kind),
		State:  api.State(d.State),
		Fields: fields,
	}, nil
}

func (b *MongoBackend) SetState(ctx context.Context, uuid string, from, to api.State) error {
	res, err := b.coll.UpdateOne(ctx,
		bson.M{"_id": uuid, "state": string(from)},
		bson.M{"$set": bson.M{"state": string(to)}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	var doc mongoRecordDoc
	err = b.coll.FindOne(ctx, bson.M{"_id": uuid}, options.FindOne().SetProjection(bson.M{"state": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return stateConflict(uuid, from, api.State(doc.State))
}

func (b *MongoBackend) List(ctx context.Context, filter Filter) ([]Record, error) {
	bfilter := bson.M{}
	if filter.Kind != "" {
		bfilter["kind"] = string(filter.Kind)
	}
	if filter.State != "" {
		bfilter["state"] = string(filter.State)
	}

	cur, err := b.coll.Find(ctx, bfilter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Record
	for cur.Next(ctx) {
		var doc mongoRecordDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		rec, err := doc.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
