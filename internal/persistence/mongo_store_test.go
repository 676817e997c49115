package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/orchestra/internal/testutil"
)

type MongoBackendTestSuite struct {
	suite.Suite
	client   *mongo.Client
	dbName   string
	collName string
	backend  *MongoBackend
}

func TestMongoBackendTestSuite(t *testing.T) {
	uri := testutil.GetMongoURI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		t.Fatalf("mongo ping failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	suite.Run(t, &MongoBackendTestSuite{
		client:   client,
		dbName:   "orchestra_test",
		collName: "records",
	})
}

func (m *MongoBackendTestSuite) SetupTest() {
	coll := m.client.Database(m.dbName).Collection(m.collName)
	m.Require().NoError(coll.Drop(context.Background()))
	m.backend = NewMongoBackend(m.client, m.dbName, m.collName)
}

func (m *MongoBackendTestSuite) TestContract() {
	exerciseBackend(m.T(), m.backend)
}

func (m *MongoBackendTestSuite) TestResumeAfterRestart() {
	ctx := context.Background()
	reg := ordersRegistry(m.T())

	store, env, q := newRuntime(m.backend, reg)
	p := buildOrder(m.T(), reg, env)
	m.Require().NoError(store.Save(ctx, p))
	m.Require().NoError(p.Start(ctx))

	restarted, _, q2 := newRuntime(m.backend, reg)
	task, err := restarted.LoadTask(ctx, q.lastTask())
	m.Require().NoError(err)
	m.Require().NoError(task.Start(ctx))
	m.True(task.Completed())
	m.Len(q2.jobs, 1)
}
