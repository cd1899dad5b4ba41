package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ClientInterface is the part of *mongo.Client a connection manager drives.
type ClientInterface interface {
	Database(name string) DatabaseInterface
	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error
	// RunCommand runs cmd against database, used for authentication checks.
	RunCommand(ctx context.Context, database string, cmd interface{}) SingleResultInterface
}

// DatabaseInterface is the part of *mongo.Database the store operations use.
type DatabaseInterface interface {
	Name() string
	Collection(name string) CollectionInterface
	ListCollectionNames(ctx context.Context, filter interface{}) ([]string, error)
	RunCommand(ctx context.Context, cmd interface{}) SingleResultInterface
	Drop(ctx context.Context) error
}

// CollectionInterface is the part of *mongo.Collection the store operations use.
type CollectionInterface interface {
	InsertMany(ctx context.Context, docs []interface{}) ([]interface{}, error)
	FindOne(ctx context.Context, filter interface{}) SingleResultInterface
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (CursorInterface, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	FindOneAndDelete(ctx context.Context, filter interface{}) SingleResultInterface
	DeleteMany(ctx context.Context, filter interface{}) (int64, error)
	CountDocuments(ctx context.Context, filter interface{}) (int64, error)
	Distinct(ctx context.Context, field string, filter interface{}) ([]interface{}, error)
	Aggregate(ctx context.Context, pipeline interface{}) (CursorInterface, error)
	CreateIndex(ctx context.Context, model mongo.IndexModel) (string, error)
	Drop(ctx context.Context) error
}

type SingleResultInterface interface {
	Decode(v interface{}) error
}

type CursorInterface interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Close(ctx context.Context) error
	Err() error
}

// drainCursor reads every document and closes the cursor.
func drainCursor(ctx context.Context, cur CursorInterface) ([]bson.M, error) {
	defer cur.Close(ctx)

	docs := make([]bson.M, 0)
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

// --- driver backed implementations ---

type mongoClientAdapter struct {
	client *mongo.Client
}

// NewMongoClientAdapter wraps a connected driver client.
func NewMongoClientAdapter(client *mongo.Client) ClientInterface {
	return &mongoClientAdapter{client: client}
}

func (c *mongoClientAdapter) Database(name string) DatabaseInterface {
	return &mongoDatabaseAdapter{db: c.client.Database(name)}
}

func (c *mongoClientAdapter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *mongoClientAdapter) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

func (c *mongoClientAdapter) RunCommand(ctx context.Context, database string, cmd interface{}) SingleResultInterface {
	return c.client.Database(database).RunCommand(ctx, cmd)
}

type mongoDatabaseAdapter struct {
	db *mongo.Database
}

func (d *mongoDatabaseAdapter) Name() string { return d.db.Name() }

func (d *mongoDatabaseAdapter) Collection(name string) CollectionInterface {
	return &mongoCollectionAdapter{col: d.db.Collection(name)}
}

func (d *mongoDatabaseAdapter) ListCollectionNames(ctx context.Context, filter interface{}) ([]string, error) {
	return d.db.ListCollectionNames(ctx, filter)
}

func (d *mongoDatabaseAdapter) RunCommand(ctx context.Context, cmd interface{}) SingleResultInterface {
	return d.db.RunCommand(ctx, cmd)
}

func (d *mongoDatabaseAdapter) Drop(ctx context.Context) error { return d.db.Drop(ctx) }

type mongoCollectionAdapter struct {
	col *mongo.Collection
}

func (m *mongoCollectionAdapter) InsertMany(ctx context.Context, docs []interface{}) ([]interface{}, error) {
	res, err := m.col.InsertMany(ctx, docs)
	if err != nil {
		return nil, err
	}
	return res.InsertedIDs, nil
}

func (m *mongoCollectionAdapter) FindOne(ctx context.Context, filter interface{}) SingleResultInterface {
	return m.col.FindOne(ctx, filter)
}

func (m *mongoCollectionAdapter) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (CursorInterface, error) {
	return m.col.Find(ctx, filter, opts...)
}

func (m *mongoCollectionAdapter) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return m.col.UpdateOne(ctx, filter, update, opts...)
}

func (m *mongoCollectionAdapter) ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	return m.col.ReplaceOne(ctx, filter, replacement, opts...)
}

func (m *mongoCollectionAdapter) FindOneAndDelete(ctx context.Context, filter interface{}) SingleResultInterface {
	return m.col.FindOneAndDelete(ctx, filter)
}

func (m *mongoCollectionAdapter) DeleteMany(ctx context.Context, filter interface{}) (int64, error) {
	res, err := m.col.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *mongoCollectionAdapter) CountDocuments(ctx context.Context, filter interface{}) (int64, error) {
	return m.col.CountDocuments(ctx, filter)
}

func (m *mongoCollectionAdapter) Distinct(ctx context.Context, field string, filter interface{}) ([]interface{}, error) {
	return m.col.Distinct(ctx, field, filter)
}

func (m *mongoCollectionAdapter) Aggregate(ctx context.Context, pipeline interface{}) (CursorInterface, error) {
	return m.col.Aggregate(ctx, pipeline)
}

func (m *mongoCollectionAdapter) CreateIndex(ctx context.Context, model mongo.IndexModel) (string, error) {
	return m.col.Indexes().CreateOne(ctx, model)
}

func (m *mongoCollectionAdapter) Drop(ctx context.Context) error { return m.col.Drop(ctx) }
