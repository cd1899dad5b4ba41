package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UpdateOptions controls how Update writes the document.
type UpdateOptions struct {
	// Upsert inserts when nothing matches.
	Upsert bool
	// Partial applies the document with $set instead of replacing it.
	Partial bool
}

// UpdateResult reports what an update touched.
type UpdateResult struct {
	Matched    int64
	Modified   int64
	UpsertedID interface{}
}

// IndexOptions are passed through to index creation.
type IndexOptions struct {
	Name   string
	Unique bool
	Sparse bool
}

// GroupResult is one bucket of a Group call.
type GroupResult struct {
	Key   interface{} `bson:"_id" json:"key"`
	Count int64       `bson:"count" json:"count"`
}

// DocumentStore is a live handle on one physical database.
// Every method fails with a NotConnected error when the handle is not ready.
type DocumentStore interface {
	Database() string

	Insert(ctx context.Context, collection string, docs ...bson.M) ([]interface{}, error)
	// FindOne returns nil, nil when nothing matches.
	FindOne(ctx context.Context, collection string, filter bson.M) (bson.M, error)
	Find(ctx context.Context, collection string, filter bson.M, opts *options.FindOptions) ([]bson.M, error)
	Update(ctx context.Context, collection string, filter bson.M, doc bson.M, opts UpdateOptions) (*UpdateResult, error)
	// Remove deletes one document and returns it, or nil when nothing matched.
	Remove(ctx context.Context, collection string, filter bson.M) (bson.M, error)
	RemoveAll(ctx context.Context, collection string, filter bson.M) (int64, error)
	Count(ctx context.Context, collection string, filter bson.M) (int64, error)
	Distinct(ctx context.Context, collection string, field string, filter bson.M) ([]interface{}, error)
	Group(ctx context.Context, collection string, field string, filter bson.M) ([]GroupResult, error)

	CreateIndex(ctx context.Context, collection string, keys bson.D, opts IndexOptions) (string, error)
	ListCollections(ctx context.Context) ([]string, error)
	CollectionExists(ctx context.Context, collection string) (bool, error)
	CollectionStats(ctx context.Context, collection string) (bson.M, error)
	DropCollection(ctx context.Context, collection string) error
	DropDatabase(ctx context.Context) error
}

// StoreProvider hands out ready stores per physical database.
type StoreProvider interface {
	// Acquire returns the shared store for database, connecting lazily and
	// waiting until it is ready or the attempt budget is spent.
	Acquire(ctx context.Context, database string) (DocumentStore, error)
	// Release closes the store for database. Later Acquire calls reconnect.
	Release(ctx context.Context, database string) error
}
