package mongodb

import (
	"context"
	"errors"
	"strings"

	"docgateway/internal/datastore/domain/repository"
	apperrors "docgateway/internal/shared/errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ repository.DocumentStore = (*ConnectionManager)(nil)

// Insert stores docs and returns their ids in order.
func (m *ConnectionManager) Insert(ctx context.Context, collection string, docs ...bson.M) ([]interface{}, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return []interface{}{}, nil
	}
	batch := make([]interface{}, len(docs))
	for i, d := range docs {
		batch[i] = d
	}
	ids, err := db.Collection(collection).InsertMany(ctx, batch)
	if err != nil {
		return nil, apperrors.NewStoreError("insert", err)
	}
	return ids, nil
}

// FindOne returns nil, nil when nothing matches.
func (m *ConnectionManager) FindOne(ctx context.Context, collection string, filter bson.M) (bson.M, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := db.Collection(collection).FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperrors.NewStoreError("findOne", err)
	}
	return doc, nil
}

func (m *ConnectionManager) Find(ctx context.Context, collection string, filter bson.M, opts *options.FindOptions) ([]bson.M, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = options.Find()
	}
	cur, err := db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.NewStoreError("find", err)
	}
	docs, err := drainCursor(ctx, cur)
	if err != nil {
		return nil, apperrors.NewStoreError("find", err)
	}
	return docs, nil
}

// Update replaces the matching document, or sets the given fields when opts.Partial.
func (m *ConnectionManager) Update(ctx context.Context, collection string, filter bson.M, doc bson.M, opts repository.UpdateOptions) (*repository.UpdateResult, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	coll := db.Collection(collection)

	var res *mongo.UpdateResult
	if opts.Partial {
		res, err = coll.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.Update().SetUpsert(opts.Upsert))
	} else {
		res, err = coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(opts.Upsert))
	}
	if err != nil {
		return nil, apperrors.NewStoreError("update", err)
	}
	return &repository.UpdateResult{
		Matched:    res.MatchedCount,
		Modified:   res.ModifiedCount,
		UpsertedID: res.UpsertedID,
	}, nil
}

// Remove deletes one document and returns it, or nil when nothing matched.
func (m *ConnectionManager) Remove(ctx context.Context, collection string, filter bson.M) (bson.M, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := db.Collection(collection).FindOneAndDelete(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperrors.NewStoreError("remove", err)
	}
	return doc, nil
}

func (m *ConnectionManager) RemoveAll(ctx context.Context, collection string, filter bson.M) (int64, error) {
	db, err := m.database()
	if err != nil {
		return 0, err
	}
	if filter == nil {
		filter = bson.M{}
	}
	n, err := db.Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, apperrors.NewStoreError("removeAll", err)
	}
	return n, nil
}

func (m *ConnectionManager) Count(ctx context.Context, collection string, filter bson.M) (int64, error) {
	db, err := m.database()
	if err != nil {
		return 0, err
	}
	if filter == nil {
		filter = bson.M{}
	}
	n, err := db.Collection(collection).CountDocuments(ctx, filter)
	if err != nil {
		return 0, apperrors.NewStoreError("count", err)
	}
	return n, nil
}

func (m *ConnectionManager) Distinct(ctx context.Context, collection string, field string, filter bson.M) ([]interface{}, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = bson.M{}
	}
	values, err := db.Collection(collection).Distinct(ctx, field, filter)
	if err != nil {
		return nil, apperrors.NewStoreError("distinct", err)
	}
	return values, nil
}

// Group counts matching documents per distinct value of field.
func (m *ConnectionManager) Group(ctx context.Context, collection string, field string, filter bson.M) ([]repository.GroupResult, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = bson.M{}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + field},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	cur, err := db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, apperrors.NewStoreError("group", err)
	}
	docs, err := drainCursor(ctx, cur)
	if err != nil {
		return nil, apperrors.NewStoreError("group", err)
	}

	groups := make([]repository.GroupResult, 0, len(docs))
	for _, d := range docs {
		groups = append(groups, repository.GroupResult{Key: d["_id"], Count: toInt64(d["count"])})
	}
	return groups, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}

// CreateIndex is idempotent: the server accepts an identical existing index.
func (m *ConnectionManager) CreateIndex(ctx context.Context, collection string, keys bson.D, opts repository.IndexOptions) (string, error) {
	db, err := m.database()
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", apperrors.NewValidationError("index keys must not be empty")
	}

	indexOpts := options.Index()
	if opts.Name != "" {
		indexOpts.SetName(opts.Name)
	}
	if opts.Unique {
		indexOpts.SetUnique(true)
	}
	if opts.Sparse {
		indexOpts.SetSparse(true)
	}
	name, err := db.Collection(collection).CreateIndex(ctx, mongo.IndexModel{Keys: keys, Options: indexOpts})
	if err != nil {
		return "", apperrors.NewStoreError("createIndex", err)
	}
	return name, nil
}

// ListCollections returns user collection names, skipping system collections.
func (m *ConnectionManager) ListCollections(ctx context.Context) ([]string, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	names, err := db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, apperrors.NewStoreError("listCollections", err)
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !strings.HasPrefix(n, "system.") {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *ConnectionManager) CollectionExists(ctx context.Context, collection string) (bool, error) {
	db, err := m.database()
	if err != nil {
		return false, err
	}
	names, err := db.ListCollectionNames(ctx, bson.M{"name": collection})
	if err != nil {
		return false, apperrors.NewStoreError("collectionExists", err)
	}
	return len(names) > 0, nil
}

func (m *ConnectionManager) CollectionStats(ctx context.Context, collection string) (bson.M, error) {
	db, err := m.database()
	if err != nil {
		return nil, err
	}
	var stats bson.M
	if err := db.RunCommand(ctx, bson.D{{Key: "collStats", Value: collection}}).Decode(&stats); err != nil {
		return nil, apperrors.NewStoreError("collStats", err)
	}
	return stats, nil
}

// DropCollection drops collection. Dropping a missing collection succeeds.
func (m *ConnectionManager) DropCollection(ctx context.Context, collection string) error {
	db, err := m.database()
	if err != nil {
		return err
	}
	if err := db.Collection(collection).Drop(ctx); err != nil {
		return apperrors.NewStoreError("dropCollection", err)
	}
	return nil
}

func (m *ConnectionManager) DropDatabase(ctx context.Context) error {
	db, err := m.database()
	if err != nil {
		return err
	}
	if err := db.Drop(ctx); err != nil {
		return apperrors.NewStoreError("dropDatabase", err)
	}
	return nil
}
