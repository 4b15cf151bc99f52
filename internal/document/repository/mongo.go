package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/gogotex/document-service/internal/document"
)

// MongoStore stores one Mongo document per revision. A unique compound index on
// (docId, revision) enforces write-once; writes wait for a journaled majority.
type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore prepares the collection (indexes, write concern).
func NewMongoStore(ctx context.Context, db *mongo.Database, collection string) (*MongoStore, error) {
	journal := true
	wc := &writeconcern.WriteConcern{W: "majority", Journal: &journal}
	col := db.Collection(collection, options.Collection().SetWriteConcern(wc))

	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "docId", Value: 1}, {Key: "revision", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("docId_revision_unique"),
	}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("create revision index: %w", err)
	}
	return &MongoStore{col: col}, nil
}

func (m *MongoStore) Put(ctx context.Context, rev *document.Revision) error {
	if err := checkRevision(rev); err != nil {
		return err
	}
	if _, err := m.col.InsertOne(ctx, rev); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &document.ConflictError{DocumentID: rev.DocumentID, Revision: rev.Number}
		}
		return fmt.Errorf("insert revision %s/%d: %w", rev.DocumentID, rev.Number, err)
	}
	return nil
}

func (m *MongoStore) Get(ctx context.Context, id string, revision int) (*document.Revision, error) {
	var r document.Revision
	err := m.col.FindOne(ctx, bson.M{"docId": id, "revision": revision}).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &document.NotFoundError{DocumentID: id, Revision: revision}
		}
		return nil, err
	}
	return &r, nil
}

func (m *MongoStore) Latest(ctx context.Context, id string) (*document.Revision, error) {
	var r document.Revision
	opts := options.FindOne().SetSort(bson.D{{Key: "revision", Value: -1}})
	err := m.col.FindOne(ctx, bson.M{"docId": id}, opts).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &document.NotFoundError{DocumentID: id}
		}
		return nil, err
	}
	return &r, nil
}

func (m *MongoStore) History(ctx context.Context, id string) ([]*document.Revision, error) {
	opts := options.Find().SetSort(bson.D{{Key: "revision", Value: 1}})
	cur, err := m.col.Find(ctx, bson.M{"docId": id}, opts)
	if err != nil {
		return nil, fmt.Errorf("find history %s: %w", id, err)
	}
	defer cur.Close(ctx)
	out := []*document.Revision{}
	for cur.Next(ctx) {
		var r document.Revision
		if err := cur.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &document.NotFoundError{DocumentID: id}
	}
	return out, nil
}

type mongoHead struct {
	DocumentID string    `bson:"_id"`
	Revision   int       `bson:"revision"`
	Deleted    bool      `bson:"deleted"`
	CreatedAt  time.Time `bson:"createdAt"`
}

func (m *MongoStore) Heads(ctx context.Context) iter.Seq2[Head, error] {
	return func(yield func(Head, error) bool) {
		pipeline := mongo.Pipeline{
			{{Key: "$sort", Value: bson.D{{Key: "docId", Value: 1}, {Key: "revision", Value: -1}}}},
			{{Key: "$group", Value: bson.D{
				{Key: "_id", Value: "$docId"},
				{Key: "revision", Value: bson.D{{Key: "$first", Value: "$revision"}}},
				{Key: "deleted", Value: bson.D{{Key: "$first", Value: "$deleted"}}},
				{Key: "createdAt", Value: bson.D{{Key: "$first", Value: "$createdAt"}}},
			}}},
			{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
		}
		cur, err := m.col.Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
		if err != nil {
			yield(Head{}, fmt.Errorf("aggregate heads: %w", err))
			return
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			var h mongoHead
			if err := cur.Decode(&h); err != nil {
				yield(Head{}, err)
				return
			}
			if !yield(Head{DocumentID: h.DocumentID, Revision: h.Revision, Deleted: h.Deleted, CreatedAt: h.CreatedAt.UTC()}, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(Head{}, err)
		}
	}
}

func (m *MongoStore) DocumentIDs(ctx context.Context) iter.Seq2[string, error] {
	return liveIDs(m.Heads(ctx))
}

// Close is a no-op; the client is owned by whoever connected it.
func (m *MongoStore) Close() error { return nil }
