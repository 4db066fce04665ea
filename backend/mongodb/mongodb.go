// Package mongodb implements ooth.Backend on a MongoDB collection. Each
// user is one document whose top-level keys are strategy names; field
// lookups use dotted paths rendered from typed field keys.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	ooth "github.com/nickredmark/ooth-sub000"
)

// Backend stores user documents in a single collection, "users" by default.
type Backend struct {
	collection *mongo.Collection
}

var _ ooth.Backend = (*Backend)(nil)

// New binds the backend to db's "users" collection.
func New(db *mongo.Database) *Backend {
	return &Backend{collection: db.Collection("users")}
}

// NewWithCollection binds the backend to an explicit collection.
func NewWithCollection(c *mongo.Collection) *Backend {
	return &Backend{collection: c}
}

func (b *Backend) GetUserByID(ctx context.Context, id string) (*ooth.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return b.findOne(ctx, bson.M{"_id": oid})
}

func (b *Backend) GetUser(ctx context.Context, filter map[ooth.FieldKey]any) (*ooth.User, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	query := bson.M{}
	for key, value := range filter {
		query[key.Path()] = value
	}
	return b.findOne(ctx, query)
}

func (b *Backend) GetUserByValue(ctx context.Context, keys []ooth.FieldKey, value any) (*ooth.User, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	or := make(bson.A, 0, len(keys))
	for _, key := range keys {
		or = append(or, bson.M{key.Path(): value})
	}
	return b.findOne(ctx, bson.M{"$or": or})
}

func (b *Backend) UpdateUser(ctx context.Context, id string, fields map[string]ooth.Values) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("mongodb: invalid user id %q", id)
	}
	for _, op := range updateOps(oid, fields) {
		if _, err := b.collection.UpdateOne(ctx, op.filter, op.update); err != nil {
			return err
		}
	}
	return nil
}

type updateOp struct {
	filter bson.M
	update bson.M
}

// updateOps renders merge-only update statements: dotted-path $set/$unset
// for populated sub-documents, and for an empty Values a guarded $set that
// only materializes the sub-document when it does not exist yet (guest
// accounts), never clobbering one that does.
func updateOps(oid bson.ObjectID, fields map[string]ooth.Values) []updateOp {
	set := bson.M{}
	unset := bson.M{}
	var ops []updateOp
	for strategy, values := range fields {
		if len(values) == 0 {
			ops = append(ops, updateOp{
				filter: bson.M{"_id": oid, strategy: bson.M{"$exists": false}},
				update: bson.M{"$set": bson.M{strategy: bson.M{}}},
			})
			continue
		}
		for field, value := range values {
			path := ooth.FieldKey{Strategy: strategy, Field: field}.Path()
			if value == nil {
				unset[path] = ""
			} else {
				set[path] = value
			}
		}
	}
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if len(update) > 0 {
		ops = append(ops, updateOp{filter: bson.M{"_id": oid}, update: update})
	}
	return ops
}

func (b *Backend) InsertUser(ctx context.Context, fields map[string]ooth.Values) (string, error) {
	doc := bson.M{}
	for strategy, values := range fields {
		sub := bson.M{}
		for field, value := range values {
			if value != nil {
				sub[field] = value
			}
		}
		doc[strategy] = sub
	}
	res, err := b.collection.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return "", fmt.Errorf("mongodb: unexpected inserted id type %T", res.InsertedID)
	}
	return oid.Hex(), nil
}

func (b *Backend) findOne(ctx context.Context, query bson.M) (*ooth.User, error) {
	var doc bson.M
	err := b.collection.FindOne(ctx, query).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeUser(doc)
}

func decodeUser(doc bson.M) (*ooth.User, error) {
	oid, ok := doc["_id"].(bson.ObjectID)
	if !ok {
		return nil, fmt.Errorf("mongodb: document missing object id")
	}
	user := &ooth.User{ID: oid.Hex(), Data: make(map[string]ooth.Values)}
	for key, raw := range doc {
		if key == "_id" {
			continue
		}
		// The driver decodes nested documents as bson.M or bson.D depending
		// on registry options; accept both.
		values := ooth.Values{}
		switch sub := raw.(type) {
		case bson.M:
			for field, value := range sub {
				values[field] = value
			}
		case bson.D:
			for _, e := range sub {
				values[e.Key] = e.Value
			}
		default:
			continue
		}
		user.Data[key] = values
	}
	return user, nil
}
