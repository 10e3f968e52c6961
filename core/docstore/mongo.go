package docstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/unipanel/backend/core/sampler"
)

// Mongo performs document operations directly against the target store.
// Connections are per call, the panel fronts many unrelated stores.
type Mongo struct {
	// ConnectTimeout bounds connection setup, defaults to 10s
	ConnectTimeout time.Duration
}

func (m Mongo) connect(ctx context.Context, uri string) (*mongo.Client, error) {
	timeout := m.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	return client, nil
}

// identityFilter builds the _id filter for a document id coming in as a
// path parameter. ObjectID hex is tried first, then integer ids, then the
// plain string.
func identityFilter(id string) bson.M {
	if objectID, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": objectID}
	}
	if intID, err := strconv.Atoi(id); err == nil {
		return bson.M{"_id": intID}
	}
	return bson.M{"_id": id}
}

// Insert adds one document and returns its generated identity
func (m Mongo) Insert(ctx context.Context, target sampler.Target, doc map[string]interface{}) (string, error) {
	client, err := m.connect(ctx, target.URI)
	if err != nil {
		return "", err
	}
	defer client.Disconnect(ctx)

	collection := client.Database(target.Database).Collection(target.Collection)
	result, err := collection.InsertOne(ctx, bson.M(doc))
	if err != nil {
		return "", fmt.Errorf("insert into %s.%s: %w", target.Database, target.Collection, err)
	}
	if objectID, ok := result.InsertedID.(primitive.ObjectID); ok {
		return objectID.Hex(), nil
	}
	return fmt.Sprintf("%v", result.InsertedID), nil
}

// List returns one page of documents plus the total count
func (m Mongo) List(ctx context.Context, target sampler.Target, limit, skip int64) (Page, error) {
	if limit <= 0 {
		limit = 50
	}
	client, err := m.connect(ctx, target.URI)
	if err != nil {
		return Page{}, err
	}
	defer client.Disconnect(ctx)

	collection := client.Database(target.Database).Collection(target.Collection)
	total, err := collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return Page{}, fmt.Errorf("count %s.%s: %w", target.Database, target.Collection, err)
	}

	cursor, err := collection.Find(ctx, bson.M{}, options.Find().SetLimit(limit).SetSkip(skip))
	if err != nil {
		return Page{}, fmt.Errorf("list %s.%s: %w", target.Database, target.Collection, err)
	}
	defer cursor.Close(ctx)

	documents := []map[string]interface{}{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return Page{}, fmt.Errorf("decode document: %w", err)
		}
		if objectID, ok := doc["_id"].(primitive.ObjectID); ok {
			doc["_id"] = objectID.Hex()
		}
		documents = append(documents, doc)
	}

	return Page{
		Documents: documents,
		Total:     total,
		Limit:     limit,
		Skip:      skip,
		HasMore:   skip+int64(len(documents)) < total,
	}, nil
}

// Update replaces the document's fields with the submitted values
func (m Mongo) Update(ctx context.Context, target sampler.Target, id string, doc map[string]interface{}) error {
	client, err := m.connect(ctx, target.URI)
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	delete(doc, "_id") // the identity is immutable

	collection := client.Database(target.Database).Collection(target.Collection)
	result, err := collection.UpdateOne(ctx, identityFilter(id), bson.M{"$set": bson.M(doc)})
	if err != nil {
		return fmt.Errorf("update %s in %s.%s: %w", id, target.Database, target.Collection, err)
	}
	if result.MatchedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// Delete removes one document by identity
func (m Mongo) Delete(ctx context.Context, target sampler.Target, id string) error {
	client, err := m.connect(ctx, target.URI)
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	collection := client.Database(target.Database).Collection(target.Collection)
	result, err := collection.DeleteOne(ctx, identityFilter(id))
	if err != nil {
		return fmt.Errorf("delete %s from %s.%s: %w", id, target.Database, target.Collection, err)
	}
	if result.DeletedCount == 0 {
		return ErrDocumentNotFound
	}
	return nil
}
