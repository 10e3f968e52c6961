package sampler

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/unipanel/backend/core/logger"
	"github.com/unipanel/backend/core/schema"
)

// Mongo samples documents directly from the target MongoDB collection.
// Connections are made per call with the target's URI: the panel fronts
// many unrelated stores, there is nothing to pool across projects.
type Mongo struct {
	// ConnectTimeout bounds connection setup, defaults to 10s
	ConnectTimeout time.Duration
}

// connect dials the target store and pings it
func connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

// Sample reads up to the target's sample size of documents and returns
// their per-field raw statistics.
func (m Mongo) Sample(ctx context.Context, target Target) (map[string]schema.RawField, error) {
	rlog := logger.FromContext(ctx)

	client, err := connect(ctx, target.URI, m.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %s", ErrSamplingFailed, target.Database, err)
	}
	defer client.Disconnect(ctx)

	collection := client.Database(target.Database).Collection(target.Collection)
	cursor, err := collection.Find(ctx, bson.M{}, options.Find().SetLimit(target.sampleSize()))
	if err != nil {
		return nil, fmt.Errorf("%w: find in %s.%s: %s", ErrSamplingFailed, target.Database, target.Collection, err)
	}
	defer cursor.Close(ctx)

	var documents []bson.M
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, fmt.Errorf("%w: read samples from %s.%s: %s", ErrSamplingFailed, target.Database, target.Collection, err)
	}

	rlog.Debugln("sampled", len(documents), "documents from", target.Database+"."+target.Collection)
	return Analyze(documents), nil
}
