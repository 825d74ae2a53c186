package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davidschrooten/atlas-reconciler/config"
)

// Client wraps MongoDB client with additional functionality
type Client struct {
	client   *mongo.Client
	database string
	timeout  time.Duration
}

// NewClient creates a new MongoDB client
func NewClient(cfg config.MongoDBConfig) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeout)*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.GetMongoURI())

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client:   client,
		database: cfg.Database,
		timeout:  time.Duration(cfg.Timeout) * time.Second,
	}, nil
}

// Disconnect closes the MongoDB connection
func (c *Client) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// Database returns the configured database
func (c *Client) Database() *mongo.Database {
	return c.client.Database(c.database)
}

// Collection returns a collection from the configured database
func (c *Client) Collection(name string) *mongo.Collection {
	return c.Database().Collection(name)
}

// FindDocuments retrieves documents from a collection with optional filter
func (c *Client) FindDocuments(ctx context.Context, collection string, filter bson.M, limit int64) (*mongo.Cursor, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}

	// Optimize cursor for bulk operations
	opts.SetBatchSize(1000)       // Fetch more documents per round trip
	opts.SetNoCursorTimeout(true) // Prevent cursor timeout for large datasets

	cursor, err := c.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}

	return cursor, nil
}

// ExistingIDs checks which of the given document IDs are present in the
// collection, matched on the given field ("_id" when empty). The result
// maps each found ID back to the string form the index uses.
func (c *Client) ExistingIDs(ctx context.Context, collection, field string, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	if field == "" {
		field = "_id"
	}

	filter := existenceFilter(field, ids)
	opts := options.Find().SetProjection(bson.M{field: 1})

	cursor, err := c.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing IDs: %w", err)
	}
	defer cursor.Close(ctx)

	existing := make(map[string]bool, len(ids))
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode ID document: %w", err)
		}
		existing[idToString(doc[field])] = true
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error while reading existing IDs: %w", err)
	}

	return existing, nil
}

// existenceFilter builds the $in filter for an existence check on field.
// IDs that parse as ObjectIDs are matched both as ObjectIDs and as their
// hex string form, since a custom ID field may store either; everything
// else is matched as-is.
func existenceFilter(field string, ids []string) bson.M {
	values := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if objectID, err := primitive.ObjectIDFromHex(id); err == nil {
			values = append(values, objectID, id)
			continue
		}
		values = append(values, id)
	}
	return bson.M{field: bson.M{"$in": values}}
}

// EstimatedCount returns an approximate document count for the collection,
// sourced from collection metadata. The value is inexact.
func (c *Client) EstimatedCount(ctx context.Context, collection string) (int64, error) {
	count, err := c.Collection(collection).EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate document count: %w", err)
	}

	return count, nil
}

// idToString converts a document _id to the string form used by the index
func idToString(id interface{}) string {
	if objectID, ok := id.(primitive.ObjectID); ok {
		return objectID.Hex()
	}
	return fmt.Sprintf("%v", id)
}
