package reconciler

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/davidschrooten/atlas-reconciler/internal/mongodb"
	"github.com/davidschrooten/atlas-reconciler/internal/search"
)

// mongoSource adapts a MongoDB collection to the Source capability
type mongoSource struct {
	client     *mongodb.Client
	collection string
	idField    string
	batchSize  int
}

func newMongoSource(client *mongodb.Client, collection, idField string, batchSize int) *mongoSource {
	if idField == "" {
		idField = "_id"
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	return &mongoSource{
		client:     client,
		collection: collection,
		idField:    idField,
		batchSize:  batchSize,
	}
}

// StreamBatches walks the whole collection and hands documents to fn in
// batches. Each batch is a fresh slice; callers may hold on to it past
// the callback.
func (s *mongoSource) StreamBatches(ctx context.Context, fn func(docs []search.DocumentBatch) error) error {
	cursor, err := s.client.FindDocuments(ctx, s.collection, bson.M{}, 0)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	batch := make([]search.DocumentBatch, 0, s.batchSize)
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			log.Printf("Failed to decode document: %v", err)
			continue
		}

		docID, ok := extractID(doc, s.idField)
		if !ok {
			log.Printf("Document missing ID field '%s', skipping", s.idField)
			continue
		}

		batch = append(batch, search.DocumentBatch{ID: docID, Doc: doc})
		if len(batch) >= s.batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]search.DocumentBatch, 0, s.batchSize)
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("cursor error while streaming %s: %w", s.collection, err)
	}

	// Hand over remaining documents
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func (s *mongoSource) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	// Scrolled index IDs carry the configured ID field's values, so the
	// existence check must match on that same field
	return s.client.ExistingIDs(ctx, s.collection, s.idField, ids)
}

func (s *mongoSource) EstimatedCount(ctx context.Context) (int64, error) {
	return s.client.EstimatedCount(ctx, s.collection)
}

// extractID converts the document's ID field to the string form used by
// the index, and makes sure _id carries it as well
func extractID(doc bson.M, idField string) (string, bool) {
	idVal, exists := doc[idField]
	if !exists {
		return "", false
	}

	var id string
	if objectID, ok := idVal.(primitive.ObjectID); ok {
		id = objectID.Hex()
	} else {
		// Keep other ID types as-is (string, int, etc.)
		id = fmt.Sprintf("%v", idVal)
	}

	doc[idField] = id
	if idField != "_id" {
		doc["_id"] = id
	}
	return id, true
}

// engineIndex binds an engine to a single index name, satisfying the
// Index capability
type engineIndex struct {
	engine search.SearchEngine
	name   string
}

func (i *engineIndex) IndexDocuments(docs []search.DocumentBatch) error {
	return i.engine.IndexDocuments(i.name, docs)
}

func (i *engineIndex) DeleteDocuments(ids []string) (int, error) {
	return i.engine.DeleteDocuments(i.name, ids)
}

func (i *engineIndex) ScrollIDs(batchSize int, fn func(ids []string) error) error {
	return i.engine.ScrollIDs(i.name, batchSize, fn)
}

func (i *engineIndex) Settings() (search.IndexSettings, error) {
	return i.engine.Settings(i.name)
}

func (i *engineIndex) PutSettings(partial search.IndexSettings) error {
	return i.engine.PutSettings(i.name, partial)
}
