package search

import (
	"time"

	"github.com/davidschrooten/atlas-reconciler/config"
)

// SearchEngine defines the interface for search engine operations
// This interface allows for easy mocking and testing
type SearchEngine interface {
	// Index management
	CreateIndex(indexCfg config.IndexConfig) error
	ListIndexes() ([]IndexInfo, error)
	RemoveIndex(indexName string) error
	CleanupIndexes(cfg *config.Config)

	// Document operations
	IndexDocuments(indexName string, docs []DocumentBatch) error
	DeleteDocuments(indexName string, ids []string) (int, error)
	ScrollIDs(indexName string, batchSize int, fn func(ids []string) error) error

	// Settings operations
	Settings(indexName string) (IndexSettings, error)
	PutSettings(indexName string, partial IndexSettings) error

	// Sync tracking
	UpdateLastSync(indexName string, syncTime time.Time)

	// Lifecycle
	Close() error
}

// DocumentBatch represents a document for bulk indexing
type DocumentBatch struct {
	ID  string                 `json:"id"`
	Doc map[string]interface{} `json:"doc"`
}
