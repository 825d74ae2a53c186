package search

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/davidschrooten/atlas-reconciler/config"
)

// RefreshDisabled is the marker value that turns off the periodic refresh
// for an index, used to bracket bulk operations.
const RefreshDisabled = "-1"

// settingsKey is where per-index settings live in the index internal store
var settingsKey = []byte("atlas-reconciler:settings")

// IndexSettings holds per-index tunables persisted inside the index itself
type IndexSettings struct {
	RefreshInterval string `json:"refresh_interval,omitempty"`
}

// Engine manages multiple Bleve indexes
type Engine struct {
	indexes        map[string]bleve.Index
	indexPath      string
	defaultRefresh string
	mutex          sync.RWMutex
	settings       map[string]IndexSettings
	setMutex       sync.RWMutex
	lastSync       map[string]time.Time // Track last reconcile time for each index
	syncMutex      sync.RWMutex         // Separate mutex for sync times
}

// NewEngine creates a new search engine
func NewEngine(cfg config.SearchConfig) (*Engine, error) {
	if err := os.MkdirAll(cfg.IndexPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	defaultRefresh := "30s"
	if cfg.FlushInterval > 0 {
		defaultRefresh = fmt.Sprintf("%ds", cfg.FlushInterval)
	}

	return &Engine{
		indexes:        make(map[string]bleve.Index),
		indexPath:      cfg.IndexPath,
		defaultRefresh: defaultRefresh,
		settings:       make(map[string]IndexSettings),
		lastSync:       make(map[string]time.Time),
	}, nil
}

// CreateIndex creates or opens a Bleve index based on configuration
func (e *Engine) CreateIndex(indexCfg config.IndexConfig) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	indexName := indexCfg.Name
	indexPath := filepath.Join(e.indexPath, indexName)

	// Check if index already exists
	if _, exists := e.indexes[indexName]; exists {
		return nil // Index already exists
	}

	// Create mapping based on configuration
	indexMapping := e.createMapping(indexCfg.Definition)

	// Try to open existing index first
	index, err := bleve.Open(indexPath)
	if err != nil {
		// Create new index if it doesn't exist
		index, err = bleve.New(indexPath, indexMapping)
		if err != nil {
			return fmt.Errorf("failed to create index %s: %w", indexName, err)
		}
	}

	e.indexes[indexName] = index

	// Restore persisted settings, falling back to the configured interval
	settings, err := loadSettings(index)
	if err != nil {
		return fmt.Errorf("failed to load settings for index %s: %w", indexName, err)
	}
	// Settings always carry a concrete refresh interval so that a later
	// restore has a real value to put back
	if settings.RefreshInterval == "" {
		settings.RefreshInterval = indexCfg.RefreshInterval
	}
	if settings.RefreshInterval == "" {
		settings.RefreshInterval = e.defaultRefresh
	}
	e.setMutex.Lock()
	e.settings[indexName] = settings
	e.setMutex.Unlock()

	return nil
}

// GetIndex returns the index for the given name
func (e *Engine) GetIndex(indexName string) (bleve.Index, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	index, exists := e.indexes[indexName]
	return index, exists
}

// IndexInfo represents information about an index
type IndexInfo struct {
	Name            string     `json:"name"`
	DocCount        uint64     `json:"docCount"`
	Status          string     `json:"status"`
	RefreshInterval string     `json:"refreshInterval,omitempty"`
	LastSync        *time.Time `json:"lastSync,omitempty"`
}

// ListIndexes returns information about all indexes
func (e *Engine) ListIndexes() ([]IndexInfo, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	indexes := make([]IndexInfo, 0, len(e.indexes))

	for name, index := range e.indexes {
		docCount, err := index.DocCount()
		if err != nil {
			// If we can't get doc count, set it to 0 and continue
			docCount = 0
		}

		indexInfo := IndexInfo{
			Name:     name,
			DocCount: docCount,
			Status:   "active",
		}

		e.setMutex.RLock()
		indexInfo.RefreshInterval = e.settings[name].RefreshInterval
		e.setMutex.RUnlock()

		// Get last sync time if available
		e.syncMutex.RLock()
		if lastSync, exists := e.lastSync[name]; exists {
			indexInfo.LastSync = &lastSync
		}
		e.syncMutex.RUnlock()

		indexes = append(indexes, indexInfo)
	}

	return indexes, nil
}

// RemoveIndex removes an index from memory and disk
func (e *Engine) RemoveIndex(indexName string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	index, exists := e.indexes[indexName]
	if !exists {
		return fmt.Errorf("index %s not found", indexName)
	}

	// Close index
	if err := index.Close(); err != nil {
		return fmt.Errorf("failed to close index %s: %w", indexName, err)
	}

	// Remove index from the map
	delete(e.indexes, indexName)

	// Remove settings and sync tracking
	e.setMutex.Lock()
	delete(e.settings, indexName)
	e.setMutex.Unlock()
	e.syncMutex.Lock()
	delete(e.lastSync, indexName)
	e.syncMutex.Unlock()

	// Delete the index directory
	indexPath := filepath.Join(e.indexPath, indexName)
	if err := os.RemoveAll(indexPath); err != nil {
		return fmt.Errorf("failed to remove index directory %s: %w", indexPath, err)
	}

	return nil
}

// CleanupIndexes removes indexes that are no longer in the configuration
func (e *Engine) CleanupIndexes(cfg *config.Config) {
	configuredIndexes := make(map[string]bool)
	for _, indexCfg := range cfg.Indexes {
		configuredIndexes[indexCfg.Name] = true
	}

	// Find indexes to remove
	var indexesToRemove []string
	e.mutex.RLock()
	for indexName := range e.indexes {
		if !configuredIndexes[indexName] {
			indexesToRemove = append(indexesToRemove, indexName)
		}
	}
	e.mutex.RUnlock()

	// Remove indexes (this will acquire its own locks)
	for _, indexName := range indexesToRemove {
		log.Printf("Removing index: %s", indexName)
		if err := e.RemoveIndex(indexName); err != nil {
			log.Printf("Failed to remove index %s: %v", indexName, err)
		}
	}
}

// IndexDocuments indexes multiple documents in a single batch
func (e *Engine) IndexDocuments(indexName string, docs []DocumentBatch) error {
	index, exists := e.GetIndex(indexName)
	if !exists {
		return fmt.Errorf("index %s not found", indexName)
	}

	batch := index.NewBatch()
	for _, docBatch := range docs {
		if err := batch.Index(docBatch.ID, docBatch.Doc); err != nil {
			return fmt.Errorf("failed to add document %s to batch: %w", docBatch.ID, err)
		}
	}

	return index.Batch(batch)
}

// DeleteDocuments removes documents from the index in a single batch and
// returns the number of deletions issued
func (e *Engine) DeleteDocuments(indexName string, ids []string) (int, error) {
	index, exists := e.GetIndex(indexName)
	if !exists {
		return 0, fmt.Errorf("index %s not found", indexName)
	}

	batch := index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}

	if err := index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to delete %d documents from index %s: %w", len(ids), indexName, err)
	}

	return len(ids), nil
}

// ScrollIDs streams the IDs of every document in the index to fn in pages
// of at most batchSize, ordered by document ID. Pagination is keyed on the
// last seen ID rather than an offset, so documents deleted while the
// scroll is running do not shift later pages. fn returning an error stops
// the scroll.
func (e *Engine) ScrollIDs(indexName string, batchSize int, fn func(ids []string) error) error {
	index, exists := e.GetIndex(indexName)
	if !exists {
		return fmt.Errorf("index %s not found", indexName)
	}

	if batchSize <= 0 {
		batchSize = 1000
	}

	var after []string
	for {
		searchReq := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), batchSize, 0, false)
		searchReq.SortBy([]string{"_id"})
		searchReq.SearchAfter = after

		searchResult, err := index.Search(searchReq)
		if err != nil {
			return fmt.Errorf("failed to scroll index %s: %w", indexName, err)
		}
		if len(searchResult.Hits) == 0 {
			return nil
		}

		ids := make([]string, 0, len(searchResult.Hits))
		for _, hit := range searchResult.Hits {
			ids = append(ids, hit.ID)
		}
		if err := fn(ids); err != nil {
			return err
		}

		after = []string{ids[len(ids)-1]}
	}
}

// Settings returns the current settings of an index
func (e *Engine) Settings(indexName string) (IndexSettings, error) {
	if _, exists := e.GetIndex(indexName); !exists {
		return IndexSettings{}, fmt.Errorf("index %s not found", indexName)
	}

	e.setMutex.RLock()
	defer e.setMutex.RUnlock()
	return e.settings[indexName], nil
}

// PutSettings applies a partial settings update to an index and persists
// the merged settings in the index internal store
func (e *Engine) PutSettings(indexName string, partial IndexSettings) error {
	index, exists := e.GetIndex(indexName)
	if !exists {
		return fmt.Errorf("index %s not found", indexName)
	}

	e.setMutex.Lock()
	defer e.setMutex.Unlock()

	settings := e.settings[indexName]
	if partial.RefreshInterval != "" {
		settings.RefreshInterval = partial.RefreshInterval
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings for index %s: %w", indexName, err)
	}
	if err := index.SetInternal(settingsKey, data); err != nil {
		return fmt.Errorf("failed to persist settings for index %s: %w", indexName, err)
	}

	e.settings[indexName] = settings
	return nil
}

// loadSettings reads persisted settings from the index internal store
func loadSettings(index bleve.Index) (IndexSettings, error) {
	var settings IndexSettings

	data, err := index.GetInternal(settingsKey)
	if err != nil {
		return settings, err
	}
	if len(data) == 0 {
		return settings, nil
	}

	if err := json.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("failed to parse persisted settings: %w", err)
	}
	return settings, nil
}

// UpdateLastSync records the last reconcile time for an index
func (e *Engine) UpdateLastSync(indexName string, syncTime time.Time) {
	e.syncMutex.Lock()
	defer e.syncMutex.Unlock()
	e.lastSync[indexName] = syncTime
}

// Close closes all indexes
func (e *Engine) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var errors []error
	for name, index := range e.indexes {
		if err := index.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close index %s: %w", name, err))
		}
	}
	e.indexes = make(map[string]bleve.Index)

	if len(errors) > 0 {
		return fmt.Errorf("errors closing indexes: %v", errors)
	}
	return nil
}

// createMapping creates a Bleve mapping from configuration
func (e *Engine) createMapping(def config.IndexDefinition) mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	if def.Mappings.Dynamic {
		indexMapping.DefaultMapping.Dynamic = true
		// Enable storing all fields by default for dynamic mapping
		indexMapping.StoreDynamic = true
	}

	// Configure field mappings
	for _, fieldCfg := range def.Mappings.Fields {
		fieldMapping := e.createFieldMapping(fieldCfg)
		indexMapping.DefaultMapping.AddFieldMappingsAt(fieldCfg.Name, fieldMapping)
	}

	return indexMapping
}

// createFieldMapping creates a field mapping from configuration
func (e *Engine) createFieldMapping(cfg config.FieldConfig) *mapping.FieldMapping {
	fieldMapping := bleve.NewTextFieldMapping()

	switch cfg.Type {
	case "text":
		fieldMapping = bleve.NewTextFieldMapping()
	case "keyword":
		fieldMapping = bleve.NewKeywordFieldMapping()
	case "numeric":
		fieldMapping = bleve.NewNumericFieldMapping()
	case "date":
		fieldMapping = bleve.NewDateTimeFieldMapping()
	case "boolean":
		fieldMapping = bleve.NewBooleanFieldMapping()
	}

	if cfg.Analyzer != "" {
		fieldMapping.Analyzer = cfg.Analyzer
	}

	// Always store field values so they can be retrieved later
	fieldMapping.Store = true

	return fieldMapping
}
