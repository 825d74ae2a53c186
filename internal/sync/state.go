package sync

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Reconcile status values for an index
const (
	StatusIdle      = "idle"
	StatusImporting = "importing"
	StatusCleaning  = "cleaning"
)

// IndexState represents the reconcile state for a single index
type IndexState struct {
	IndexName        string    `json:"indexName"`
	Status           string    `json:"status"`
	LastRunID        string    `json:"lastRunId,omitempty"`
	LastImportTime   time.Time `json:"lastImportTime,omitempty"`
	LastCleanupTime  time.Time `json:"lastCleanupTime,omitempty"`
	DocumentsWritten int64     `json:"documentsWritten"`
	DocumentsDeleted int64     `json:"documentsDeleted"`
	FailureCount     int64     `json:"failureCount"`
}

// ReconcileState manages persistent state for all indexes
type ReconcileState struct {
	Indexes   map[string]*IndexState `json:"indexes"`
	LastSaved time.Time              `json:"lastSaved"`
}

// StateManager handles loading and saving reconcile state
type StateManager struct {
	filePath string
	state    *ReconcileState
	mutex    sync.RWMutex
}

// NewStateManager creates a new reconcile state manager
func NewStateManager(filePath string) *StateManager {
	return &StateManager{
		filePath: filePath,
		state: &ReconcileState{
			Indexes: make(map[string]*IndexState),
		},
	}
}

// Load loads the reconcile state from disk
func (sm *StateManager) Load() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	// Check if file exists
	if _, err := os.Stat(sm.filePath); os.IsNotExist(err) {
		log.Printf("Reconcile state file not found, starting fresh: %s", sm.filePath)
		return nil
	}

	// Read file
	data, err := os.ReadFile(sm.filePath)
	if err != nil {
		return fmt.Errorf("failed to read reconcile state file: %w", err)
	}

	// Parse JSON
	if err := json.Unmarshal(data, sm.state); err != nil {
		return fmt.Errorf("failed to parse reconcile state file: %w", err)
	}

	log.Printf("Loaded reconcile state for %d indexes from %s", len(sm.state.Indexes), sm.filePath)
	return nil
}

// Save saves the current reconcile state to disk
func (sm *StateManager) Save() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.state.LastSaved = time.Now()

	// Marshal to JSON
	data, err := json.MarshalIndent(sm.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal reconcile state: %w", err)
	}

	// Write to temporary file first
	tempFile := sm.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp reconcile state file: %w", err)
	}

	// Atomic move
	if err := os.Rename(tempFile, sm.filePath); err != nil {
		return fmt.Errorf("failed to move reconcile state file: %w", err)
	}

	return nil
}

// get returns the state for an index, creating it if needed.
// Caller must hold the write lock.
func (sm *StateManager) get(indexName string) *IndexState {
	state, exists := sm.state.Indexes[indexName]
	if !exists {
		state = &IndexState{IndexName: indexName, Status: StatusIdle}
		sm.state.Indexes[indexName] = state
	}
	return state
}

// GetIndexState gets a copy of the reconcile state for an index
func (sm *StateManager) GetIndexState(indexName string) *IndexState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	if state, exists := sm.state.Indexes[indexName]; exists {
		stateCopy := *state
		return &stateCopy
	}
	return nil
}

// SetStatus updates the reconcile status for an index
func (sm *StateManager) SetStatus(indexName, status string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.get(indexName).Status = status
}

// RecordImport records a completed import run for an index
func (sm *StateManager) RecordImport(indexName, runID string, written, failed int64) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	state := sm.get(indexName)
	state.LastRunID = runID
	state.LastImportTime = time.Now()
	state.DocumentsWritten += written
	state.FailureCount += failed
	state.Status = StatusIdle
}

// RecordCleanup records a completed clean-up run for an index
func (sm *StateManager) RecordCleanup(indexName, runID string, deleted int64) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	state := sm.get(indexName)
	state.LastRunID = runID
	state.LastCleanupTime = time.Now()
	state.DocumentsDeleted += deleted
	state.Status = StatusIdle
}

// IncrementFailures increments the failure counter for an index
func (sm *StateManager) IncrementFailures(indexName string, count int64) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	sm.get(indexName).FailureCount += count
}

// GetAllIndexStates returns a copy of all index states
func (sm *StateManager) GetAllIndexStates() map[string]*IndexState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	// Return a copy to avoid race conditions
	result := make(map[string]*IndexState)
	for key, state := range sm.state.Indexes {
		stateCopy := *state
		result[key] = &stateCopy
	}
	return result
}

// RemoveIndexState removes an index state (for cleanup)
func (sm *StateManager) RemoveIndexState(indexName string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	delete(sm.state.Indexes, indexName)
}

// StartPeriodicSave starts a goroutine that periodically saves state
func (sm *StateManager) StartPeriodicSave(interval time.Duration, stopCh <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sm.Save(); err != nil {
				log.Printf("Failed to save reconcile state: %v", err)
			}
		case <-stopCh:
			// Final save before stopping
			if err := sm.Save(); err != nil {
				log.Printf("Failed to save reconcile state on shutdown: %v", err)
			}
			return
		}
	}
}
