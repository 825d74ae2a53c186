package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidschrooten/atlas-reconciler/config"
	"github.com/davidschrooten/atlas-reconciler/internal/executor"
	"github.com/davidschrooten/atlas-reconciler/internal/mongodb"
	"github.com/davidschrooten/atlas-reconciler/internal/scheduler"
	"github.com/davidschrooten/atlas-reconciler/internal/search"
	syncstate "github.com/davidschrooten/atlas-reconciler/internal/sync"
)

// ErrIndexNotFound is returned for index names not present in the
// configuration
var ErrIndexNotFound = errors.New("index not found")

// RunReport summarizes the outcome of one reconcile run
type RunReport struct {
	RunID      string    `json:"runId"`
	Index      string    `json:"index"`
	Operation  string    `json:"operation"`
	Written    int       `json:"written"`
	Deleted    int       `json:"deleted"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// driverEntry serializes runs per index; a driver is single-writer
type driverEntry struct {
	driver *Driver
	mutex  sync.Mutex
}

// Service manages reconcile operations for all configured indexes
type Service struct {
	mongoClient *mongodb.Client
	engine      *search.Engine
	config      *config.Config
	state       *syncstate.StateManager
	pool        *executor.Pool
	drivers     map[string]*driverEntry
	wg          sync.WaitGroup
	stopCh      chan struct{}
}

// NewService creates a new reconciler service
func NewService(mongoClient *mongodb.Client, engine *search.Engine, cfg *config.Config) (*Service, error) {
	// Initialize reconcile state manager
	state := syncstate.NewStateManager(cfg.Reconcile.StatePath)
	if err := state.Load(); err != nil {
		return nil, fmt.Errorf("failed to load reconcile state: %w", err)
	}

	service := &Service{
		mongoClient: mongoClient,
		engine:      engine,
		config:      cfg,
		state:       state,
		pool:        executor.New(cfg.Reconcile.WorkerCount, cfg.Reconcile.QueueSize),
		drivers:     make(map[string]*driverEntry),
		stopCh:      make(chan struct{}),
	}

	backoff := scheduler.Backoff{
		Interval:    time.Duration(cfg.Reconcile.BackoffIntervalMs) * time.Millisecond,
		MaxAttempts: cfg.Reconcile.MaxSubmitAttempts,
	}

	// Create indexes and drivers based on configuration
	for _, indexCfg := range cfg.Indexes {
		if err := engine.CreateIndex(indexCfg); err != nil {
			return nil, fmt.Errorf("failed to create index %s: %w", indexCfg.Name, err)
		}

		name := indexCfg.Name
		hooks := scheduler.Hooks{
			OnProgress: func(executor.Result) {
				engine.UpdateLastSync(name, time.Now())
			},
			OnFailure: func(err error) {
				log.Printf("Work unit failed for index %s: %v", name, err)
				state.IncrementFailures(name, 1)
			},
		}

		source := newMongoSource(mongoClient, indexCfg.Collection, indexCfg.IDField, cfg.Reconcile.BatchSize)
		index := &engineIndex{engine: engine, name: name}
		sched := scheduler.New(service.pool, hooks, backoff)

		service.drivers[name] = &driverEntry{
			driver: NewDriver(name, source, index, sched, cfg.Reconcile.BatchSize),
		}
	}

	// Cleanup indexes that are no longer in configuration
	engine.CleanupIndexes(cfg)

	return service, nil
}

// Start begins the background routines of the service
func (s *Service) Start(ctx context.Context) error {
	log.Println("Starting reconciler service...")

	// Start periodic state saving
	s.wg.Add(1)
	go s.state.StartPeriodicSave(30*time.Second, s.stopCh, &s.wg)

	// Start refresh routine
	s.wg.Add(1)
	go s.refreshRoutine(ctx)

	return nil
}

// Stop stops the service and waits for background routines
func (s *Service) Stop() {
	log.Println("Stopping reconciler service...")
	close(s.stopCh)
	s.wg.Wait()
	s.pool.Close()

	log.Println("Reconciler service stopped")
}

// RunImport performs a full import of the source collection into the index
func (s *Service) RunImport(ctx context.Context, indexName string) (RunReport, error) {
	entry, exists := s.drivers[indexName]
	if !exists {
		return RunReport{}, fmt.Errorf("index %s: %w", indexName, ErrIndexNotFound)
	}
	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	report := RunReport{
		RunID:     uuid.NewString(),
		Index:     indexName,
		Operation: "import",
		StartedAt: time.Now(),
	}
	s.state.SetStatus(indexName, syncstate.StatusImporting)
	log.Printf("Starting import for index %s (run %s)", indexName, report.RunID)

	total, err := entry.driver.Import(ctx)
	if err != nil {
		s.state.SetStatus(indexName, syncstate.StatusIdle)
		return RunReport{}, fmt.Errorf("import failed for index %s: %w", indexName, err)
	}

	s.state.RecordImport(indexName, report.RunID, int64(total.Processed), int64(total.Failed))
	s.engine.UpdateLastSync(indexName, time.Now())

	report.Written = total.Processed
	report.Failed = total.Failed
	report.FinishedAt = time.Now()
	log.Printf("Import completed for index %s: %d written, %d failed", indexName, report.Written, report.Failed)
	return report, nil
}

// RunCleanup removes index entries whose source document disappeared
func (s *Service) RunCleanup(ctx context.Context, indexName string) (RunReport, error) {
	entry, exists := s.drivers[indexName]
	if !exists {
		return RunReport{}, fmt.Errorf("index %s: %w", indexName, ErrIndexNotFound)
	}
	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	report := RunReport{
		RunID:     uuid.NewString(),
		Index:     indexName,
		Operation: "cleanup",
		StartedAt: time.Now(),
	}
	s.state.SetStatus(indexName, syncstate.StatusCleaning)
	log.Printf("Starting clean-up for index %s (run %s)", indexName, report.RunID)

	total, err := entry.driver.CleanUp(ctx)
	if err != nil {
		s.state.SetStatus(indexName, syncstate.StatusIdle)
		return RunReport{}, fmt.Errorf("clean-up failed for index %s: %w", indexName, err)
	}

	s.state.RecordCleanup(indexName, report.RunID, int64(total.Failed))
	s.engine.UpdateLastSync(indexName, time.Now())

	report.Deleted = total.Failed
	report.FinishedAt = time.Now()
	log.Printf("Clean-up completed for index %s: %d stale documents removed", indexName, report.Deleted)
	return report, nil
}

// Estimate returns the approximate source document count for an index
func (s *Service) Estimate(ctx context.Context, indexName string) (int64, error) {
	entry, exists := s.drivers[indexName]
	if !exists {
		return 0, fmt.Errorf("index %s: %w", indexName, ErrIndexNotFound)
	}

	return entry.driver.Estimate(ctx)
}

// ListIndexes returns information about all managed indexes
func (s *Service) ListIndexes() ([]search.IndexInfo, error) {
	return s.engine.ListIndexes()
}

// States returns the reconcile states for all indexes
func (s *Service) States() map[string]*syncstate.IndexState {
	return s.state.GetAllIndexStates()
}

// PoolStats returns executor counters for observability
func (s *Service) PoolStats() executor.Stats {
	return s.pool.Stats()
}

// refreshRoutine drives the refresh cycle. Each index follows its own
// persisted RefreshInterval cadence; "-1" keeps an index out of the cycle,
// which is what bulk imports set while they run.
func (s *Service) refreshRoutine(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := make(map[string]time.Time)
	for {
		select {
		case now := <-ticker.C:
			s.refreshDueIndexes(now, last)

		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

// refreshDueIndexes bumps the sync time of every index whose refresh
// cadence has elapsed. Bleve persists batches itself, so refresh here is
// bookkeeping rather than a forced flush.
func (s *Service) refreshDueIndexes(now time.Time, last map[string]time.Time) {
	for _, indexCfg := range s.config.Indexes {
		name := indexCfg.Name
		settings, err := s.engine.Settings(name)
		if err != nil {
			log.Printf("Failed to read settings for index %s: %v", name, err)
			continue
		}

		cadence, enabled := refreshCadence(settings.RefreshInterval)
		if !enabled {
			continue
		}
		if prev, seen := last[name]; seen && now.Sub(prev) < cadence {
			continue
		}

		s.engine.UpdateLastSync(name, now)
		last[name] = now
	}
}

// refreshCadence parses a persisted refresh interval. Disabled or
// unparseable values take the index out of the refresh cycle.
func refreshCadence(value string) (time.Duration, bool) {
	if value == "" || value == search.RefreshDisabled {
		return 0, false
	}

	cadence, err := time.ParseDuration(value)
	if err != nil || cadence <= 0 {
		return 0, false
	}
	return cadence, true
}
