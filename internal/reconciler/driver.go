package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidschrooten/atlas-reconciler/internal/executor"
	"github.com/davidschrooten/atlas-reconciler/internal/scheduler"
	"github.com/davidschrooten/atlas-reconciler/internal/search"
)

// Source is the authoritative data store backing one index
type Source interface {
	// StreamBatches passes every document of the collection to fn in
	// batches of at most the configured batch size
	StreamBatches(ctx context.Context, fn func(docs []search.DocumentBatch) error) error

	// ExistingIDs reports which of the given IDs still exist in the store
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)

	// EstimatedCount returns an approximate document count (inexact)
	EstimatedCount(ctx context.Context) (int64, error)
}

// Index is the mutation surface of one search index
type Index interface {
	IndexDocuments(docs []search.DocumentBatch) error
	DeleteDocuments(ids []string) (int, error)
	ScrollIDs(batchSize int, fn func(ids []string) error) error
	Settings() (search.IndexSettings, error)
	PutSettings(partial search.IndexSettings) error
}

// Driver reconciles a single index with its source. A driver must only be
// run from one goroutine at a time; its scheduler is single-writer.
type Driver struct {
	name      string
	source    Source
	index     Index
	sched     *scheduler.Scheduler
	batchSize int
}

// NewDriver creates a driver for one index/source pair
func NewDriver(name string, source Source, index Index, sched *scheduler.Scheduler, batchSize int) *Driver {
	if batchSize <= 0 {
		batchSize = 1000
	}

	return &Driver{
		name:      name,
		source:    source,
		index:     index,
		sched:     sched,
		batchSize: batchSize,
	}
}

// Import bulk-loads every source document into the index. Refresh is
// disabled for the duration of the load and restored afterwards; a restore
// failure is returned even when the import itself succeeded.
func (d *Driver) Import(ctx context.Context) (executor.Result, error) {
	previous, err := d.pauseRefresh()
	if err != nil {
		return executor.Result{}, err
	}

	total, runErr := d.runImport(ctx)

	if err := d.restoreRefresh(previous); err != nil {
		if runErr != nil {
			return executor.Result{}, errors.Join(runErr, err)
		}
		return executor.Result{}, err
	}

	return total, runErr
}

func (d *Driver) runImport(ctx context.Context) (executor.Result, error) {
	d.sched.Reset()

	streamErr := d.source.StreamBatches(ctx, func(docs []search.DocumentBatch) error {
		batch := docs
		return d.sched.Submit(func() (executor.Result, error) {
			if err := d.index.IndexDocuments(batch); err != nil {
				return executor.Result{}, fmt.Errorf("failed to index batch of %d documents: %w", len(batch), err)
			}
			return executor.Result{Processed: len(batch)}, nil
		})
	})
	if streamErr != nil {
		// Units submitted before the failure must still resolve
		d.sched.WaitAll()
		return executor.Result{}, fmt.Errorf("failed to stream documents for index %s: %w", d.name, streamErr)
	}

	return d.sched.WaitAll()
}

// CleanUp removes index entries whose source document no longer exists.
// Deletions are counted in the Failed slot of the aggregate, mirroring
// the (written, failed) shape of import units.
func (d *Driver) CleanUp(ctx context.Context) (executor.Result, error) {
	d.sched.Reset()

	scrollErr := d.index.ScrollIDs(d.batchSize, func(ids []string) error {
		existing, err := d.source.ExistingIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("existence query failed for index %s: %w", d.name, err)
		}

		stale := make([]string, 0)
		for _, id := range ids {
			if !existing[id] {
				stale = append(stale, id)
			}
		}
		if len(stale) == 0 {
			// Nothing to delete for this batch, skip scheduling
			return nil
		}

		return d.sched.Submit(func() (executor.Result, error) {
			deleted, err := d.index.DeleteDocuments(stale)
			if err != nil {
				return executor.Result{}, fmt.Errorf("failed to delete %d stale documents: %w", len(stale), err)
			}
			return executor.Result{Failed: deleted}, nil
		})
	})
	if scrollErr != nil {
		d.sched.WaitAll()
		return executor.Result{}, scrollErr
	}

	return d.sched.WaitAll()
}

// Estimate returns the approximate number of source documents
func (d *Driver) Estimate(ctx context.Context) (int64, error) {
	return d.source.EstimatedCount(ctx)
}

// pauseRefresh disables the index refresh and returns the prior interval
func (d *Driver) pauseRefresh() (string, error) {
	settings, err := d.index.Settings()
	if err != nil {
		return "", fmt.Errorf("failed to read settings for index %s: %w", d.name, err)
	}

	if err := d.index.PutSettings(search.IndexSettings{RefreshInterval: search.RefreshDisabled}); err != nil {
		return "", fmt.Errorf("failed to disable refresh for index %s: %w", d.name, err)
	}

	return settings.RefreshInterval, nil
}

// restoreRefresh puts back the refresh interval captured by pauseRefresh
func (d *Driver) restoreRefresh(interval string) error {
	if interval == "" {
		interval = search.RefreshDisabled
	}
	if err := d.index.PutSettings(search.IndexSettings{RefreshInterval: interval}); err != nil {
		return fmt.Errorf("failed to restore refresh interval for index %s: %w", d.name, err)
	}
	return nil
}
