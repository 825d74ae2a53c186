package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/davidschrooten/atlas-reconciler/internal/executor"
	"github.com/davidschrooten/atlas-reconciler/internal/scheduler"
	"github.com/davidschrooten/atlas-reconciler/internal/search"
)

// fakeSource implements Source for testing
type fakeSource struct {
	batches   [][]search.DocumentBatch
	existing  map[string]bool
	estimate  int64
	streamErr error
	existErr  error

	mutex      sync.Mutex
	existCalls [][]string
}

func (f *fakeSource) StreamBatches(ctx context.Context, fn func(docs []search.DocumentBatch) error) error {
	if f.streamErr != nil {
		return f.streamErr
	}
	for _, batch := range f.batches {
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	f.mutex.Lock()
	f.existCalls = append(f.existCalls, append([]string(nil), ids...))
	f.mutex.Unlock()

	if f.existErr != nil {
		return nil, f.existErr
	}
	result := make(map[string]bool)
	for _, id := range ids {
		if f.existing[id] {
			result[id] = true
		}
	}
	return result, nil
}

func (f *fakeSource) EstimatedCount(ctx context.Context) (int64, error) {
	return f.estimate, nil
}

// fakeIndex implements Index for testing. Mutation methods run on worker
// goroutines, so they are mutex-guarded.
type fakeIndex struct {
	scrollPages [][]string
	settings    search.IndexSettings
	indexErr    error
	deleteErr   error
	putErrOn    int // 1-based PutSettings call number that fails, 0 for never

	mutex      sync.Mutex
	indexed    [][]search.DocumentBatch
	deleted    [][]string
	putHistory []string
	putCalls   int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{settings: search.IndexSettings{RefreshInterval: "30s"}}
}

func (f *fakeIndex) IndexDocuments(docs []search.DocumentBatch) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed = append(f.indexed, docs)
	return nil
}

func (f *fakeIndex) DeleteDocuments(ids []string) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deleted = append(f.deleted, append([]string(nil), ids...))
	return len(ids), nil
}

func (f *fakeIndex) ScrollIDs(batchSize int, fn func(ids []string) error) error {
	for _, page := range f.scrollPages {
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeIndex) Settings() (search.IndexSettings, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.settings, nil
}

func (f *fakeIndex) PutSettings(partial search.IndexSettings) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.putCalls++
	if f.putErrOn > 0 && f.putCalls == f.putErrOn {
		return errors.New("settings update rejected")
	}
	if partial.RefreshInterval != "" {
		f.settings.RefreshInterval = partial.RefreshInterval
	}
	f.putHistory = append(f.putHistory, f.settings.RefreshInterval)
	return nil
}

func newTestDriver(t *testing.T, name string, source Source, index Index) *Driver {
	t.Helper()

	pool := executor.New(2, 8)
	t.Cleanup(pool.Close)
	sched := scheduler.New(pool, scheduler.Hooks{}, scheduler.DefaultBackoff())
	return NewDriver(name, source, index, sched, 4)
}

func makeDocs(prefix string, n int) []search.DocumentBatch {
	docs := make([]search.DocumentBatch, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, search.DocumentBatch{
			ID:  fmt.Sprintf("%s-%d", prefix, i),
			Doc: map[string]interface{}{"n": i},
		})
	}
	return docs
}

func TestDriver_ImportAggregates(t *testing.T) {
	source := &fakeSource{
		batches: [][]search.DocumentBatch{makeDocs("a", 5), makeDocs("b", 3)},
	}
	index := newFakeIndex()
	driver := newTestDriver(t, "products", source, index)

	total, err := driver.Import(context.Background())
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if total.Processed != 8 {
		t.Errorf("Expected 8 documents written, got %d", total.Processed)
	}
	if total.Failed != 0 {
		t.Errorf("Expected 0 failures, got %d", total.Failed)
	}

	index.mutex.Lock()
	defer index.mutex.Unlock()
	written := 0
	for _, batch := range index.indexed {
		written += len(batch)
	}
	if written != 8 {
		t.Errorf("Expected index to receive 8 documents, got %d", written)
	}
}

func TestDriver_ImportPausesAndRestoresRefresh(t *testing.T) {
	source := &fakeSource{batches: [][]search.DocumentBatch{makeDocs("a", 2)}}
	index := newFakeIndex()
	driver := newTestDriver(t, "products", source, index)

	if _, err := driver.Import(context.Background()); err != nil {
		t.Fatalf("Import returned error: %v", err)
	}

	index.mutex.Lock()
	defer index.mutex.Unlock()
	if len(index.putHistory) != 2 {
		t.Fatalf("Expected 2 settings updates (pause, restore), got %d", len(index.putHistory))
	}
	if index.putHistory[0] != search.RefreshDisabled {
		t.Errorf("Expected refresh to be disabled first, got '%s'", index.putHistory[0])
	}
	if index.putHistory[1] != "30s" {
		t.Errorf("Expected refresh restored to '30s', got '%s'", index.putHistory[1])
	}
	if index.settings.RefreshInterval != "30s" {
		t.Errorf("Expected final refresh interval '30s', got '%s'", index.settings.RefreshInterval)
	}
}

func TestDriver_ImportRestoreFailureSurfaces(t *testing.T) {
	source := &fakeSource{batches: [][]search.DocumentBatch{makeDocs("a", 2)}}
	index := newFakeIndex()
	index.putErrOn = 2 // the restore call
	driver := newTestDriver(t, "products", source, index)

	if _, err := driver.Import(context.Background()); err == nil {
		t.Fatal("Expected restore failure to surface even though the import succeeded")
	}
}

func TestDriver_ImportUnitFailurePropagatesAndRestores(t *testing.T) {
	source := &fakeSource{batches: [][]search.DocumentBatch{makeDocs("a", 2)}}
	index := newFakeIndex()
	index.indexErr = errors.New("bulk write rejected")
	driver := newTestDriver(t, "products", source, index)

	if _, err := driver.Import(context.Background()); err == nil {
		t.Fatal("Expected unit failure to propagate")
	}

	index.mutex.Lock()
	defer index.mutex.Unlock()
	if index.settings.RefreshInterval != "30s" {
		t.Errorf("Expected refresh restored after failure, got '%s'", index.settings.RefreshInterval)
	}
}

func TestDriver_ImportStreamFailurePropagates(t *testing.T) {
	streamErr := errors.New("cursor died")
	source := &fakeSource{streamErr: streamErr}
	index := newFakeIndex()
	driver := newTestDriver(t, "products", source, index)

	if _, err := driver.Import(context.Background()); !errors.Is(err, streamErr) {
		t.Fatalf("Expected stream error to propagate, got %v", err)
	}
}

func TestDriver_CleanUpDeletesOnlyMissing(t *testing.T) {
	source := &fakeSource{existing: map[string]bool{"2": true, "4": true}}
	index := newFakeIndex()
	index.scrollPages = [][]string{{"1", "2", "3", "4"}}
	driver := newTestDriver(t, "products", source, index)

	total, err := driver.CleanUp(context.Background())
	if err != nil {
		t.Fatalf("CleanUp returned error: %v", err)
	}
	if total.Processed != 0 || total.Failed != 2 {
		t.Errorf("Expected aggregate (0, 2), got (%d, %d)", total.Processed, total.Failed)
	}

	index.mutex.Lock()
	defer index.mutex.Unlock()
	if len(index.deleted) != 1 {
		t.Fatalf("Expected exactly 1 bulk delete, got %d", len(index.deleted))
	}
	got := append([]string(nil), index.deleted[0]...)
	sort.Strings(got)
	if len(got) != 2 || got[0] != "1" || got[1] != "3" {
		t.Errorf("Expected delete set {1, 3}, got %v", got)
	}
}

func TestDriver_CleanUpSkipsBatchesWithNothingToDelete(t *testing.T) {
	source := &fakeSource{existing: map[string]bool{"a": true, "b": true}}
	index := newFakeIndex()
	index.scrollPages = [][]string{{"a", "b"}}
	driver := newTestDriver(t, "products", source, index)

	total, err := driver.CleanUp(context.Background())
	if err != nil {
		t.Fatalf("CleanUp returned error: %v", err)
	}
	if total.Processed != 0 || total.Failed != 0 {
		t.Errorf("Expected empty aggregate, got (%d, %d)", total.Processed, total.Failed)
	}

	index.mutex.Lock()
	defer index.mutex.Unlock()
	if len(index.deleted) != 0 {
		t.Errorf("Expected no bulk deletes, got %d", len(index.deleted))
	}
}

func TestDriver_CleanUpEndToEnd(t *testing.T) {
	// 10 scrolled documents, 3 of which are gone from the store
	existing := map[string]bool{}
	var page []string
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("doc-%d", i)
		page = append(page, id)
		if i != 2 && i != 5 && i != 8 {
			existing[id] = true
		}
	}
	source := &fakeSource{existing: existing}
	index := newFakeIndex()
	index.scrollPages = [][]string{page}
	driver := newTestDriver(t, "products", source, index)

	total, err := driver.CleanUp(context.Background())
	if err != nil {
		t.Fatalf("CleanUp returned error: %v", err)
	}
	if total.Processed != 0 || total.Failed != 3 {
		t.Errorf("Expected aggregate (0, 3), got (%d, %d)", total.Processed, total.Failed)
	}

	index.mutex.Lock()
	defer index.mutex.Unlock()
	if len(index.deleted) != 1 {
		t.Fatalf("Expected exactly 1 bulk delete request, got %d", len(index.deleted))
	}
	got := append([]string(nil), index.deleted[0]...)
	sort.Strings(got)
	want := []string{"doc-2", "doc-5", "doc-8"}
	if len(got) != len(want) {
		t.Fatalf("Expected delete set %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected delete set %v, got %v", want, got)
			break
		}
	}
}

func TestDriver_CleanUpExistenceQueryErrorPropagates(t *testing.T) {
	existErr := errors.New("store unavailable")
	source := &fakeSource{existErr: existErr}
	index := newFakeIndex()
	index.scrollPages = [][]string{{"1", "2"}}
	driver := newTestDriver(t, "products", source, index)

	if _, err := driver.CleanUp(context.Background()); !errors.Is(err, existErr) {
		t.Fatalf("Expected existence query error to propagate, got %v", err)
	}
}

func TestDriver_CleanUpDeleteErrorPropagates(t *testing.T) {
	source := &fakeSource{existing: map[string]bool{}}
	index := newFakeIndex()
	index.scrollPages = [][]string{{"1", "2"}}
	index.deleteErr = errors.New("delete rejected")
	driver := newTestDriver(t, "products", source, index)

	if _, err := driver.CleanUp(context.Background()); err == nil {
		t.Fatal("Expected delete failure to propagate through WaitAll")
	}
}

func TestDriver_Estimate(t *testing.T) {
	source := &fakeSource{estimate: 4213}
	driver := newTestDriver(t, "products", source, newFakeIndex())

	count, err := driver.Estimate(context.Background())
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	if count != 4213 {
		t.Errorf("Expected estimate 4213, got %d", count)
	}
}
