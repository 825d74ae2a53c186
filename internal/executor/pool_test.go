package executor

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPool_SubmitAndWait(t *testing.T) {
	pool := New(2, 4)
	defer pool.Close()

	handle, err := pool.Submit(func() (Result, error) {
		return Result{Processed: 5, Failed: 1}, nil
	})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}

	result, err := handle.Wait()
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if result.Processed != 5 {
		t.Errorf("Expected Processed 5, got %d", result.Processed)
	}
	if result.Failed != 1 {
		t.Errorf("Expected Failed 1, got %d", result.Failed)
	}
}

func TestPool_WaitPropagatesTaskError(t *testing.T) {
	pool := New(1, 1)
	defer pool.Close()

	taskErr := errors.New("bulk write failed")
	handle, err := pool.Submit(func() (Result, error) {
		return Result{}, taskErr
	})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}

	if _, err := handle.Wait(); !errors.Is(err, taskErr) {
		t.Errorf("Expected task error %v, got %v", taskErr, err)
	}
}

func TestPool_RejectsWhenSaturated(t *testing.T) {
	pool := New(1, 1)
	defer pool.Close()

	gate := make(chan struct{})

	// Occupy the single worker
	busy, err := pool.Submit(func() (Result, error) {
		<-gate
		return Result{Processed: 1}, nil
	})
	if err != nil {
		t.Fatalf("Failed to submit blocking task: %v", err)
	}

	// Fill the queue. The worker may still be picking up the first task,
	// so allow one extra slot before expecting rejection.
	var queued []*Handle
	var rejected bool
	for i := 0; i < 3; i++ {
		handle, err := pool.Submit(func() (Result, error) {
			return Result{Processed: 1}, nil
		})
		if err != nil {
			if !errors.Is(err, ErrPoolSaturated) {
				t.Fatalf("Expected ErrPoolSaturated, got %v", err)
			}
			rejected = true
			break
		}
		queued = append(queued, handle)
	}
	if !rejected {
		t.Fatal("Expected submission to be rejected once queue was full")
	}

	// Accepted tasks must all still complete
	close(gate)
	if _, err := busy.Wait(); err != nil {
		t.Errorf("Blocking task failed: %v", err)
	}
	for _, handle := range queued {
		if _, err := handle.Wait(); err != nil {
			t.Errorf("Queued task failed: %v", err)
		}
	}

	stats := pool.Stats()
	if stats.Rejected == 0 {
		t.Error("Expected rejected counter to be incremented")
	}
	if stats.Submitted != int64(1+len(queued)) {
		t.Errorf("Expected %d submitted, got %d", 1+len(queued), stats.Submitted)
	}
}

func TestHandle_OnCompleteBeforeResolution(t *testing.T) {
	pool := New(1, 1)
	defer pool.Close()

	gate := make(chan struct{})
	fired := make(chan Result, 1)

	handle, err := pool.Submit(func() (Result, error) {
		<-gate
		return Result{Processed: 3}, nil
	})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}

	handle.OnComplete(func(r Result) { fired <- r }, nil)
	close(gate)

	select {
	case result := <-fired:
		if result.Processed != 3 {
			t.Errorf("Expected Processed 3 in callback, got %d", result.Processed)
		}
	case <-time.After(time.Second):
		t.Fatal("Success callback never fired")
	}
}

func TestHandle_OnCompleteAfterResolution(t *testing.T) {
	pool := New(1, 1)
	defer pool.Close()

	handle, err := pool.Submit(func() (Result, error) {
		return Result{Processed: 2}, nil
	})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}
	if _, err := handle.Wait(); err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}

	// Registration after resolution fires immediately
	var got Result
	handle.OnComplete(func(r Result) { got = r }, nil)
	if got.Processed != 2 {
		t.Errorf("Expected immediate callback with Processed 2, got %d", got.Processed)
	}
}

func TestHandle_OnCompleteFailureCallback(t *testing.T) {
	pool := New(1, 1)
	defer pool.Close()

	taskErr := errors.New("unit failed")
	fired := make(chan error, 1)

	handle, err := pool.Submit(func() (Result, error) {
		return Result{}, taskErr
	})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}
	handle.OnComplete(nil, func(err error) { fired <- err })

	select {
	case err := <-fired:
		if !errors.Is(err, taskErr) {
			t.Errorf("Expected failure callback with %v, got %v", taskErr, err)
		}
	case <-time.After(time.Second):
		t.Fatal("Failure callback never fired")
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	pool := New(1, 1)
	pool.Close()

	if _, err := pool.Submit(func() (Result, error) { return Result{}, nil }); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Expected ErrPoolClosed, got %v", err)
	}
}

func TestPool_CloseDrainsQueue(t *testing.T) {
	pool := New(2, 8)

	var mutex sync.Mutex
	ran := 0
	var handles []*Handle
	for i := 0; i < 8; i++ {
		handle, err := pool.Submit(func() (Result, error) {
			mutex.Lock()
			ran++
			mutex.Unlock()
			return Result{Processed: 1}, nil
		})
		if err != nil {
			t.Fatalf("Failed to submit task %d: %v", i, err)
		}
		handles = append(handles, handle)
	}

	pool.Close()

	mutex.Lock()
	defer mutex.Unlock()
	if ran != 8 {
		t.Errorf("Expected all 8 tasks to run before Close returned, got %d", ran)
	}
	for i, handle := range handles {
		if _, err := handle.Wait(); err != nil {
			t.Errorf("Task %d failed: %v", i, err)
		}
	}
}

func TestResult_Add(t *testing.T) {
	total := Result{Processed: 3, Failed: 1}.Add(Result{Processed: 2, Failed: 4})
	if total.Processed != 5 || total.Failed != 5 {
		t.Errorf("Expected (5, 5), got (%d, %d)", total.Processed, total.Failed)
	}
}
