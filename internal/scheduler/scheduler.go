package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/davidschrooten/atlas-reconciler/internal/executor"
)

// DefaultBackoffInterval is the pause between submission retries when the
// pool is saturated.
const DefaultBackoffInterval = 100 * time.Millisecond

// Hooks carries optional notification callbacks for completed work units.
// Hooks are fixed at scheduler construction and apply to every unit
// submitted afterwards. They fire on worker goroutines, so hook bodies
// must be safe for concurrent use.
type Hooks struct {
	OnProgress func(executor.Result)
	OnFailure  func(error)
}

// Backoff controls how submission behaves while the pool is saturated.
// MaxAttempts of zero retries indefinitely; saturation is treated as a
// transient condition, not an error.
type Backoff struct {
	Interval    time.Duration
	MaxAttempts int

	// sleep is replaceable in tests
	sleep func(time.Duration)
}

// DefaultBackoff returns the fixed-interval, unbounded retry policy
func DefaultBackoff() Backoff {
	return Backoff{Interval: DefaultBackoffInterval}
}

// Scheduler submits work units to a pool, retries under backpressure and
// aggregates results. A scheduler instance must be driven by a single
// goroutine: only that goroutine may call Submit, Reset and WaitAll.
// Concurrent drivers need separate scheduler instances.
type Scheduler struct {
	pool    *executor.Pool
	hooks   Hooks
	backoff Backoff
	pending []*executor.Handle
}

// New creates a scheduler over the given pool
func New(pool *executor.Pool, hooks Hooks, backoff Backoff) *Scheduler {
	if backoff.Interval <= 0 {
		backoff.Interval = DefaultBackoffInterval
	}
	if backoff.sleep == nil {
		backoff.sleep = time.Sleep
	}

	return &Scheduler{
		pool:    pool,
		hooks:   hooks,
		backoff: backoff,
	}
}

// Submit queues one work unit, attaches the notification hooks and records
// its handle in the pending set. While the pool reports saturation the
// submission is retried after the backoff interval; the unit is queued at
// most once. Any other submission error is returned as-is.
func (s *Scheduler) Submit(task executor.Task) error {
	attempts := 0
	for {
		handle, err := s.pool.Submit(task)
		if err == nil {
			handle.OnComplete(s.hooks.OnProgress, s.hooks.OnFailure)
			s.pending = append(s.pending, handle)
			return nil
		}
		if !errors.Is(err, executor.ErrPoolSaturated) {
			return err
		}

		attempts++
		if s.backoff.MaxAttempts > 0 && attempts >= s.backoff.MaxAttempts {
			return fmt.Errorf("submission rejected %d times: %w", attempts, err)
		}
		s.backoff.sleep(s.backoff.Interval)
	}
}

// Reset clears the pending set at the start of a top-level operation
func (s *Scheduler) Reset() {
	s.pending = s.pending[:0]
}

// Pending returns the number of outstanding handles
func (s *Scheduler) Pending() int {
	return len(s.pending)
}

// WaitAll blocks until every pending work unit is terminal, then returns
// the elementwise sum of their results. If any unit failed, the first
// failure (in submission order) is returned instead of a partial
// aggregate; every unit is still waited on. The pending set is drained
// either way.
func (s *Scheduler) WaitAll() (executor.Result, error) {
	var total executor.Result
	var firstErr error

	for _, handle := range s.pending {
		result, err := handle.Wait()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total = total.Add(result)
	}
	s.pending = s.pending[:0]

	if firstErr != nil {
		return executor.Result{}, firstErr
	}
	return total, nil
}
