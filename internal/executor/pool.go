package executor

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolSaturated is returned by Submit when the work queue is full.
// Callers are expected to treat this as backpressure and retry.
var ErrPoolSaturated = errors.New("executor: work queue is full")

// ErrPoolClosed is returned by Submit after Close has been called.
var ErrPoolClosed = errors.New("executor: pool is closed")

// Result is the outcome of a single work unit
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Add returns the elementwise sum of two results
func (r Result) Add(other Result) Result {
	return Result{
		Processed: r.Processed + other.Processed,
		Failed:    r.Failed + other.Failed,
	}
}

// Task is a single unit of asynchronous work
type Task func() (Result, error)

// Handle tracks the eventual result or failure of a submitted task
type Handle struct {
	done      chan struct{}
	mutex     sync.Mutex
	result    Result
	err       error
	onSuccess func(Result)
	onFailure func(error)
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Wait blocks until the task is terminal and returns its result or error
func (h *Handle) Wait() (Result, error) {
	<-h.done
	return h.result, h.err
}

// OnComplete registers notification callbacks for the task's completion.
// Callbacks fire on the worker goroutine that ran the task; if the task
// has already resolved they fire immediately on the calling goroutine.
// Either callback may be nil.
func (h *Handle) OnComplete(onSuccess func(Result), onFailure func(error)) {
	h.mutex.Lock()
	select {
	case <-h.done:
		result, err := h.result, h.err
		h.mutex.Unlock()
		fire(result, err, onSuccess, onFailure)
		return
	default:
	}
	h.onSuccess = onSuccess
	h.onFailure = onFailure
	h.mutex.Unlock()
}

// resolve marks the handle terminal and fires any registered callbacks
func (h *Handle) resolve(result Result, err error) {
	h.mutex.Lock()
	h.result = result
	h.err = err
	close(h.done)
	onSuccess, onFailure := h.onSuccess, h.onFailure
	h.mutex.Unlock()

	fire(result, err, onSuccess, onFailure)
}

func fire(result Result, err error, onSuccess func(Result), onFailure func(error)) {
	if err != nil {
		if onFailure != nil {
			onFailure(err)
		}
		return
	}
	if onSuccess != nil {
		onSuccess(result)
	}
}

// Stats provides counters about pool activity
type Stats struct {
	Submitted     int64 `json:"submitted"`
	Rejected      int64 `json:"rejected"`
	Completed     int64 `json:"completed"`
	Workers       int   `json:"workers"`
	QueueCapacity int   `json:"queueCapacity"`
}

type workItem struct {
	task   Task
	handle *Handle
}

// Pool runs tasks on a fixed number of worker goroutines. The queue is
// bounded; Submit never blocks and surfaces saturation synchronously.
type Pool struct {
	queue   chan workItem
	workers int
	wg      sync.WaitGroup

	closeMutex sync.Mutex
	closed     bool

	submitted atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
}

// New creates a pool with the given number of workers and queue capacity
func New(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}

	p := &Pool{
		queue:   make(chan workItem, queueSize),
		workers: workers,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for item := range p.queue {
		result, err := item.task()
		p.completed.Add(1)
		item.handle.resolve(result, err)
	}
}

// Submit queues a task for asynchronous execution and returns a handle to
// its eventual result. Returns ErrPoolSaturated without queueing when the
// queue is full; accepted tasks are never dropped. A nil task is a
// programmer error and panics.
func (p *Pool) Submit(task Task) (*Handle, error) {
	if task == nil {
		panic("executor: submitted nil task")
	}

	p.closeMutex.Lock()
	defer p.closeMutex.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	handle := newHandle()
	select {
	case p.queue <- workItem{task: task, handle: handle}:
		p.submitted.Add(1)
		return handle, nil
	default:
		p.rejected.Add(1)
		return nil, ErrPoolSaturated
	}
}

// Close stops accepting tasks, drains the queue and waits for the workers
func (p *Pool) Close() {
	p.closeMutex.Lock()
	if p.closed {
		p.closeMutex.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.closeMutex.Unlock()

	p.wg.Wait()
}

// Workers returns the number of worker goroutines
func (p *Pool) Workers() int {
	return p.workers
}

// Stats returns current pool counters
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:     p.submitted.Load(),
		Rejected:      p.rejected.Load(),
		Completed:     p.completed.Load(),
		Workers:       p.workers,
		QueueCapacity: cap(p.queue),
	}
}
