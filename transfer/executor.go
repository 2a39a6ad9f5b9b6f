package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/tigrisdata/s3fs/transfer/internal/metrics"
)

const (
	DefaultMaxConcurrency = 10
	// DefaultQueueSize lets two copies of the largest object queue all their
	// parts at once.
	DefaultQueueSize = 2 * MaxParts
)

// Task is a unit of work run by the Executor.
type Task func(ctx context.Context) (PartResult, error)

// Future is the pending result of a submitted Task.
type Future struct {
	done   chan struct{}
	result PartResult
	err    error
}

func (f *Future) complete(res PartResult, err error) {
	f.result = res
	f.err = err
	close(f.done)
}

// Wait blocks until the task finished or ctx is done.
func (f *Future) Wait(ctx context.Context) (PartResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return PartResult{}, ctx.Err()
	}
}

// Done is closed once the task finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

type task struct {
	ctx    context.Context
	fn     Task
	future *Future
}

// Executor is a fixed size pool of workers fed by a bounded queue. It is
// meant to be shared by every transfer of an Engine and must be shut down by
// its owner.
type Executor struct {
	tasks chan *task
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewExecutor starts workers goroutines consuming a queue of queueSize tasks.
func NewExecutor(workers, queueSize int) (*Executor, error) {
	if workers <= 0 {
		return nil, invalidArgument("maxconcurrency", "must be positive, got %d", workers)
	}
	if queueSize < 0 {
		return nil, invalidArgument("queuesize", "must not be negative, got %d", queueSize)
	}

	e := &Executor{
		tasks: make(chan *task, queueSize),
	}

	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.work()
	}

	return e, nil
}

func (e *Executor) work() {
	defer e.wg.Done()

	for t := range e.tasks {
		metrics.TaskDequeued()
		e.run(t)
	}
}

func (e *Executor) run(t *task) {
	var (
		res PartResult
		err error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("part operation panicked: %v", r)
		}
		t.future.complete(res, err)
	}()

	if err = t.ctx.Err(); err != nil {
		return
	}
	res, err = t.fn(t.ctx)
}

// Submit queues fn for execution, waiting for queue space until ctx is done.
// A shut-down executor rejects work with a *ResourceExhaustionError.
func (e *Executor) Submit(ctx context.Context, fn Task) (*Future, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		metrics.TaskRejected()
		return nil, &ResourceExhaustionError{Reason: "executor is shut down"}
	}

	t := &task{ctx: ctx, fn: fn, future: &Future{done: make(chan struct{})}}

	metrics.TaskQueued()
	select {
	case e.tasks <- t:
		return t.future, nil
	default:
	}

	// Shutdown waits for the lock held here; workers keep draining the queue
	// until then, so a waiting submitter always makes progress.
	select {
	case e.tasks <- t:
		return t.future, nil
	case <-ctx.Done():
		metrics.TaskDequeued()
		return nil, ctx.Err()
	}
}

// Shutdown stops accepting work and waits until queued tasks have run or ctx
// is done. It is safe to call more than once.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.tasks)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
