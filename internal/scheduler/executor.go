package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Executor runs jobs no earlier than a delay from now.
type Executor interface {
	// Schedule submits job to run after delay. The job receives a context
	// that is cancelled when the executor shuts down.
	Schedule(job func(ctx context.Context), delay time.Duration)
	// Shutdown cancels pending work and waits for running jobs.
	Shutdown()
}

// PoolExecutor is the default Executor. With a parallelism of zero or less
// every job gets its own goroutine. Otherwise jobs are queued in submission
// order and drained by that many workers, so a single-worker pool runs jobs
// strictly one after another. Delayed jobs become due in (deadline,
// submission) order, so jobs submitted with the same delay reach the queue in
// the order they were submitted.
type PoolExecutor struct {
	parallelism int
	ctx         context.Context
	cancel      context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func(context.Context)
	delayed delayQueue
	timer   *time.Timer
	seq     uint64
	closed  bool
	workers errgroup.Group
	running sync.WaitGroup
}

type delayedJob struct {
	at  time.Time
	seq uint64
	job func(context.Context)
}

// delayQueue is a min-heap on (at, seq).
type delayQueue []*delayedJob

func (q delayQueue) Len() int { return len(q) }

func (q delayQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q delayQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *delayQueue) Push(x any) { *q = append(*q, x.(*delayedJob)) }

func (q *delayQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// NewPoolExecutor starts an executor with the given parallelism.
func NewPoolExecutor(parallelism int) *PoolExecutor {
	ctx, cancel := context.WithCancel(context.Background())
	e := &PoolExecutor{
		parallelism: parallelism,
		ctx:         ctx,
		cancel:      cancel,
	}
	e.cond = sync.NewCond(&e.mu)
	for i := 0; i < parallelism; i++ {
		e.workers.Go(e.drain)
	}
	return e
}

// Parallelism returns the number of workers, or zero when unbounded.
func (e *PoolExecutor) Parallelism() int {
	if e.parallelism < 0 {
		return 0
	}
	return e.parallelism
}

// Schedule implements Executor. Jobs submitted after Shutdown run at once
// with an already cancelled context.
func (e *PoolExecutor) Schedule(job func(ctx context.Context), delay time.Duration) {
	e.running.Add(1)
	wrapped := func(ctx context.Context) {
		defer e.running.Done()
		job(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if delay <= 0 || e.closed {
		e.dispatchLocked(wrapped)
		return
	}

	e.seq++
	heap.Push(&e.delayed, &delayedJob{at: time.Now().Add(delay), seq: e.seq, job: wrapped})
	e.armLocked()
}

// armLocked points the timer at the earliest pending deadline.
func (e *PoolExecutor) armLocked() {
	if len(e.delayed) == 0 {
		return
	}
	d := time.Until(e.delayed[0].at)
	if e.timer == nil {
		e.timer = time.AfterFunc(d, e.release)
		return
	}
	e.timer.Reset(d)
}

// release dispatches every due job in heap order and re-arms the timer.
func (e *PoolExecutor) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	now := time.Now()
	for len(e.delayed) > 0 && !e.delayed[0].at.After(now) {
		e.dispatchLocked(heap.Pop(&e.delayed).(*delayedJob).job)
	}
	e.armLocked()
}

func (e *PoolExecutor) dispatchLocked(job func(context.Context)) {
	if e.parallelism <= 0 || e.closed {
		go job(e.ctx)
		return
	}
	e.queue = append(e.queue, job)
	e.cond.Signal()
}

func (e *PoolExecutor) drain() error {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return nil
		}
		job := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		job(e.ctx)
	}
}

// Shutdown implements Executor. Delayed jobs that have not fired yet are
// released immediately with the cancelled context. Safe to call more than once.
func (e *PoolExecutor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cancel()
	if e.timer != nil {
		e.timer.Stop()
	}
	for len(e.delayed) > 0 {
		e.dispatchLocked(heap.Pop(&e.delayed).(*delayedJob).job)
	}
	e.cond.Broadcast()
	e.mu.Unlock()

	_ = e.workers.Wait()
	e.running.Wait()
}
