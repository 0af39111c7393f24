// Package worker provides the execution context every client component owns:
// a fixed set of worker goroutines draining one shared task queue.
//
//	Post(task)  ──▶ [ queue ] ──▶ worker 0..N-1 ──▶ task()
//	Spawn(op)   ──▶ tracked goroutine (I/O chain) ──▶ Dispatch(completion)
//
// Short tasks (completion delivery, timers) go through the queue. Request
// chains that park on network I/O run in tracked goroutines started by Spawn,
// so a slow peer never occupies a worker. Both are covered by Stop, which is
// the only way a pool terminates.
package worker

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"opengemini-client/errs"
)

// ErrStopped is returned by Post and Spawn once Stop has been called.
var ErrStopped = errs.Runtime("worker pool stopped", nil)

type Option func(*Pool)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMaxInFlight bounds the number of spawned goroutines running at once.
// Zero or negative means unbounded.
func WithMaxInFlight(n int64) Option {
	return func(p *Pool) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(n)
		}
	}
}

// Pool is a worker-pool execution context. The zero value is not usable;
// construct with NewPool and tear down with Stop.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func() // FIFO, unbounded so Post never blocks a running task
	stopped bool     // keep-alive guard dropped

	workers  sync.WaitGroup
	spawned  sync.WaitGroup
	sem      *semaphore.Weighted
	threads  int
	logger   *zap.Logger
	stopOnce sync.Once
}

// NewPool starts threads worker goroutines. Values below 1 start one.
func NewPool(threads int, opts ...Option) *Pool {
	if threads < 1 {
		threads = 1
	}
	p := &Pool{
		threads: threads,
		logger:  zap.NewNop(),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}

	p.workers.Add(threads)
	for i := 0; i < threads; i++ {
		go p.run()
	}
	return p
}

// Threads returns the number of worker goroutines.
func (p *Pool) Threads() int {
	return p.threads
}

// Post queues task for execution on a worker.
func (p *Pool) Post(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return nil
}

// Dispatch queues task, or runs it on the calling goroutine if the pool is
// already stopping. Completions handed to Dispatch are never lost.
func (p *Pool) Dispatch(task func()) {
	if err := p.Post(task); err != nil {
		p.safeRun(task)
	}
}

// Spawn runs task in a goroutine tracked by the pool. Stop waits for it.
func (p *Pool) Spawn(task func()) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.spawned.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.spawned.Done()
		if p.sem != nil {
			// Background context: Acquire only fails on cancellation.
			_ = p.sem.Acquire(context.Background(), 1)
			defer p.sem.Release(1)
		}
		p.safeRun(task)
	}()
	return nil
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stop drops the keep-alive guard, lets queued tasks and spawned goroutines
// finish, and joins every worker. It is safe to call more than once.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.cond.Broadcast()
		p.mu.Unlock()

		p.spawned.Wait()
		p.workers.Wait()
	})
}

func (p *Pool) run() {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			// stopped and drained
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.safeRun(task)
	}
}

// safeRun executes task and swallows a panic so the calling worker survives.
func (p *Pool) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	task()
}

// ChooseThreads turns a concurrency hint into a worker count: the hint when it
// lies in [1, 4*NumCPU], otherwise NumCPU, and never less than one.
func ChooseThreads(hint int) int {
	hardware := runtime.NumCPU()
	if hint >= 1 && hint <= 4*hardware {
		return hint
	}
	if hardware < 1 {
		return 1
	}
	return hardware
}
