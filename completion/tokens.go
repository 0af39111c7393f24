package completion

import (
	"context"
	"sync"

	"opengemini-client/errs"
)

// Future holds the outcome of an operation once it completes.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	out  Outcome[T]
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) token() {}

func (f *Future[T]) complete(v T, err error) {
	f.once.Do(func() {
		f.out = Outcome[T]{Value: v, Err: err}
		close(f.done)
	})
}

// Done is closed when the outcome is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the outcome is available.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.out.Value, f.out.Err
}

// Get is Result bounded by ctx. Giving up does not cancel the operation.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.out.Value, f.out.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Func is a completion handler. It runs on the executor's queue.
type Func[T any] func(v T, err error)

func (Func[T]) token() {}

func (f Func[T]) complete(v T, err error) {
	f(v, err)
}

// Awaitable is the suspend-point style: the caller parks on C() inside a
// select, or on Await, until the single outcome is ready.
type Awaitable[T any] struct {
	ch chan Outcome[T]
}

func NewAwaitable[T any]() *Awaitable[T] {
	return &Awaitable[T]{ch: make(chan Outcome[T], 1)}
}

func (a *Awaitable[T]) token() {}

func (a *Awaitable[T]) complete(v T, err error) {
	select {
	case a.ch <- Outcome[T]{Value: v, Err: err}:
	default:
		// already completed
	}
}

// C yields exactly one Outcome.
func (a *Awaitable[T]) C() <-chan Outcome[T] {
	return a.ch
}

// Await suspends the calling goroutine until the outcome is ready or ctx ends.
func (a *Awaitable[T]) Await(ctx context.Context) (T, error) {
	select {
	case out := <-a.ch:
		return out.Value, out.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Deferred captures an initiated operation without starting it.
type Deferred[T any] struct {
	mu      sync.Mutex
	launch  func(sink[T])
	started *Future[T]
}

func NewDeferred[T any]() *Deferred[T] {
	return &Deferred[T]{}
}

func (d *Deferred[T]) token() {}

func (d *Deferred[T]) bind(launch func(sink[T])) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.launch != nil {
		return errs.InvalidArgument("deferred token already bound to an operation")
	}
	d.launch = launch
	return nil
}

// Start launches the captured operation once; later calls return the same
// Future.
func (d *Deferred[T]) Start() *Future[T] {
	d.mu.Lock()
	if d.started != nil {
		f := d.started
		d.mu.Unlock()
		return f
	}
	f := NewFuture[T]()
	d.started = f
	launch := d.launch
	d.mu.Unlock()

	if launch == nil {
		var zero T
		f.complete(zero, errs.InvalidArgument("deferred token was never passed to an operation"))
		return f
	}
	launch(f)
	return f
}

// Run starts the operation and waits for it.
func (d *Deferred[T]) Run() (T, error) {
	return d.Start().Result()
}
