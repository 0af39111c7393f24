// Package completion lets one asynchronous code path serve every calling style.
//
// An operation is written once as func(ctx) (T, error) and started through
// Initiate. The Token passed by the caller decides how the outcome comes back:
//
//	Sync            the initiating call blocks and returns (T, error)
//	Detached        fire and forget
//	*Future[T]      Get / Result / Done
//	*Deferred[T]    nothing runs until Start (or Run) is called
//	*Awaitable[T]   park in select on C(), or Await(ctx)
//	Func[T]         completion handler func(T, error)
//
// Every outcome, including failures raised before any I/O starts, is delivered
// through the token on the executor's queue. Errors that are not library errors
// arrive wrapped as errs.ErrRuntime.
package completion

import (
	"context"
	"fmt"

	"opengemini-client/errs"
)

// Executor runs operations and delivers their completions. *worker.Pool
// satisfies it.
type Executor interface {
	Spawn(task func()) error
	Dispatch(task func())
}

// Token selects how an operation's outcome reaches the caller. The set of
// implementations is closed.
type Token interface {
	token()
}

type syncToken struct{}

func (syncToken) token() {}

type detachedToken struct{}

func (detachedToken) token() {}

var (
	// Sync blocks the initiating goroutine until the operation completes.
	// It must not be used from a task running on the same executor.
	Sync Token = syncToken{}

	// Detached starts the operation and drops its outcome.
	Detached Token = detachedToken{}
)

// sink accepts exactly one outcome.
type sink[T any] interface {
	Token
	complete(v T, err error)
}

type discard[T any] struct{}

func (discard[T]) token()            {}
func (discard[T]) complete(T, error) {}

// Outcome is the (result, error) pair of one operation.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Initiate starts op on ex and routes its outcome to tok.
//
// With Sync the call returns the operation's outcome. With every other token
// it returns zero values immediately. A token that cannot carry T is reported
// as an invalid argument by the initiating call itself.
func Initiate[T any](ex Executor, tok Token, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	launch := func(s sink[T]) {
		deliver := func(v T, err error) {
			err = errs.Wrap(err)
			ex.Dispatch(func() { s.complete(v, err) })
		}
		if err := ex.Spawn(func() { deliver(call(op)) }); err != nil {
			deliver(zero, err)
		}
	}

	switch t := tok.(type) {
	case nil, syncToken:
		f := NewFuture[T]()
		launch(f)
		return f.Result()
	case detachedToken:
		launch(discard[T]{})
	case *Deferred[T]:
		if err := t.bind(launch); err != nil {
			return zero, err
		}
	case sink[T]:
		launch(t)
	default:
		return zero, errs.InvalidArgumentf("completion token %T cannot carry %T", tok, zero)
	}
	return zero, nil
}

// call runs op and turns a panic into a runtime error.
func call[T any](op func(ctx context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Runtime("operation panicked", fmt.Errorf("%v", r))
		}
	}()
	return op(context.Background())
}
