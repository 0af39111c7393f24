// Package errs defines the flat error taxonomy shared by every layer of the client.
//
// Every failure the library reports carries exactly one Kind:
//
//	Network          resolve / connect / handshake / write / read / shutdown failed
//	InvalidArgument  bad configuration or caller input, detected synchronously
//	Server           the remote side answered outside the expected contract
//	Runtime          anything else, always nesting the original cause
//
// Callers branch with errors.Is against the kind sentinels:
//
//	if errors.Is(err, errs.ErrNetwork) { ... }
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a library error.
type Kind uint8

const (
	KindNetwork Kind = iota + 1
	KindInvalidArgument
	KindServer
	KindRuntime
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network error"
	case KindInvalidArgument:
		return "invalid argument"
	case KindServer:
		return "server error"
	case KindRuntime:
		return "runtime error"
	default:
		return "unknown error"
	}
}

// Kind sentinels, matched by Error.Is on Kind only.
var (
	ErrNetwork         = &Error{Kind: KindNetwork}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrServer          = &Error{Kind: KindServer}
	ErrRuntime         = &Error{Kind: KindRuntime}
)

// Error is the concrete error type returned by the library.
type Error struct {
	Kind    Kind
	Message string
	Cause   error // underlying transport/system error, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Cause == nil:
		return e.Kind.String()
	case e.Cause == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Cause == nil
}

func Network(msg string, cause error) error {
	return &Error{Kind: KindNetwork, Message: msg, Cause: cause}
}

func InvalidArgument(msg string) error {
	return &Error{Kind: KindInvalidArgument, Message: msg}
}

func InvalidArgumentf(format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func Server(msg string) error {
	return &Error{Kind: KindServer, Message: msg}
}

func Serverf(format string, args ...any) error {
	return &Error{Kind: KindServer, Message: fmt.Sprintf(format, args...)}
}

func Runtime(msg string, cause error) error {
	return &Error{Kind: KindRuntime, Message: msg, Cause: cause}
}

// KindOf returns the kind of the outermost library error in err's chain,
// or 0 if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Wrap leaves library errors untouched and turns anything else into a
// runtime error nesting the original failure.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != 0 {
		return err
	}
	return Runtime("unexpected failure", err)
}
