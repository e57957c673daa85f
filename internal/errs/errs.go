// Package errs defines the typed failures surfaced by the event registry.
//
// Every failure path returns an *Error carrying a Kind so callers can tell
// "registration failed" apart from a successful duplicate registration.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindInvalidArgument is a caller contract violation. Never retried.
	KindInvalidArgument Kind = iota + 1
	// KindConfiguration is a missing or invalid storage connection descriptor.
	KindConfiguration
	// KindStorageUnavailable covers connection, transaction and timeout failures.
	KindStorageUnavailable
	// KindCorruptResponse means the store answered with no row or a malformed row.
	KindCorruptResponse
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindConfiguration:
		return "configuration error"
	case KindStorageUnavailable:
		return "storage unavailable"
	case KindCorruptResponse:
		return "corrupt response"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "register click".
	Op string
	// Key identifies the event key involved, if any.
	Key string
	Msg string
	Err error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Key != "" {
		s += " (key " + e.Key + ")"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidArgument reports a caller contract violation on the named argument.
func InvalidArgument(op, arg, msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Op: op, Msg: fmt.Sprintf("%s: %s", arg, msg)}
}

// Configuration reports a missing or unusable connection descriptor.
func Configuration(msg string, err error) *Error {
	return &Error{Kind: KindConfiguration, Msg: msg, Err: err}
}

// StorageUnavailable wraps a backend failure.
func StorageUnavailable(op, key string, err error) *Error {
	return &Error{Kind: KindStorageUnavailable, Op: op, Key: key, Err: err}
}

// CorruptResponse reports a response from the store that cannot be trusted.
func CorruptResponse(op, key, msg string, err error) *Error {
	return &Error{Kind: KindCorruptResponse, Op: op, Key: key, Msg: msg, Err: err}
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Storage wraps err as StorageUnavailable unless it already carries a kind.
// Context cancellation and deadlines are storage failures too.
func Storage(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return StorageUnavailable(op, key, fmt.Errorf("timed out: %w", err))
	}
	return StorageUnavailable(op, key, err)
}
