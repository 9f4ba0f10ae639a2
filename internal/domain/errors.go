package domain

import "github.com/cockroachdb/errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidState         = errors.New("invalid state")
	ErrConcurrencyConflict  = errors.New("concurrency conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrAlreadyExists        = errors.New("already exists")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrRateLimited          = errors.New("rate limited")
)

// Kind is the closed set of error categories reported to callers.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindInsufficientCapacity Kind = "insufficient_capacity"
	KindForbidden            Kind = "forbidden"
	KindInvalidState         Kind = "invalid_state"
	KindConcurrencyConflict  Kind = "concurrency_conflict"
	KindInvalidInput         Kind = "invalid_input"
	KindAlreadyExists        Kind = "already_exists"
	KindUnauthenticated      Kind = "unauthenticated"
	KindRateLimited          Kind = "rate_limited"
	KindInternal             Kind = "internal_error"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrInsufficientCapacity, KindInsufficientCapacity},
	{ErrForbidden, KindForbidden},
	{ErrInvalidState, KindInvalidState},
	{ErrConcurrencyConflict, KindConcurrencyConflict},
	{ErrInvalidInput, KindInvalidInput},
	{ErrAlreadyExists, KindAlreadyExists},
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrRateLimited, KindRateLimited},
}

// KindOf classifies err. Anything that does not wrap a domain sentinel is internal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Invalidf wraps ErrInvalidInput with a client-facing message.
func Invalidf(format string, args ...interface{}) error {
	return Errorf(ErrInvalidInput, format, args...)
}

// Errorf wraps one of the sentinels above with context.
func Errorf(kind error, format string, args ...interface{}) error {
	return errors.Wrapf(kind, format, args...)
}
