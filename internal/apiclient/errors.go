package apiclient

import (
	"errors"
	"fmt"
)

// Kind classifies a failed Send at the transport level
type Kind string

const (
	// KindRejected is a well-formed 4xx answer. Not retried.
	KindRejected Kind = "rejected"
	// KindUnreachable means every attempt failed with a transient fault.
	KindUnreachable Kind = "unreachable"
	// KindInvalid is a request that could not be built or encoded.
	KindInvalid Kind = "invalid"
	// KindCanceled means the caller's context ended first.
	KindCanceled Kind = "canceled"
)

// Error is the only error type returned by Client.Send
type Error struct {
	Kind       Kind
	Method     string
	Path       string
	StatusCode int
	Body       []byte
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRejected:
		return fmt.Sprintf("%s %s rejected with status %d", e.Method, e.Path, e.StatusCode)
	case KindUnreachable:
		return fmt.Sprintf("%s %s unreachable after %d attempts: %v", e.Method, e.Path, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("%s %s %s: %v", e.Method, e.Path, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// errStatus records a transient HTTP status inside an unreachable error
type errStatus int

func (s errStatus) Error() string {
	return fmt.Sprintf("server returned status %d", int(s))
}
