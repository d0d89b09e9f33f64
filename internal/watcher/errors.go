package watcher

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind categorizes why a watch cycle ended
type ErrorKind int

const (
	ErrorUnknown   ErrorKind = iota
	ErrorUnhealthy           // health check failed
	ErrorException           // Watch returned an error or panicked
	ErrorClosed              // Watch returned without error (backend closed)
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorUnhealthy:
		return "unhealthy"
	case ErrorException:
		return "exception"
	case ErrorClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Error wraps a backend failure with the watcher it belongs to
type Error struct {
	Watcher   string
	Kind      ErrorKind
	Err       error
	Timestamp time.Time
}

func newError(name string, kind ErrorKind, err error) *Error {
	return &Error{Watcher: name, Kind: kind, Err: err, Timestamp: time.Now()}
}

// Error implements error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s watcher %s: %v", e.Watcher, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s watcher %s", e.Watcher, e.Kind)
}

// Unwrap implements error unwrapping
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or ErrorUnknown if err is not a watcher error.
func KindOf(err error) ErrorKind {
	var we *Error
	if errors.As(err, &we) {
		return we.Kind
	}
	return ErrorUnknown
}
