package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies a failed remote call.
type ErrorKind int

const (
	Transient ErrorKind = iota
	AuthFailure
	RateLimited
	NotFound
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case AuthFailure:
		return "auth_failure"
	case RateLimited:
		return "rate_limited"
	case NotFound:
		return "not_found"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error type returned by Service implementations.
type Error struct {
	Kind       ErrorKind
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies any error returned by a Service. Untyped errors, network
// errors and timeouts are Transient.
func KindOf(err error) ErrorKind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return Transient
}

// RetryHint returns the server-provided retry delay, if any.
func RetryHint(err error) time.Duration {
	var re *Error
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

// IsCanceled reports whether err comes from the caller cancelling the call,
// as opposed to a deadline or network failure.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func transient(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: Transient, Err: fmt.Errorf("timeout: %w", err)}
	}
	return &Error{Kind: Transient, Err: err}
}
