package manager

import (
	"errors"
	"fmt"
	"os"
)

// Kind classifies manager errors.
type Kind uint8

const (
	// KindEstablish is a failure to open a session (network, auth, protocol negotiation).
	KindEstablish Kind = iota + 1
	// KindValidation is a failed probe; the connection is poisoned.
	KindValidation
	// KindIO is an I/O category failure; TimedOut produces it.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindEstablish:
		return "establish"
	case KindValidation:
		return "validation"
	case KindIO:
		return "io"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is returned by every fallible ConnectionManager operation.
type Error struct {
	Op     string
	Kind   Kind
	ConnID string
	Err    error
}

func (e *Error) Error() string {
	if e.ConnID != "" {
		return fmt.Sprintf("connection manager %s error during %s (conn %s): %v", e.Kind, e.Op, e.ConnID, e.Err)
	}
	return fmt.Sprintf("connection manager %s error during %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the error is an I/O timeout.
func (e *Error) Timeout() bool {
	return e.Kind == KindIO && errors.Is(e.Err, ErrTimedOut)
}

// ErrTimedOut is the cause wrapped by TimedOut. It matches os.ErrDeadlineExceeded
// with errors.Is and reports Timeout() == true, like a net.Error.
var ErrTimedOut error = timedOutError{}

type timedOutError struct{}

func (timedOutError) Error() string   { return "connection manager timed out" }
func (timedOutError) Timeout() bool   { return true }
func (timedOutError) Temporary() bool { return true }

func (timedOutError) Is(target error) bool {
	return target == os.ErrDeadlineExceeded
}

// ErrConcurrentUse is the reason carried by a PreconditionError when two
// operations overlap on one live connection.
var ErrConcurrentUse = errors.New("connection is already checked out")

// ErrPoisoned is the reason carried by a PreconditionError when a poisoned
// connection is handed to an operation that needs a live one.
var ErrPoisoned = errors.New("connection is poisoned")

// PreconditionError is the panic value raised when a caller breaks the
// ownership contract: validating or using a poisoned connection, or using one
// live connection from two places at once. These are logic errors in the
// caller and are never returned as values.
type PreconditionError struct {
	Op     string
	ConnID string
	Reason error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("connection manager precondition violated in %s (conn %s): %v", e.Op, e.ConnID, e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return e.Reason
}

// IsTimeout reports whether err, or any error it wraps, is a timeout.
func IsTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// IsEstablish reports whether err came from a failed Connect.
func IsEstablish(err error) bool {
	return kindOf(err) == KindEstablish
}

// IsValidation reports whether err came from a failed IsValid.
func IsValidation(err error) bool {
	return kindOf(err) == KindValidation
}

func kindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return 0
}
