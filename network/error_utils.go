package network

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// IsTimeoutError reports whether err means a caller gave up waiting: a
// manager TimedOut error, any error with Timeout() == true, or a context
// deadline/cancellation.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// IsConnectionError checks if an error came from establishing a connection or
// looks like a dropped socket.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var poolErr *ConnectionPoolError
	if errors.As(err, &poolErr) && poolErr.Op == OpConnect {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "broken pipe")
}

// WrapError wraps an error with additional context
func WrapError(err error, msg string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(msg, args...), err)
}
