package network

import (
	"errors"
	"fmt"
)

// Pool operations reported in ConnectionPoolError.Op.
const (
	// OpGet is a checkout that failed before a connection was handed out:
	// the pool was closed or the caller's context ended.
	OpGet = "get"
	// OpConnect is a checkout whose ConnectionManager.Connect call failed.
	OpConnect = "connect"
)

// ConnectionPoolError is returned by Get when no connection could be handed
// out. Timeouts of the pool's own wait are reported with the manager's
// TimedOut error instead.
type ConnectionPoolError struct {
	Op  string
	Err error
}

func (e *ConnectionPoolError) Error() string {
	return fmt.Sprintf("connection pool error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionPoolError) Unwrap() error {
	return e.Err
}

// IsConnectionPoolError checks if an error is a connection pool error
func IsConnectionPoolError(err error) bool {
	var target *ConnectionPoolError
	return errors.As(err, &target)
}

// ErrPoolClosed is wrapped by Get after Close.
var ErrPoolClosed = errors.New("connection pool is closed")
