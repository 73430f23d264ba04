// Package session defines the boundary to the SQL client libraries that
// actually speak a wire protocol. A Driver establishes one Session per call;
// the connection manager never looks past these interfaces.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrSessionClosed = errors.New("session is closed")
	ErrUnknownDriver = errors.New("unknown session driver")
)

// Driver establishes sessions from an opaque target descriptor.
type Driver interface {
	Name() string
	Establish(ctx context.Context, descriptor string) (Session, error)
}

// Session is a single live network connection to a database server. A Session
// is used by one goroutine at a time.
type Session interface {
	// Query executes sql and returns a lazy row stream. Execution errors may
	// surface only once the stream has been drained, through Rows.Err.
	Query(ctx context.Context, sql string) (Rows, error)
	Close(ctx context.Context) error
}

// Rows is a forward-only result stream.
type Rows interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// Drain consumes rows to the end, closes it and returns the trailing error.
func Drain(rows Rows) error {
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// Collect drains rows, mapping each row through fn.
func Collect[T any](rows Rows, fn func(values []any) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		v, err := fn(values)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EstablishError is returned by drivers when a session cannot be opened.
type EstablishError struct {
	Driver string
	Err    error
}

func (e *EstablishError) Error() string {
	return fmt.Sprintf("%s: establish session: %v", e.Driver, e.Err)
}

func (e *EstablishError) Unwrap() error {
	return e.Err
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available by name. Registering the same name twice
// panics, as with database/sql.
func Register(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("session: Register driver is nil")
	}
	if _, dup := drivers[d.Name()]; dup {
		panic("session: Register called twice for driver " + d.Name())
	}
	drivers[d.Name()] = d
}

// Lookup returns the registered driver with the given name.
func Lookup(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownDriver, name, driverNames())
	}
	return d, nil
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	return driverNames()
}

func driverNames() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
