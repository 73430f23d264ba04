// Package sessiontest provides an in-memory session driver for tests.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/guileen/sessionpool/session"
)

var (
	ErrRefused = errors.New("connection refused")
	ErrReset   = errors.New("connection reset by peer")
)

// Driver is a fake session driver. Establish fails for the first FailCount
// calls, then succeeds. It is safe for concurrent use.
type Driver struct {
	name      string
	failCount int64

	attempts atomic.Int64
	opened   atomic.Int64
	closed   atomic.Int64

	mu       sync.Mutex
	sessions []*Session
	queryErr error
	trailing error
	onQuery  func()
}

// NewDriver returns a driver named name whose first failCount establish
// attempts fail with ErrRefused.
func NewDriver(name string, failCount int) *Driver {
	return &Driver{name: name, failCount: int64(failCount)}
}

func (d *Driver) Name() string { return d.name }

func (d *Driver) Establish(ctx context.Context, descriptor string) (session.Session, error) {
	n := d.attempts.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, &session.EstablishError{Driver: d.name, Err: err}
	}
	if n <= d.failCount {
		return nil, &session.EstablishError{Driver: d.name, Err: fmt.Errorf("dial %s: %w", descriptor, ErrRefused)}
	}

	s := &Session{driver: d, descriptor: descriptor}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	d.opened.Add(1)
	return s, nil
}

// FailQueries makes every subsequent query fail immediately with err.
// A nil err restores normal behaviour.
func (d *Driver) FailQueries(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queryErr = err
}

// FailTrailing makes every subsequent query return its rows and then report
// err from Rows.Err.
func (d *Driver) FailTrailing(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trailing = err
}

// OnQuery installs fn to run at the start of every subsequent query, before
// the query looks at its context. A nil fn removes the hook.
func (d *Driver) OnQuery(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onQuery = fn
}

// Sessions returns every session established so far.
func (d *Driver) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}

// Attempts returns the number of Establish calls.
func (d *Driver) Attempts() int { return int(d.attempts.Load()) }

// Opened returns the number of sessions established.
func (d *Driver) Opened() int { return int(d.opened.Load()) }

// Closed returns the number of sessions closed through Session.Close.
func (d *Driver) Closed() int { return int(d.closed.Load()) }

func (d *Driver) queryHook() func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onQuery
}

func (d *Driver) failures() (error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queryErr, d.trailing
}

// Session is a fake session. Kill simulates the server dropping it.
type Session struct {
	driver     *Driver
	descriptor string
	killed     atomic.Bool
	closed     atomic.Bool
	queries    atomic.Int64
}

// Kill closes the session from the server side.
func (s *Session) Kill() { s.killed.Store(true) }

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// Queries returns the number of queries issued on this session.
func (s *Session) Queries() int { return int(s.queries.Load()) }

// Descriptor returns the descriptor the session was established with.
func (s *Session) Descriptor() string { return s.descriptor }

func (s *Session) Query(ctx context.Context, sql string) (session.Rows, error) {
	s.queries.Add(1)
	if hook := s.driver.queryHook(); hook != nil {
		hook()
	}
	if s.closed.Load() {
		return nil, session.ErrSessionClosed
	}
	if s.killed.Load() {
		return nil, ErrReset
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queryErr, trailing := s.driver.failures()
	if queryErr != nil {
		return nil, queryErr
	}

	var rows [][]any
	if strings.EqualFold(strings.TrimSpace(sql), "SELECT 1") {
		rows = [][]any{{int64(1)}}
	}
	return &Rows{rows: rows, trailing: trailing}, nil
}

func (s *Session) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.driver.closed.Add(1)
	return nil
}

// Rows is a fixed in-memory result stream.
type Rows struct {
	rows     [][]any
	pos      int
	trailing error
	closed   bool
}

func (r *Rows) Next() bool {
	if r.closed || r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Values() ([]any, error) {
	if r.pos == 0 || r.pos > len(r.rows) {
		return nil, errors.New("sessiontest: Values called without a current row")
	}
	return r.rows[r.pos-1], nil
}

func (r *Rows) Err() error {
	if r.pos < len(r.rows) {
		return nil
	}
	return r.trailing
}

func (r *Rows) Close() { r.closed = true }
