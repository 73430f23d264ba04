package manager

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/guileen/sessionpool/session"
)

// State is the validity state of a Conn.
type State uint8

const (
	// StatePoisoned marks a connection whose session was consumed or failed.
	// It is terminal: the pool must discard the connection.
	StatePoisoned State = iota
	// StateLive marks a connection believed usable.
	StateLive
)

func (s State) String() string {
	if s == StateLive {
		return "live"
	}
	return "poisoned"
}

// Conn is the unit exchanged with a pool. It is either live, holding a
// session, or poisoned. The zero Conn is poisoned.
//
// Conn is passed by value and ownership moves with it: whoever holds the
// value last is the only party allowed to use it. Copies share state, so
// once any copy is poisoned every copy reports StatePoisoned.
type Conn struct {
	h *handle
}

type handle struct {
	id        uuid.UUID
	sess      session.Session
	createdAt time.Time
	poisoned  atomic.Bool
	busy      atomic.Bool
}

func newConn(sess session.Session) Conn {
	return Conn{h: &handle{
		id:        uuid.New(),
		sess:      sess,
		createdAt: time.Now(),
	}}
}

// State reports whether the connection is live or poisoned.
func (c Conn) State() State {
	if c.h == nil || c.h.poisoned.Load() {
		return StatePoisoned
	}
	return StateLive
}

// IsLive is shorthand for State() == StateLive.
func (c Conn) IsLive() bool { return c.State() == StateLive }

// ID returns the connection's identity, or "" for the zero Conn.
func (c Conn) ID() string {
	if c.h == nil {
		return ""
	}
	return c.h.id.String()
}

// CreatedAt returns when the session was established.
func (c Conn) CreatedAt() time.Time {
	if c.h == nil {
		return time.Time{}
	}
	return c.h.createdAt
}

// Session returns the underlying session, or nil once poisoned.
func (c Conn) Session() session.Session {
	if !c.IsLive() {
		return nil
	}
	return c.h.sess
}

// Do runs fn with exclusive use of the session. It panics with a
// *PreconditionError if the connection is poisoned or already in use.
func (c Conn) Do(fn func(session.Session) error) error {
	return c.do("do", fn)
}

func (c Conn) do(op string, fn func(session.Session) error) error {
	c.checkout(op)
	defer c.h.busy.Store(false)
	return fn(c.h.sess)
}

// Query runs sql on the session. The connection stays checked out until the
// returned rows are closed; Drain and Collect close them.
func (c Conn) Query(ctx context.Context, sql string) (session.Rows, error) {
	c.checkout("query")
	rows, err := c.h.sess.Query(ctx, sql)
	if err != nil {
		c.h.busy.Store(false)
		return nil, err
	}
	return &connRows{Rows: rows, h: c.h}, nil
}

// Poison releases the session and returns the connection in the poisoned
// state. Use it to report a failure noticed outside the manager, such as a
// query error on a borrowed connection. Poisoning a poisoned connection is a
// no-op; poisoning one that is in use elsewhere panics with ErrConcurrentUse.
func (c Conn) Poison(ctx context.Context) Conn {
	if !c.IsLive() {
		return c
	}
	if !c.h.busy.CompareAndSwap(false, true) {
		panic(&PreconditionError{Op: "poison", ConnID: c.ID(), Reason: ErrConcurrentUse})
	}
	defer c.h.busy.Store(false)
	c.retire(ctx)
	return c
}

func (c Conn) String() string {
	return c.ID() + "(" + c.State().String() + ")"
}

func (c Conn) checkout(op string) {
	if !c.IsLive() {
		panic(&PreconditionError{Op: op, ConnID: c.ID(), Reason: ErrPoisoned})
	}
	if !c.h.busy.CompareAndSwap(false, true) {
		panic(&PreconditionError{Op: op, ConnID: c.ID(), Reason: ErrConcurrentUse})
	}
}

// retire flips the handle to poisoned and closes the session exactly once.
func (c Conn) retire(ctx context.Context) error {
	if c.h.poisoned.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	return c.h.sess.Close(ctx)
}

// connRows checks the connection back in when the stream is closed.
type connRows struct {
	session.Rows
	h      *handle
	closed bool
}

func (r *connRows) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.Rows.Close()
	r.h.busy.Store(false)
}
