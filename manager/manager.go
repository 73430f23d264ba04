// Package manager implements the connection-manager contract a generic pool
// uses to create, validate, retire and time out single SQL sessions without
// knowing their wire protocol.
//
// The four pool callbacks are Connect, IsValid, HasBroken and TimedOut. A
// connection's validity lives in the Conn value handed between them: a failed
// probe returns the error together with a poisoned Conn, so the pool never has
// to guess whether a connection may be recycled.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/guileen/sessionpool/logger"
	"github.com/guileen/sessionpool/session"
)

// ProbeQuery is the fixed statement IsValid runs.
const ProbeQuery = "SELECT 1"

const closeTimeout = 5 * time.Second

// ConnectionManager holds the immutable configuration needed to open
// sessions. It is safe for concurrent use; it holds no mutable state.
type ConnectionManager struct {
	descriptor string
	driver     session.Driver
	logger     *slog.Logger
}

// Option configures a ConnectionManager at construction time.
type Option func(*ConnectionManager)

// WithLogger sets the logger used for connection lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(m *ConnectionManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a manager that opens sessions to descriptor through driver.
// The descriptor is opaque and passed to the driver verbatim.
func New[S ~string](descriptor S, driver session.Driver, opts ...Option) *ConnectionManager {
	m := &ConnectionManager{
		descriptor: string(descriptor),
		driver:     driver,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.With(logger.Component("manager"), logger.Driver(driver.Name()))
	}
	return m
}

// Open is New with the driver looked up in the session registry.
func Open[S ~string](driverName string, descriptor S, opts ...Option) (*ConnectionManager, error) {
	driver, err := session.Lookup(driverName)
	if err != nil {
		return nil, err
	}
	return New(descriptor, driver, opts...), nil
}

// Descriptor returns the connection target descriptor.
func (m *ConnectionManager) Descriptor() string { return m.descriptor }

// Driver returns the session driver.
func (m *ConnectionManager) Driver() session.Driver { return m.driver }

// Connect establishes a new session and returns it as a live Conn. Driver
// failures are returned wrapped in a KindEstablish *Error; no retry is made.
func (m *ConnectionManager) Connect(ctx context.Context) (Conn, error) {
	start := time.Now()
	sess, err := m.driver.Establish(ctx, m.descriptor)
	if err != nil {
		m.logger.DebugContext(ctx, "connect failed",
			logger.Operation("connect"), logger.ErrorField(err))
		return Conn{}, &Error{Op: "connect", Kind: KindEstablish, Err: err}
	}

	conn := newConn(sess)
	m.logger.DebugContext(ctx, "connection established",
		logger.ConnID(conn.ID()), logger.Duration("elapsed", time.Since(start)))
	return conn, nil
}

// IsValid runs ProbeQuery on conn and drains its result stream. On success it
// returns conn unchanged. On failure, including cancellation of ctx, the
// session is closed and the returned Conn is poisoned alongside a
// KindValidation *Error.
//
// conn must be live. Passing a poisoned Conn panics with a *PreconditionError:
// the pool is responsible for filtering those out with HasBroken first.
func (m *ConnectionManager) IsValid(ctx context.Context, conn Conn) (Conn, error) {
	err := conn.do("is_valid", func(s session.Session) error {
		rows, err := s.Query(ctx, ProbeQuery)
		if err != nil {
			return err
		}
		return session.Drain(rows)
	})
	if err != nil {
		m.logger.WarnContext(ctx, "connection failed validation",
			logger.ConnID(conn.ID()), logger.ErrorField(err))
		if cerr := conn.retire(ctx); cerr != nil {
			m.logger.DebugContext(ctx, "close after failed validation",
				logger.ConnID(conn.ID()), logger.ErrorField(cerr))
		}
		return conn, &Error{Op: "is_valid", Kind: KindValidation, ConnID: conn.ID(), Err: err}
	}

	logger.Trace(ctx, m.logger, "connection validated", logger.ConnID(conn.ID()))
	return conn, nil
}

// HasBroken reports whether conn is poisoned. It performs no I/O.
func (m *ConnectionManager) HasBroken(conn *Conn) bool {
	return conn == nil || conn.State() == StatePoisoned
}

// TimedOut returns the error a pool reports when its own wait for a free
// connection expires. It is an I/O kind *Error for which IsTimeout is true.
func (m *ConnectionManager) TimedOut() error {
	return &Error{Op: "timed_out", Kind: KindIO, Err: ErrTimedOut}
}

// Release closes the session of a live connection the pool is retiring for a
// reason other than failure: overflow, idle or lifetime expiry, shutdown.
// The connection is poisoned afterwards. Poisoned connections are ignored.
func (m *ConnectionManager) Release(ctx context.Context, conn Conn) {
	if !conn.IsLive() {
		return
	}
	if err := conn.retire(ctx); err != nil {
		m.logger.DebugContext(ctx, "close on release",
			logger.ConnID(conn.ID()), logger.ErrorField(err))
	}
}

func (m *ConnectionManager) String() string {
	return fmt.Sprintf("ConnectionManager { connection_string: %s }", m.descriptor)
}
