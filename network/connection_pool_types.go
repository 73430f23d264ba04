package network

import (
	"context"
	"sync/atomic"
	"time"
)

// ConnectionManager is the contract a pool uses to create, validate, retire
// and time out connections of type C. The pool never inspects C itself.
type ConnectionManager[C any] interface {
	// Connect opens a new connection.
	Connect(ctx context.Context) (C, error)
	// IsValid checks a connection and hands it back. On failure the returned
	// connection must report HasBroken.
	IsValid(ctx context.Context, conn C) (C, error)
	// HasBroken reports, without I/O, whether conn must be discarded.
	HasBroken(conn *C) bool
	// TimedOut builds the error returned when a wait for a connection expires.
	TimedOut() error
}

// Releaser is implemented by managers whose connections need an explicit
// close when the pool retires a healthy one.
type Releaser[C any] interface {
	Release(ctx context.Context, conn C)
}

// PoolConfig defines configuration for the connection pool
type PoolConfig struct {
	Name              string
	MaxConnections    int
	MinConnections    int
	ConnectionTimeout time.Duration // how long Get waits for a free connection
	IdleTimeout       time.Duration
	MaxLifetime       time.Duration
	HealthCheckPeriod time.Duration
	TestOnCheckout    bool // validate idle connections before handing them out
}

// DefaultPoolConfig returns the default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Name:              "default",
		MaxConnections:    10,
		MinConnections:    0,
		ConnectionTimeout: 30 * time.Second,
		IdleTimeout:       10 * time.Minute,
		MaxLifetime:       30 * time.Minute,
		HealthCheckPeriod: 1 * time.Minute,
		TestOnCheckout:    true,
	}
}

func (c *PoolConfig) applyDefaults() {
	d := DefaultPoolConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.MinConnections < 0 {
		c.MinConnections = 0
	}
	if c.MinConnections > c.MaxConnections {
		c.MinConnections = c.MaxConnections
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.MaxLifetime <= 0 {
		c.MaxLifetime = d.MaxLifetime
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = d.HealthCheckPeriod
	}
}

// PoolStats contains statistics about the pool
type PoolStats struct {
	Hits        uint64 `json:"hits"`         // number of times a connection was found in the pool
	Misses      uint64 `json:"misses"`       // number of times a new connection was created for a caller
	Timeouts    uint64 `json:"timeouts"`     // number of times a connection request timed out
	TotalConns  uint64 `json:"total_conns"`  // total number of connections created
	IdleConns   uint64 `json:"idle_conns"`   // current number of idle connections
	ActiveConns uint64 `json:"active_conns"` // current number of leased connections

	HealthChecks     uint64 `json:"health_checks"`
	FailedHealth     uint64 `json:"failed_health"`
	ConnectionErrors uint64 `json:"connection_errors"`
	ClosedConns      uint64 `json:"closed_conns"`
	BrokenReturns    uint64 `json:"broken_returns"` // leases returned poisoned
}

// PoolMetrics contains derived runtime metrics for the pool
type PoolMetrics struct {
	CurrentSize int     `json:"current_size"`
	MaxSize     int     `json:"max_size"`
	Available   int     `json:"available"`
	Active      int     `json:"active"`
	HitRate     float64 `json:"hit_rate"`
	ErrorRate   float64 `json:"error_rate"`
}

type poolCounters struct {
	hits             atomic.Uint64
	misses           atomic.Uint64
	timeouts         atomic.Uint64
	totalConns       atomic.Uint64
	healthChecks     atomic.Uint64
	failedHealth     atomic.Uint64
	connectionErrors atomic.Uint64
	closedConns      atomic.Uint64
	brokenReturns    atomic.Uint64
}

// idleConn is a connection parked in the pool
type idleConn[C any] struct {
	conn       C
	createdAt  time.Time
	lastUsedAt time.Time
}

func (ic *idleConn[C]) isExpired(maxLifetime time.Duration) bool {
	return time.Since(ic.createdAt) > maxLifetime
}

// Lease is a connection checked out of a pool. The holder owns Conn until the
// lease is handed back with Put (or Invalidate); if an operation replaces the
// connection value, store the new value in Conn before returning the lease.
type Lease[C any] struct {
	Conn C

	createdAt time.Time
	returned  atomic.Bool
}

// CreatedAt returns when the leased connection was established.
func (l *Lease[C]) CreatedAt() time.Time { return l.createdAt }
