// Package network is a generic connection pool driven entirely through a
// ConnectionManager: it sizes, queues, validates and retires connections
// without knowing what a connection is.
package network

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/guileen/sessionpool/logger"
)

// ConnectionPool manages a set of reusable connections of type C
type ConnectionPool[C any] struct {
	config  PoolConfig
	manager ConnectionManager[C]
	logger  *slog.Logger

	idle   chan *idleConn[C]
	slots  *semaphore.Weighted // one unit per live connection, leased or idle
	freed  chan struct{}       // wakes waiters when a slot is given back
	total  atomic.Int32
	active atomic.Int32
	stats  poolCounters

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// PoolOption configures a ConnectionPool
type PoolOption func(*poolOptions)

type poolOptions struct {
	logger *slog.Logger
}

// WithPoolLogger sets the pool's logger
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(o *poolOptions) { o.logger = l }
}

// NewConnectionPool creates a pool and starts its maintenance goroutine, which
// fills the pool up to MinConnections in the background.
func NewConnectionPool[C any](config PoolConfig, manager ConnectionManager[C], opts ...PoolOption) *ConnectionPool[C] {
	config.applyDefaults()

	var o poolOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.With(logger.Component("pool"))
	}

	ctx, cancel := context.WithCancel(logger.WithContextValue(context.Background(), logger.PoolKey, config.Name))
	p := &ConnectionPool[C]{
		config:  config,
		manager: manager,
		logger:  o.logger.With(logger.String("pool", config.Name)),
		idle:    make(chan *idleConn[C], config.MaxConnections),
		slots:   semaphore.NewWeighted(int64(config.MaxConnections)),
		freed:   make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	p.wg.Add(1)
	go p.maintenance()

	return p
}

// Config returns the effective configuration
func (p *ConnectionPool[C]) Config() PoolConfig {
	return p.config
}

// Get checks a connection out of the pool. It reuses an idle connection
// (validated first when TestOnCheckout is set), opens a new one while the pool
// is below MaxConnections, and otherwise waits. When ConnectionTimeout expires
// the manager's TimedOut error is returned. Once ctx is done Get stops taking
// idle connections and returns a *ConnectionPoolError wrapping ctx.Err().
func (p *ConnectionPool[C]) Get(ctx context.Context) (*Lease[C], error) {
	if p.closed.Load() {
		return nil, &ConnectionPoolError{Op: OpGet, Err: ErrPoolClosed}
	}

	timer := time.NewTimer(p.config.ConnectionTimeout)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, &ConnectionPoolError{Op: OpGet, Err: err}
		}

		select {
		case ic := <-p.idle:
			if lease, err := p.checkout(ctx, ic); lease != nil || err != nil {
				return lease, err
			}
			continue
		default:
		}

		if p.slots.TryAcquire(1) {
			// pass the wake-up on in case more than one slot came free
			p.notifyFreed()
			return p.open(ctx)
		}

		select {
		case ic := <-p.idle:
			if lease, err := p.checkout(ctx, ic); lease != nil || err != nil {
				return lease, err
			}
		case <-p.freed:
		case <-p.done:
			return nil, &ConnectionPoolError{Op: OpGet, Err: ErrPoolClosed}
		case <-ctx.Done():
			return nil, &ConnectionPoolError{Op: OpGet, Err: ctx.Err()}
		case <-timer.C:
			p.stats.timeouts.Add(1)
			p.logger.WarnContext(ctx, "timed out waiting for a connection",
				logger.Duration("timeout", p.config.ConnectionTimeout))
			return nil, p.manager.TimedOut()
		}
	}
}

// Put returns a leased connection. Broken connections (per the manager's
// HasBroken) are discarded, as are expired ones and any that do not fit.
func (p *ConnectionPool[C]) Put(lease *Lease[C]) {
	if lease == nil || !lease.returned.CompareAndSwap(false, true) {
		return
	}
	p.active.Add(-1)

	if p.manager.HasBroken(&lease.Conn) {
		p.stats.brokenReturns.Add(1)
		p.discard(p.ctx, lease.Conn, "returned broken")
		return
	}

	ic := &idleConn[C]{conn: lease.Conn, createdAt: lease.createdAt, lastUsedAt: time.Now()}
	if p.closed.Load() {
		p.discard(p.ctx, ic.conn, "pool closed")
		return
	}
	if ic.isExpired(p.config.MaxLifetime) {
		p.discard(p.ctx, ic.conn, "expired")
		return
	}
	p.park(ic)
}

// Invalidate returns a lease whose connection state is unknown, for example
// after a panic. The connection is released and never reused.
func (p *ConnectionPool[C]) Invalidate(lease *Lease[C]) {
	if lease == nil || !lease.returned.CompareAndSwap(false, true) {
		return
	}
	p.active.Add(-1)
	p.discard(p.ctx, lease.Conn, "invalidated")
}

// Run checks out a connection, runs fn with it and checks the connection fn
// hands back into the pool. fn returns the connection it was given, or a
// broken one if it found the connection unusable.
func (p *ConnectionPool[C]) Run(ctx context.Context, fn func(ctx context.Context, conn C) (C, error)) error {
	_, err := Run(ctx, p, func(ctx context.Context, conn C) (struct{}, C, error) {
		conn, err := fn(ctx, conn)
		return struct{}{}, conn, err
	})
	return err
}

// Run is ConnectionPool.Run for functions that produce a value.
func Run[C, T any](ctx context.Context, p *ConnectionPool[C], fn func(ctx context.Context, conn C) (T, C, error)) (T, error) {
	lease, err := p.Get(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	returned := false
	defer func() {
		if !returned {
			p.Invalidate(lease)
		}
	}()

	v, conn, err := fn(ctx, lease.Conn)
	lease.Conn = conn
	returned = true
	p.Put(lease)
	return v, err
}

// Close shuts down the pool and releases every idle connection. Leases still
// out are released when they are returned.
func (p *ConnectionPool[C]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	close(p.done)
	p.wg.Wait()
	p.drainIdle()
	p.logger.Info("connection pool closed", logger.Int("closed_conns", int(p.stats.closedConns.Load())))
	return nil
}

// IsClosed reports whether Close has been called
func (p *ConnectionPool[C]) IsClosed() bool {
	return p.closed.Load()
}

// Stats returns current pool statistics
func (p *ConnectionPool[C]) Stats() PoolStats {
	return PoolStats{
		Hits:             p.stats.hits.Load(),
		Misses:           p.stats.misses.Load(),
		Timeouts:         p.stats.timeouts.Load(),
		TotalConns:       p.stats.totalConns.Load(),
		IdleConns:        uint64(len(p.idle)),
		ActiveConns:      uint64(max(p.active.Load(), 0)),
		HealthChecks:     p.stats.healthChecks.Load(),
		FailedHealth:     p.stats.failedHealth.Load(),
		ConnectionErrors: p.stats.connectionErrors.Load(),
		ClosedConns:      p.stats.closedConns.Load(),
		BrokenReturns:    p.stats.brokenReturns.Load(),
	}
}

// GetMetrics returns derived pool metrics
func (p *ConnectionPool[C]) GetMetrics() PoolMetrics {
	stats := p.Stats()

	hitRate := 0.0
	if total := stats.Hits + stats.Misses + stats.Timeouts; total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	errorRate := 0.0
	if attempts := stats.TotalConns + stats.ConnectionErrors; attempts > 0 {
		errorRate = float64(stats.ConnectionErrors) / float64(attempts) * 100
	}

	return PoolMetrics{
		CurrentSize: int(p.total.Load()),
		MaxSize:     p.config.MaxConnections,
		Available:   len(p.idle),
		Active:      int(max(p.active.Load(), 0)),
		HitRate:     hitRate,
		ErrorRate:   errorRate,
	}
}

// checkout turns an idle connection into a lease, validating it first when
// configured. A nil lease with a nil error means the connection was discarded
// and the caller should try again. If ctx is done the connection is parked
// unvalidated, or, when ctx ends during validation, dropped without being
// counted as a failed health check.
func (p *ConnectionPool[C]) checkout(ctx context.Context, ic *idleConn[C]) (*Lease[C], error) {
	if p.manager.HasBroken(&ic.conn) {
		p.discard(ctx, ic.conn, "broken while idle")
		return nil, nil
	}
	if ic.isExpired(p.config.MaxLifetime) {
		p.discard(ctx, ic.conn, "expired")
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		p.park(ic)
		return nil, &ConnectionPoolError{Op: OpGet, Err: err}
	}

	if p.config.TestOnCheckout {
		p.stats.healthChecks.Add(1)
		conn, err := p.manager.IsValid(ctx, ic.conn)
		if err != nil {
			p.discard(ctx, conn, "failed validation")
			if cerr := ctx.Err(); cerr != nil {
				return nil, &ConnectionPoolError{Op: OpGet, Err: cerr}
			}
			p.stats.failedHealth.Add(1)
			p.logger.DebugContext(ctx, "idle connection failed checkout validation", logger.ErrorField(err))
			return nil, nil
		}
		ic.conn = conn
	}

	p.stats.hits.Add(1)
	p.active.Add(1)
	return &Lease[C]{Conn: ic.conn, createdAt: ic.createdAt}, nil
}

// open creates a connection for a caller; the slot is already held.
func (p *ConnectionPool[C]) open(ctx context.Context) (*Lease[C], error) {
	conn, err := p.manager.Connect(ctx)
	if err != nil {
		p.stats.connectionErrors.Add(1)
		p.releaseSlot()
		return nil, &ConnectionPoolError{Op: OpConnect, Err: err}
	}

	p.total.Add(1)
	p.stats.totalConns.Add(1)
	p.stats.misses.Add(1)
	p.active.Add(1)
	return &Lease[C]{Conn: conn, createdAt: time.Now()}, nil
}

// park puts a healthy connection back on the idle queue.
func (p *ConnectionPool[C]) park(ic *idleConn[C]) {
	select {
	case p.idle <- ic:
	default:
		p.discard(p.ctx, ic.conn, "pool full")
		return
	}
	// lost a race with Close
	if p.closed.Load() {
		p.drainIdle()
	}
}

// discard drops a connection, closing it through the manager when it is
// still live, and frees its slot.
func (p *ConnectionPool[C]) discard(ctx context.Context, conn C, reason string) {
	if !p.manager.HasBroken(&conn) {
		if r, ok := p.manager.(Releaser[C]); ok {
			r.Release(ctx, conn)
		}
	}
	p.total.Add(-1)
	p.stats.closedConns.Add(1)
	p.releaseSlot()
	p.logger.DebugContext(ctx, "connection discarded", logger.String("reason", reason))
}

func (p *ConnectionPool[C]) releaseSlot() {
	p.slots.Release(1)
	p.notifyFreed()
}

func (p *ConnectionPool[C]) notifyFreed() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

func (p *ConnectionPool[C]) drainIdle() {
	for {
		select {
		case ic := <-p.idle:
			p.discard(context.Background(), ic.conn, "pool closed")
		default:
			return
		}
	}
}
