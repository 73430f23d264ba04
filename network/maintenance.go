package network

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guileen/sessionpool/logger"
)

// refillConcurrency caps concurrent Connect calls while refilling
const refillConcurrency = 4

// maintenance fills the pool to MinConnections, then periodically health
// checks idle connections until the pool is closed.
func (p *ConnectionPool[C]) maintenance() {
	defer p.wg.Done()

	p.fill()

	ticker := time.NewTicker(p.config.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reap()
			p.fill()
		case <-p.done:
			return
		}
	}
}

// reap takes every idle connection out once, drops the broken, expired and
// surplus idle ones, validates the rest and parks them again.
func (p *ConnectionPool[C]) reap() {
	batch := p.takeIdle()
	if len(batch) == 0 {
		return
	}

	now := time.Now()
	for _, ic := range batch {
		switch {
		case p.manager.HasBroken(&ic.conn):
			p.discard(p.ctx, ic.conn, "broken while idle")
			continue
		case ic.isExpired(p.config.MaxLifetime):
			p.discard(p.ctx, ic.conn, "expired")
			continue
		case now.Sub(ic.lastUsedAt) > p.config.IdleTimeout && int(p.total.Load()) > p.config.MinConnections:
			p.discard(p.ctx, ic.conn, "idle timeout")
			continue
		}

		ctx, cancel := context.WithTimeout(p.ctx, p.config.ConnectionTimeout)
		p.stats.healthChecks.Add(1)
		conn, err := p.manager.IsValid(ctx, ic.conn)
		cancel()
		if err != nil {
			p.stats.failedHealth.Add(1)
			p.logger.Warn("idle connection failed health check", logger.ErrorField(err))
			p.discard(p.ctx, conn, "failed validation")
			continue
		}
		ic.conn = conn
		p.park(ic)
	}
}

func (p *ConnectionPool[C]) takeIdle() []*idleConn[C] {
	n := len(p.idle)
	batch := make([]*idleConn[C], 0, n)
	for i := 0; i < n; i++ {
		select {
		case ic := <-p.idle:
			batch = append(batch, ic)
		default:
			return batch
		}
	}
	return batch
}

// fill opens connections until the pool holds MinConnections. Failures are
// logged; the next maintenance tick tries again.
func (p *ConnectionPool[C]) fill() {
	want := p.config.MinConnections - int(p.total.Load())
	if want <= 0 || p.closed.Load() {
		return
	}

	var g errgroup.Group
	g.SetLimit(refillConcurrency)
	for i := 0; i < want; i++ {
		if !p.slots.TryAcquire(1) {
			break
		}
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(p.ctx, p.config.ConnectionTimeout)
			defer cancel()

			conn, err := p.manager.Connect(ctx)
			if err != nil {
				p.stats.connectionErrors.Add(1)
				p.releaseSlot()
				return err
			}
			p.total.Add(1)
			p.stats.totalConns.Add(1)
			now := time.Now()
			p.park(&idleConn[C]{conn: conn, createdAt: now, lastUsedAt: now})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Warn("failed to fill pool to minimum size",
			logger.Int("min_connections", p.config.MinConnections), logger.ErrorField(err))
	}
}
