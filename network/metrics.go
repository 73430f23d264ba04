package network

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsSource is anything that reports pool statistics.
type StatsSource interface {
	Stats() PoolStats
	GetMetrics() PoolMetrics
}

// Collector exports a pool's statistics as Prometheus metrics, read at
// scrape time.
type Collector struct {
	source StatsSource

	hits             *prometheus.Desc
	misses           *prometheus.Desc
	timeouts         *prometheus.Desc
	created          *prometheus.Desc
	closed           *prometheus.Desc
	connectionErrors *prometheus.Desc
	healthChecks     *prometheus.Desc
	failedHealth     *prometheus.Desc
	brokenReturns    *prometheus.Desc
	idle             *prometheus.Desc
	active           *prometheus.Desc
	maxSize          *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for source, labelled with the pool name.
func NewCollector(poolName string, source StatsSource) *Collector {
	labels := prometheus.Labels{"pool": poolName}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("sessionpool", "pool", name), help, nil, labels)
	}
	return &Collector{
		source:           source,
		hits:             desc("hits_total", "Checkouts served by an idle connection."),
		misses:           desc("misses_total", "Checkouts that opened a new connection."),
		timeouts:         desc("timeouts_total", "Checkouts that gave up waiting."),
		created:          desc("connections_created_total", "Connections opened."),
		closed:           desc("connections_closed_total", "Connections discarded."),
		connectionErrors: desc("connection_errors_total", "Failed connection attempts."),
		healthChecks:     desc("health_checks_total", "Validation probes run."),
		failedHealth:     desc("health_check_failures_total", "Validation probes that poisoned a connection."),
		brokenReturns:    desc("broken_returns_total", "Leases returned with a broken connection."),
		idle:             desc("idle_connections", "Idle connections."),
		active:           desc("active_connections", "Leased connections."),
		maxSize:          desc("max_connections", "Configured maximum pool size."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.hits, c.misses, c.timeouts, c.created, c.closed, c.connectionErrors,
		c.healthChecks, c.failedHealth, c.brokenReturns, c.idle, c.active, c.maxSize,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	metrics := c.source.GetMetrics()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.hits, stats.Hits)
	counter(c.misses, stats.Misses)
	counter(c.timeouts, stats.Timeouts)
	counter(c.created, stats.TotalConns)
	counter(c.closed, stats.ClosedConns)
	counter(c.connectionErrors, stats.ConnectionErrors)
	counter(c.healthChecks, stats.HealthChecks)
	counter(c.failedHealth, stats.FailedHealth)
	counter(c.brokenReturns, stats.BrokenReturns)
	gauge(c.idle, float64(stats.IdleConns))
	gauge(c.active, float64(stats.ActiveConns))
	gauge(c.maxSize, float64(metrics.MaxSize))
}
