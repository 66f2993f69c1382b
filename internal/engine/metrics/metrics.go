// Package metrics provides protocol metrics collection for the engine.
// It wraps Prometheus collectors to provide structured telemetry for pool
// operations, aggregate balances, swap volume and snapshot persistence.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Totals is a point-in-time view of the aggregate balances across all pools.
type Totals struct {
	Staked      float64
	Deposits    float64
	Borrowed    float64
	Liquidity   float64
	Utilization float64
}

// Collector provides engine metrics collection.
type Collector struct {
	registry *prometheus.Registry

	// Operation metrics
	operationsTotal  *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	swapVolume       *prometheus.CounterVec

	// Aggregate metrics
	pools            *prometheus.GaugeVec
	totalStaked      prometheus.Gauge
	totalDeposits    prometheus.Gauge
	totalBorrowed    prometheus.Gauge
	totalLiquidity   prometheus.Gauge
	utilizationRatio prometheus.Gauge

	// Snapshot metrics
	snapshotsTotal  *prometheus.CounterVec
	snapshotLatency *prometheus.HistogramVec

	// Resource metrics
	uptime    prometheus.Gauge
	startTime time.Time

	mu sync.RWMutex
}

// NewCollector creates a new engine metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "defi"
	}

	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	c.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "operations_total",
			Help:      "Total number of pool operations by kind, operation and result",
		},
		[]string{"kind", "operation", "result"},
	)

	c.operationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "operation_duration_seconds",
			Help:      "Time taken by pool operations including lock wait",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		},
		[]string{"kind", "operation"},
	)

	c.swapVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "amm",
			Name:      "swap_volume_total",
			Help:      "Cumulative input volume swapped per pool and input token",
		},
		[]string{"pool", "token"},
	)

	c.pools = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "pools",
			Help:      "Number of registered pools by kind",
		},
		[]string{"kind"},
	)

	c.totalStaked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "total_staked",
		Help:      "Sum of staked amounts across staking pools",
	})

	c.totalDeposits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "total_deposits",
		Help:      "Sum of deposit principal across lending pools",
	})

	c.totalBorrowed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "total_borrowed",
		Help:      "Sum of loan principal across lending pools",
	})

	c.totalLiquidity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "total_liquidity",
		Help:      "Sum of liquidity shares across AMM pools",
	})

	c.utilizationRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "utilization_ratio",
		Help:      "Total borrowed divided by total deposits",
	})

	c.snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "saves_total",
			Help:      "Total number of snapshot saves by backend and result",
		},
		[]string{"backend", "result"},
	)

	c.snapshotLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "save_duration_seconds",
			Help:      "Time taken to persist a snapshot",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"backend"},
	)

	c.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Engine uptime in seconds",
		},
	)

	c.registry.MustRegister(
		c.operationsTotal,
		c.operationLatency,
		c.swapVolume,
		c.pools,
		c.totalStaked,
		c.totalDeposits,
		c.totalBorrowed,
		c.totalLiquidity,
		c.utilizationRatio,
		c.snapshotsTotal,
		c.snapshotLatency,
		c.uptime,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordOperation records the outcome and latency of a pool operation.
func (c *Collector) RecordOperation(kind, operation string, duration time.Duration, err error) {
	c.operationsTotal.WithLabelValues(kind, operation, result(err)).Inc()
	c.operationLatency.WithLabelValues(kind, operation).Observe(duration.Seconds())
}

// RecordSwapVolume adds amountIn to the pool's swap volume.
func (c *Collector) RecordSwapVolume(poolID, token string, amountIn float64) {
	if amountIn <= 0 {
		return
	}
	c.swapVolume.WithLabelValues(poolID, token).Add(amountIn)
}

// RecordPoolCount records the number of pools of one kind.
func (c *Collector) RecordPoolCount(kind string, count int) {
	c.pools.WithLabelValues(kind).Set(float64(count))
}

// RecordTotals records the aggregate balances.
func (c *Collector) RecordTotals(t Totals) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalStaked.Set(t.Staked)
	c.totalDeposits.Set(t.Deposits)
	c.totalBorrowed.Set(t.Borrowed)
	c.totalLiquidity.Set(t.Liquidity)
	c.utilizationRatio.Set(t.Utilization)
}

// RecordSnapshot records a snapshot save attempt.
func (c *Collector) RecordSnapshot(backend string, duration time.Duration, err error) {
	c.snapshotsTotal.WithLabelValues(backend, result(err)).Inc()
	c.snapshotLatency.WithLabelValues(backend).Observe(duration.Seconds())
}

// UpdateUptime updates the uptime metric.
func (c *Collector) UpdateUptime() {
	c.mu.RLock()
	start := c.startTime
	c.mu.RUnlock()
	c.uptime.Set(time.Since(start).Seconds())
}

// Reset resets gauges that describe current state.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools.Reset()
	c.totalStaked.Set(0)
	c.totalDeposits.Set(0)
	c.totalBorrowed.Set(0)
	c.totalLiquidity.Set(0)
	c.utilizationRatio.Set(0)
	c.startTime = time.Now()
}

// NoOpCollector is a metrics collector that discards all metrics.
type NoOpCollector struct{}

// NewNoOpCollector creates a no-op metrics collector.
func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (*NoOpCollector) RecordOperation(kind, operation string, d time.Duration, err error) {}
func (*NoOpCollector) RecordSwapVolume(poolID, token string, amountIn float64)            {}
func (*NoOpCollector) RecordPoolCount(kind string, count int)                             {}
func (*NoOpCollector) RecordTotals(t Totals)                                              {}
func (*NoOpCollector) RecordSnapshot(backend string, d time.Duration, err error)          {}
func (*NoOpCollector) UpdateUptime()                                                      {}
func (*NoOpCollector) Reset()                                                             {}

// MetricsCollector is the interface for metrics collection.
type MetricsCollector interface {
	RecordOperation(kind, operation string, duration time.Duration, err error)
	RecordSwapVolume(poolID, token string, amountIn float64)
	RecordPoolCount(kind string, count int)
	RecordTotals(t Totals)
	RecordSnapshot(backend string, duration time.Duration, err error)
	UpdateUptime()
	Reset()
}

// Verify interface compliance
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = (*NoOpCollector)(nil)
)
