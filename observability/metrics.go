package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records operation activity of the escrow engine as served by
// the RPC layer.
type EscrowMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	heldBalance prometheus.Gauge
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Metrics returns the lazily-initialised escrow metrics registry.
func Metrics() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowd",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Escrow operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "escrowd",
				Subsystem: "engine",
				Name:      "operation_seconds",
				Help:      "Escrow operation latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			heldBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "escrowd",
				Subsystem: "engine",
				Name:      "held_balance_wei",
				Help:      "Native funds currently held in the escrow vault.",
			}),
		}
		prometheus.MustRegister(escrowRegistry.operations, escrowRegistry.latency, escrowRegistry.heldBalance)
	})
	return escrowRegistry
}

// ObserveOperation records one engine operation and its duration.
func (m *EscrowMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetHeldBalance updates the held-balance gauge. The caller converts the
// big-integer vault balance to a float; precision loss here is acceptable
// because the gauge is for dashboards, not accounting.
func (m *EscrowMetrics) SetHeldBalance(balance float64) {
	if m == nil {
		return
	}
	m.heldBalance.Set(balance)
}
