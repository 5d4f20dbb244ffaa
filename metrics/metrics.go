// Package metrics exposes prometheus metrics for the verification flows and role reconciliation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector - Record flow outcomes, role operations and session counts
type Collector struct {
	outcomes         *prometheus.CounterVec
	roleOps          *prometheus.CounterVec
	reconcileLatency prometheus.Histogram
	activeSessions   prometheus.Gauge
}

// NewCollector - Create a Collector and register its metrics with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botto_flow_outcomes_total",
			Help: "Terminal outcomes of verify, unverify and update flows",
		}, []string{"flow", "outcome"}),
		roleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botto_role_operations_total",
			Help: "Discord role changes by operation and result",
		}, []string{"op", "result"}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botto_reconcile_duration_seconds",
			Help:    "Time spent applying a role reconciliation",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botto_active_sessions",
			Help: "Running verify, unverify and update sessions",
		}),
	}

	reg.MustRegister(
		c.outcomes,
		c.roleOps,
		c.reconcileLatency,
		c.activeSessions,
	)
	return c
}

// RecordOutcome - Count a terminal flow outcome
func (c *Collector) RecordOutcome(flow, outcome string) {
	c.outcomes.WithLabelValues(flow, outcome).Inc()
}

// RecordRoleOp - Count a role add or remove and whether it succeeded
func (c *Collector) RecordRoleOp(op, result string) {
	c.roleOps.WithLabelValues(op, result).Inc()
}

// ObserveReconcile - Record how long a reconciliation took
func (c *Collector) ObserveReconcile(d time.Duration) {
	c.reconcileLatency.Observe(d.Seconds())
}

// SessionStarted - Increment the active session gauge
func (c *Collector) SessionStarted() {
	c.activeSessions.Inc()
}

// SessionEnded - Decrement the active session gauge
func (c *Collector) SessionEnded() {
	c.activeSessions.Dec()
}

// Handler - Serve /metrics for the given gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
