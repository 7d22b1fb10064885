package graph

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects execution metrics for graphs and the capability
// clients that their nodes call.
//
// Metrics exposed (all namespaced with "research_"):
//
//  1. inflight_nodes (gauge): tasks currently executing.
//  2. step_latency_ms (histogram): node execution duration.
//     Labels: graph_id, node_id, status (success/error/timeout).
//  3. fanout_width (histogram): tasks launched by one superstep.
//     Labels: graph_id.
//  4. interrupts_total (counter): runs suspended at an interrupt.
//     Labels: graph_id, node_id.
//  5. checkpoints_total (counter): checkpoints written.
//     Labels: graph_id, status (interrupted/done).
//  6. retries_total (counter): retried capability calls and node attempts.
//     Labels: component, reason.
//  7. tokens_total (counter): completion tokens reported by providers.
//     Labels: component, direction (input/output).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(reducer, st, emitter, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are safe for concurrent use and safe to call on a nil receiver,
// which records nothing.
type PrometheusMetrics struct {
	inflightNodes prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	fanoutWidth   *prometheus.HistogramVec
	interrupts    *prometheus.CounterVec
	checkpoints   *prometheus.CounterVec
	retries       *prometheus.CounterVec
	tokens        *prometheus.CounterVec

	disabled atomic.Bool
}

// NewPrometheusMetrics registers the metric set with registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &PrometheusMetrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "research",
			Name:      "inflight_nodes",
			Help:      "Current number of graph tasks executing concurrently",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "research",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"graph_id", "node_id", "status"}),
		fanoutWidth: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "research",
			Name:      "fanout_width",
			Help:      "Number of tasks launched together in one superstep",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 16},
		}, []string{"graph_id"}),
		interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "research",
			Name:      "interrupts_total",
			Help:      "Runs suspended before an interrupt node",
		}, []string{"graph_id", "node_id"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "research",
			Name:      "checkpoints_total",
			Help:      "Checkpoints committed to the store",
		}, []string{"graph_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "research",
			Name:      "retries_total",
			Help:      "Retried capability calls and node attempts",
		}, []string{"component", "reason"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "research",
			Name:      "tokens_total",
			Help:      "Tokens reported by completion providers",
		}, []string{"component", "direction"}),
	}
}

func (pm *PrometheusMetrics) active() bool {
	return pm != nil && !pm.disabled.Load()
}

// RecordStepLatency observes one node execution.
func (pm *PrometheusMetrics) RecordStepLatency(graphID, nodeID string, latency time.Duration, status string) {
	if !pm.active() {
		return
	}
	pm.stepLatency.WithLabelValues(graphID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// AddInflight adjusts the inflight task gauge by delta.
func (pm *PrometheusMetrics) AddInflight(delta int) {
	if !pm.active() {
		return
	}
	pm.inflightNodes.Add(float64(delta))
}

// ObserveFanout records the width of a superstep.
func (pm *PrometheusMetrics) ObserveFanout(graphID string, width int) {
	if !pm.active() {
		return
	}
	pm.fanoutWidth.WithLabelValues(graphID).Observe(float64(width))
}

// IncrementInterrupts counts a suspension before nodeID.
func (pm *PrometheusMetrics) IncrementInterrupts(graphID, nodeID string) {
	if !pm.active() {
		return
	}
	pm.interrupts.WithLabelValues(graphID, nodeID).Inc()
}

// IncrementCheckpoints counts a committed checkpoint.
func (pm *PrometheusMetrics) IncrementCheckpoints(graphID, status string) {
	if !pm.active() {
		return
	}
	pm.checkpoints.WithLabelValues(graphID, status).Inc()
}

// IncrementRetries counts a retry by component (a node ID or a client name).
func (pm *PrometheusMetrics) IncrementRetries(component, reason string) {
	if !pm.active() {
		return
	}
	pm.retries.WithLabelValues(component, reason).Inc()
}

// AddTokens records provider-reported token usage.
func (pm *PrometheusMetrics) AddTokens(component string, input, output int) {
	if !pm.active() {
		return
	}
	if input > 0 {
		pm.tokens.WithLabelValues(component, "input").Add(float64(input))
	}
	if output > 0 {
		pm.tokens.WithLabelValues(component, "output").Add(float64(output))
	}
}

// Disable stops metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.disabled.Store(true)
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.disabled.Store(false)
}
