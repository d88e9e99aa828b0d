package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for graph execution.
//
// Exposed series (namespace "insightflow", subsystem "workflow"):
//
//   - node_duration_ms (histogram): per-node execution latency,
//     labels: node, status (success/error)
//   - node_retries_total (counter): retry attempts, label: node
//   - runs_total (counter): terminated runs, label: status
//     (complete/failed/cancelled)
//   - run_duration_ms (histogram): end-to-end run latency, label: status
//
// All methods are safe for concurrent use.
type Metrics struct {
	nodeDuration *prometheus.HistogramVec
	nodeRetries  *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
}

// NewMetrics registers workflow metrics on the given registerer.
// A nil registerer uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insightflow",
			Subsystem: "workflow",
			Name:      "node_duration_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node", "status"}),
		nodeRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightflow",
			Subsystem: "workflow",
			Name:      "node_retries_total",
			Help:      "Retry attempts per node.",
		}, []string{"node"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightflow",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Terminated workflow runs by status.",
		}, []string{"status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insightflow",
			Subsystem: "workflow",
			Name:      "run_duration_ms",
			Help:      "End-to-end run duration in milliseconds.",
			Buckets:   []float64{100, 500, 1000, 5000, 10000, 30000, 60000, 120000},
		}, []string{"status"}),
	}
}

// ObserveNode records one node attempt.
func (m *Metrics) ObserveNode(node, status string, d time.Duration) {
	m.nodeDuration.WithLabelValues(node, status).Observe(float64(d.Milliseconds()))
}

// CountRetry records a retry attempt for a node.
func (m *Metrics) CountRetry(node string) {
	m.nodeRetries.WithLabelValues(node).Inc()
}

// ObserveRun records a terminated run.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}
