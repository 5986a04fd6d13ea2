package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics receives engine measurements. PrometheusMetrics is the standard
// implementation; a nil Metrics disables collection.
type Metrics interface {
	// RecordStepLatency observes one node attempt. status is one of
	// "success", "error" or "timeout".
	RecordStepLatency(runID, nodeID string, latency time.Duration, status string)

	// IncrementRetries counts a retry scheduled for nodeID; reason is the
	// classified error kind.
	IncrementRetries(runID, nodeID, reason string)

	// RecordRunOutcome counts a Run call ending with status.
	RecordRunOutcome(status Status)
}

// PrometheusMetrics exports engine metrics, namespaced "flowstate_":
//
//	inflight_nodes (gauge)                 nodes currently executing
//	step_latency_ms (histogram)            per-attempt duration; labels run_id, node_id, status
//	retries_total (counter)                retries; labels run_id, node_id, reason
//	run_outcomes_total (counter)           Run results; label status
//	storage_conflicts_total (counter)      saves rejected by revision checks
type PrometheusMetrics struct {
	inflightNodes    prometheus.Gauge
	stepLatency      *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	runOutcomes      *prometheus.CounterVec
	storageConflicts prometheus.Counter

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers the engine metrics with registry, or the
// default registerer when registry is nil.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "flowstate",
		Name:      "inflight_nodes",
		Help:      "Current number of node attempts executing",
	})

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowstate",
		Name:      "step_latency_ms",
		Help:      "Node attempt duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"run_id", "node_id", "status"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Name:      "retries_total",
		Help:      "Node retries scheduled after a classified failure",
	}, []string{"run_id", "node_id", "reason"})

	pm.runOutcomes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowstate",
		Name:      "run_outcomes_total",
		Help:      "Run calls by final status",
	}, []string{"status"})

	pm.storageConflicts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "flowstate",
		Name:      "storage_conflicts_total",
		Help:      "Checkpoint saves rejected because another writer advanced the run",
	})

	return pm
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency implements Metrics.
func (pm *PrometheusMetrics) RecordStepLatency(runID, nodeID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(runID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries implements Metrics.
func (pm *PrometheusMetrics) IncrementRetries(runID, nodeID, reason string) {
	if !pm.isEnabled() {
		return
	}
	pm.retries.WithLabelValues(runID, nodeID, reason).Inc()
}

// RecordRunOutcome implements Metrics.
func (pm *PrometheusMetrics) RecordRunOutcome(status Status) {
	if !pm.isEnabled() {
		return
	}
	pm.runOutcomes.WithLabelValues(string(status)).Inc()
}

// IncrementStorageConflicts counts a save rejected with store.ErrConflict.
func (pm *PrometheusMetrics) IncrementStorageConflicts() {
	if !pm.isEnabled() {
		return
	}
	pm.storageConflicts.Inc()
}

// AddInflightNodes adjusts the in-flight gauge by delta.
func (pm *PrometheusMetrics) AddInflightNodes(delta int) {
	if !pm.isEnabled() {
		return
	}
	pm.inflightNodes.Add(float64(delta))
}

// Disable stops recording. Already-exported values are kept.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the in-flight gauge.
func (pm *PrometheusMetrics) Reset() {
	pm.inflightNodes.Set(0)
}
