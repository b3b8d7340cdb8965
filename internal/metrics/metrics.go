// Package metrics exposes Prometheus collectors for the verification
// pipeline. Collectors are registered with the default registry on init and
// served by promhttp under /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// External call outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeCacheHit = "cache_hit"
	OutcomeError    = "error"
)

var (
	// ExternalCalls counts registry and geocoder calls by service and outcome.
	ExternalCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_trust_external_calls_total",
			Help: "Calls to external registries by service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	// WorkflowRuns counts finished verification workflows by terminal status.
	WorkflowRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_trust_workflow_runs_total",
			Help: "Verification workflows by terminal status.",
		},
		[]string{"status"},
	)

	// GraphEdges reports the edge count of the last rebuild per edge type.
	GraphEdges = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_trust_graph_edges",
			Help: "Edges in the provider graph after the last rebuild, by type.",
		},
		[]string{"edge_type"},
	)

	// TrustIterations observes power-iteration counts per trust run.
	TrustIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "provider_trust_rank_iterations",
			Help:    "Iterations used by each trust rank computation.",
			Buckets: []float64{5, 10, 20, 40, 60, 80, 100, 150, 200},
		},
	)
)

func init() {
	prometheus.MustRegister(ExternalCalls, WorkflowRuns, GraphEdges, TrustIterations)
}

// ObserveCall increments the external call counter.
func ObserveCall(service, outcome string) {
	ExternalCalls.WithLabelValues(service, outcome).Inc()
}
