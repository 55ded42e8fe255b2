// Package metrics exposes Prometheus collectors for pipeline runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dailybrief"

var (
	// SourceFetches counts adapter fetches by source and outcome (ok, unavailable, timeout).
	SourceFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_total",
			Help:      "Source adapter fetches by outcome",
		},
		[]string{"source", "outcome"},
	)

	// ItemsFetched counts raw items produced per source.
	ItemsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Raw items produced by source adapters",
		},
		[]string{"source"},
	)

	ItemsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_rejected_total",
			Help:      "Raw items excluded before clustering",
		},
		[]string{"reason"},
	)

	EventsClustered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_clustered_total",
			Help:      "Events produced by the dedup engine",
		},
	)

	// OracleCalls counts scoring oracle outcomes (applied, cached, failed, timeout, skipped).
	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_calls_total",
			Help:      "Scoring oracle adjustments by outcome",
		},
		[]string{"outcome"},
	)

	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)
)

// RecordSourceFetch records one adapter outcome and how many items it yielded.
func RecordSourceFetch(source, outcome string, items int) {
	SourceFetches.WithLabelValues(source, outcome).Inc()
	if items > 0 {
		ItemsFetched.WithLabelValues(source).Add(float64(items))
	}
}

func RecordRejected(reason string) {
	ItemsRejected.WithLabelValues(reason).Inc()
}

func RecordOracle(outcome string) {
	OracleCalls.WithLabelValues(outcome).Inc()
}

// RecordRun records a finished run.
func RecordRun(status string, seconds float64) {
	Runs.WithLabelValues(status).Inc()
	RunDuration.Observe(seconds)
}
