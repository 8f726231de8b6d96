// Package metrics defines the Prometheus collectors for the analysis
// pipeline. Collectors register on the default registry at package init and
// are served from the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InitiationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_initiations_total",
			Help: "Initiation requests by outcome status",
		},
		[]string{"status"},
	)

	SessionItemsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_session_items_total",
			Help: "Items admitted into sessions",
		},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_batches_total",
			Help: "Batches finished by terminal status",
		},
		[]string{"status"},
	)

	ItemsAnalyzedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_items_analyzed_total",
			Help: "Per-item analysis outcomes",
		},
		[]string{"outcome"},
	)

	AnalysisCostDollars = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_cost_dollars_total",
			Help: "Cumulative analysis spend in dollars",
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_batch_duration_seconds",
			Help:    "Wall-clock duration of one batch",
			Buckets: prometheus.ExponentialBuckets(15, 2, 8),
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "analysis_active_sessions",
			Help: "Sessions currently initiated or processing",
		},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_alerts_total",
			Help: "Monitor alerts raised by severity",
		},
		[]string{"severity"},
	)

	RecoveredItemsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_recovered_items_total",
			Help: "Failed items re-dispatched by the recovery pass",
		},
	)

	StalledBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_stalled_batches_total",
			Help: "Batches failed by the stalled-batch cleanup",
		},
	)

	TasksPromotedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_tasks_promoted_total",
			Help: "Deferred tasks promoted onto the work queue",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analysis_build_info",
			Help: "Build metadata, value is always 1",
		},
		[]string{"version"},
	)
)

// Init stamps the build info gauge. Call once at startup.
func Init(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}
