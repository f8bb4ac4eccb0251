// metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HarvestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moissonneur_harvests_total",
		Help: "Harvest attempts by terminal status.",
	}, []string{"status"})

	RevisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moissonneur_revisions_total",
		Help: "Revisions written, by update classification.",
	}, []string{"update_status"})

	RowsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moissonneur_rows_accepted_total",
		Help: "Accepted address rows across all harvests.",
	})

	RowsErroredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moissonneur_rows_errored_total",
		Help: "Address rows rejected for structural defects.",
	})

	SourcesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moissonneur_sources_skipped_total",
		Help: "Sources skipped because a harvest was already in flight.",
	})

	FetchesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moissonneur_fetches_in_flight",
		Help: "BAL downloads currently in progress.",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "moissonneur_batch_duration_seconds",
		Help:    "Wall time of one full batch run.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)
