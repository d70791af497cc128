package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics holds the prometheus collectors of one Engine. Collectors are
// registered against the Registerer handed to WithMetrics; engines built
// without one register into a private registry.
type engineMetrics struct {
	passes            *prometheus.CounterVec
	passDuration      *prometheus.HistogramVec
	records           *prometheus.CounterVec
	skips             *prometheus.CounterVec
	queueSize         prometheus.Histogram
	identityEntries   prometheus.Histogram
	identityConflicts prometheus.Counter
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &engineMetrics{
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roadcore_reconcile_passes_total",
			Help: "Reconciliation passes by result",
		}, []string{"result"}),
		passDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roadcore_reconcile_phase_duration_seconds",
			Help:    "Reconciliation phase duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"phase"}),
		records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roadcore_override_records_total",
			Help: "Override records applied by action",
		}, []string{"action"}),
		skips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "roadcore_override_skips_total",
			Help: "Override records skipped by reason",
		}, []string{"reason"}),
		queueSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roadcore_mutation_queue_commands",
			Help:    "Commands drained from the mutation queue per pass",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		identityEntries: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "roadcore_identity_map_entries",
			Help:    "Identity map entries per pass",
			Buckets: []float64{0, 2, 4, 16, 64, 256, 1024, 4096},
		}),
		identityConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "roadcore_identity_map_conflicts_total",
			Help: "Identity map inserts rejected because the key already mapped elsewhere",
		}),
	}
}
