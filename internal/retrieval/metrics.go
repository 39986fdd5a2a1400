package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "concierge",
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of knowledge retrieval operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"}, // "single", "aggregate"
	)

	retrievalResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "concierge",
			Name:      "retrieval_results_count",
			Help:      "Number of results returned per retrieval operation",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		},
		[]string{"mode"},
	)

	skippedCollections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "retrieval_skipped_collections_total",
			Help:      "Collections skipped during cross-tenant aggregation due to errors",
		},
	)
)
