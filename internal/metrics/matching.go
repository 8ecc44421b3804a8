package metrics

import "github.com/prometheus/client_golang/prometheus"

// Matching pipeline Prometheus metrics.
var (
	QueryOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tuneprint",
			Name:      "query_outcomes_total",
			Help:      "Total identification queries by outcome status",
		},
		[]string{"status"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tuneprint",
			Name:      "query_duration_seconds",
			Help:      "Identification query duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"status"},
	)

	IngestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tuneprint",
			Name:      "ingests_total",
			Help:      "Total track ingests by result",
		},
		[]string{"result"}, // "ok" / "duplicate" / "error"
	)

	QueryCandidatesReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tuneprint",
			Name:      "query_candidates_returned",
			Help:      "Number of confident candidates returned per query",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)
)

var matchingMetricsRegistered bool

// RegisterMatchingMetrics registers Prometheus matching metrics. Must be called once from main.
func RegisterMatchingMetrics() {
	if matchingMetricsRegistered {
		return
	}
	prometheus.MustRegister(QueryOutcomesTotal)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(IngestsTotal)
	prometheus.MustRegister(QueryCandidatesReturned)
	matchingMetricsRegistered = true
}
