package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docsvc"

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)

	// WriteOutcomes counts proposed writes by operation (create, update, delete)
	// and outcome (committed, conflict, error).
	WriteOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "write_outcomes_total", Help: "Proposed document writes by operation and outcome."},
		[]string{"op", "outcome"},
	)
	StoreConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "store_conflicts_total", Help: "Write-once violations reported by the store while the index disagreed."},
	)
	IndexDocuments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "index_documents", Help: "Documents tracked by the revision index by state."},
		[]string{"state"},
	)
	IndexRebuildSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: namespace, Name: "index_rebuild_seconds", Help: "Duration of the startup index rebuild.", Buckets: prometheus.ExponentialBuckets(0.001, 4, 10)},
	)
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_requests_total", Help: "Cache lookups by cache kind and result."},
		[]string{"kind", "result"},
	)
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notification_failures_total", Help: "Change notifications that could not be delivered, by sink."},
		[]string{"sink"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status code."},
		[]string{"route", "code"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RateLimitAllowed, RateLimitRejected,
		WriteOutcomes, StoreConflicts,
		IndexDocuments, IndexRebuildSeconds,
		CacheRequests, NotificationFailures, HTTPRequests,
	}
}

// RegisterCollectors registers every collector with reg. Collectors that are
// already registered are skipped so tests can build several servers.
func RegisterCollectors(reg prometheus.Registerer) {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}
