package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// BillsCreatedTotal counts bill creation outcomes.
	BillsCreatedTotal *prometheus.CounterVec
	// BillNumberCollisionsTotal counts candidate bill numbers rejected because they already exist.
	BillNumberCollisionsTotal prometheus.Counter
	// BillNumberFallbackTotal counts bill numbers minted from the timestamp-derived fallback suffix.
	BillNumberFallbackTotal prometheus.Counter
	// BillCommitRetriesTotal counts bill commits retried after a unique violation on bill_number.
	BillCommitRetriesTotal prometheus.Counter
	// BillAssemblyLatency records end-to-end bill assembly latency in milliseconds.
	BillAssemblyLatency prometheus.Histogram
	// BundleRecomputeTotal counts bundle price recomputations by trigger.
	BundleRecomputeTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BillsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bills_created_total",
			Help:      "Count of bill creation attempts by outcome.",
		}, []string{"result"})
		BillNumberCollisionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_number_collisions_total",
			Help:      "Number of generated bill numbers that already existed.",
		})
		BillNumberFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_number_fallback_total",
			Help:      "Number of bill numbers minted after the random suffix space was exhausted.",
		})
		BillCommitRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_commit_retries_total",
			Help:      "Number of bill commits retried after a bill_number unique violation.",
		})
		BillAssemblyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bill_assembly_duration_ms",
			Help:      "Latency for assembling and persisting a bill in milliseconds.",
			Buckets:   defaultLatencyBucketsMs,
		})
		BundleRecomputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_recompute_total",
			Help:      "Count of bundle price recomputations by trigger.",
		}, []string{"trigger"})

		BillsCreatedTotal = register(reg, BillsCreatedTotal)
		BillNumberCollisionsTotal = register(reg, BillNumberCollisionsTotal)
		BillNumberFallbackTotal = register(reg, BillNumberFallbackTotal)
		BillCommitRetriesTotal = register(reg, BillCommitRetriesTotal)
		BillAssemblyLatency = register(reg, BillAssemblyLatency)
		BundleRecomputeTotal = register(reg, BundleRecomputeTotal)
	})
}
