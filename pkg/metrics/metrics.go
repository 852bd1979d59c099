// Package metrics provides Prometheus metrics for dyadgo's coordination
// hot path: how often hooks decide to coordinate versus pass through, how
// long KVS lookups and fetch RPCs take, and how many bytes move between
// ranks. Metrics are exposed via an HTTP handler for scraping, following
// the same Counter/Histogram/Timer shape used throughout this codebase's
// lineage.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Publisher metrics
	PublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dyad_publishes_total",
			Help: "Total number of producer-side publish attempts by outcome",
		},
		[]string{"outcome"},
	)

	PublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dyad_publish_duration_seconds",
			Help:    "Time from topic computation to KVS commit completion",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Subscriber metrics
	SubscribesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dyad_subscribes_total",
			Help: "Total number of consumer-side subscribe attempts by outcome",
		},
		[]string{"outcome"},
	)

	SubscribeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dyad_subscribe_duration_seconds",
			Help:    "Time from topic computation to local file write completion",
			Buckets: prometheus.DefBuckets,
		},
	)

	KVSLookupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dyad_kvs_lookup_duration_seconds",
			Help:    "Time spent blocked in a wait-create KVS lookup",
			Buckets: []float64{.001, .005, .025, .1, .5, 1, 5, 30, 120, 600},
		},
	)

	FetchBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dyad_fetch_bytes_total",
			Help: "Total bytes sent by the fetch server over dyad.fetch RPCs",
		},
	)

	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dyad_fetch_duration_seconds",
			Help:    "Time the fetch server spends on one dyad.fetch request, from receipt to last chunk",
			Buckets: prometheus.DefBuckets,
		},
	)

	SharedStorageSkipsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dyad_shared_storage_skips_total",
			Help: "Subscribes that skipped the fetch RPC due to shared storage or self-ownership",
		},
	)

	// Interposer metrics
	HookDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dyad_hook_decisions_total",
			Help: "Interposed calls by entry point and whether coordination ran",
		},
		[]string{"entry_point", "coordinated"},
	)
)

func init() {
	prometheus.MustRegister(PublishesTotal)
	prometheus.MustRegister(PublishDuration)
	prometheus.MustRegister(SubscribesTotal)
	prometheus.MustRegister(SubscribeDuration)
	prometheus.MustRegister(KVSLookupDuration)
	prometheus.MustRegister(FetchBytesTotal)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(SharedStorageSkipsTotal)
	prometheus.MustRegister(HookDecisionsTotal)
}

// Handler returns the Prometheus HTTP handler, mounted by dyadctl serve-fetch
// at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, started now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
