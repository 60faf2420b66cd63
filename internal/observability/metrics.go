package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: All metrics are registered globally on the default registry. Tools
// that only use part of the SDK still export the other series with zero values.

// namespace defines the global prefix for all metrics (e.g., apptentive_...).
const namespace = "apptentive"

// apiLatencyBuckets covers mobile-network latencies from 10ms to 30s.
var apiLatencyBuckets = []float64{.010, .025, .050, .100, .250, .500, 1, 2.5, 5, 10, 30}

var (
	// -------------------------------------------------------------------------
	// TARGETING
	// -------------------------------------------------------------------------

	// EngagementsTotal counts engaged events by whether an interaction matched.
	// Metric: apptentive_targeting_engagements_total
	EngagementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "targeting",
		Name:      "engagements_total",
		Help:      "Total engaged events, labelled by whether an interaction matched",
	}, []string{"matched"})

	// ManifestFetchesTotal counts manifest refresh attempts.
	// Metric: apptentive_targeting_manifest_fetches_total
	ManifestFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "targeting",
		Name:      "manifest_fetches_total",
		Help:      "Total engagement manifest fetches",
	}, []string{"status"}) // success, failure

	// --- Manifest L1 cache (otter) ---

	ManifestCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "targeting",
		Name:      "manifest_cache_hits_total",
		Help:      "Total manifest lookups served from the in-memory cache",
	})

	ManifestCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "targeting",
		Name:      "manifest_cache_misses_total",
		Help:      "Total manifest lookups that missed the in-memory cache",
	})

	// -------------------------------------------------------------------------
	// SENDER
	// -------------------------------------------------------------------------

	// PayloadsTotal counts payload delivery attempts by outcome.
	// Metric: apptentive_sender_payloads_total
	PayloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sender",
		Name:      "payloads_total",
		Help:      "Total payload delivery attempts",
	}, []string{"kind", "outcome"}) // sent, retrying, dropped

	// SendDuration measures the latency of a single payload request.
	// Metric: apptentive_sender_send_duration_seconds
	SendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sender",
		Name:      "send_duration_seconds",
		Help:      "Time taken by one payload request",
		Buckets:   apiLatencyBuckets,
	}, []string{"kind"})

	// QueueDepth is the number of payloads waiting for delivery.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sender",
		Name:      "queue_depth",
		Help:      "Current number of payloads in the durable queue",
	})

	// -------------------------------------------------------------------------
	// API CLIENT
	// -------------------------------------------------------------------------

	// APIRequestsTotal counts backend requests by operation and status code.
	// Metric: apptentive_api_requests_total
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Total backend API requests",
	}, []string{"operation", "code"})

	// -------------------------------------------------------------------------
	// MOCK API (HTTP)
	// -------------------------------------------------------------------------

	// MockAPIReqDuration measures the latency of fake backend requests.
	// Metric: apptentive_mockapi_http_handling_seconds
	MockAPIReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mockapi",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the mock API",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// MockAPIReqTotal counts fake backend requests.
	// Metric: apptentive_mockapi_http_requests_total
	MockAPIReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mockapi",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the mock API",
	}, []string{"method", "path", "code"})
)
