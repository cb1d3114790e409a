package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache lookup results.
const (
	LookupHit  = "hit"
	LookupMiss = "miss"
)

// Cache write outcomes. Every static network response lands in exactly one.
const (
	WriteStored         = "stored"
	WriteSkippedMethod  = "skipped_method"
	WriteSkippedStatus  = "skipped_status"
	WriteSkippedOrigin  = "skipped_origin"
	WriteSkippedRetired = "skipped_retired"
	WriteError          = "error"
)

// API fetch outcomes.
const (
	APIOK      = "ok"
	APIOffline = "offline"
)

// Fetch routes.
const (
	RouteAPI    = "api"
	RouteStatic = "static"
)

var (
	ActiveClientsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lggw_active_clients",
			Help: "Number of shell pages connected to the clients WebSocket.",
		},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lggw_cache_lookups_total",
			Help: "Static asset cache lookups by result.",
		},
		[]string{"result"},
	)

	CacheWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lggw_cache_writes_total",
			Help: "Outcome of the cache write decision for static network responses.",
		},
		[]string{"outcome"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lggw_api_requests_total",
			Help: "Network-first API requests by outcome.",
		},
		[]string{"outcome"},
	)

	GenerationActivationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lggw_generation_activations_total",
			Help: "Number of cache generations activated by this pod.",
		},
	)

	GenerationsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lggw_generations_deleted_total",
			Help: "Number of stale cache generations deleted during activation.",
		},
	)

	ClientsClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lggw_clients_claimed_total",
			Help: "Number of controllerchange messages delivered to pages.",
		},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lggw_fetch_duration_seconds",
			Help:    "Latency of intercepted fetches by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// IncrementActiveClients increments the active clients gauge.
func IncrementActiveClients() {
	ActiveClientsGauge.Inc()
}

// DecrementActiveClients decrements the active clients gauge.
func DecrementActiveClients() {
	ActiveClientsGauge.Dec()
}

// RecordCacheLookup counts a static lookup result.
func RecordCacheLookup(result string) {
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheWrite counts a cache write decision.
func RecordCacheWrite(outcome string) {
	CacheWritesTotal.WithLabelValues(outcome).Inc()
}

// RecordAPIRequest counts an API fetch outcome.
func RecordAPIRequest(outcome string) {
	APIRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordActivation counts one activation and the generations it deleted.
func RecordActivation(deleted int) {
	GenerationActivationsTotal.Inc()
	GenerationsDeletedTotal.Add(float64(deleted))
}

// RecordClientsClaimed counts pages that received a controllerchange message.
func RecordClientsClaimed(n int) {
	ClientsClaimedTotal.Add(float64(n))
}

// ObserveFetch records the latency of one intercepted fetch.
func ObserveFetch(route string, seconds float64) {
	FetchDuration.WithLabelValues(route).Observe(seconds)
}
