package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Weather provider call rate. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Provider latency per attempt. Watch for: p95 > 2s (upstream degradation), p99 > 5s (timeout risk).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for provider calls. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Time attempts spend waiting on the outbound min-interval throttle.
	ThrottleWaitSeconds prometheus.Histogram

	// Cache hits by cache type. Hit rate = hits/(hits+misses).
	CacheHitsTotal *prometheus.CounterVec

	// Successful location resolutions by source in the fallback chain.
	LocationResolutionsTotal *prometheus.CounterVec

	// Location resolutions that exhausted the whole chain, by failure code.
	LocationFailuresTotal *prometheus.CounterVec

	// Total weather lookups. Watch for: traffic volume, rate() for QPS.
	WeatherQueriesTotal prometheus.Counter

	// Per-city query count (allow-list; others go to "other").
	WeatherQueriesByCityTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// trackedCities is built from config; used to resolve the city label.
	trackedCitiesMu sync.RWMutex
	trackedCities   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of weather provider API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Weather provider latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather provider calls",
		},
	)
	ThrottleWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "weatherApiThrottleWaitSeconds",
			Help:    "Time spent waiting on the outbound minimum-interval throttle",
			Buckets: []float64{.001, .01, .1, .25, .5, 1, 2},
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits by cache type",
		},
		[]string{"cacheType"},
	)
	LocationResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationResolutionsTotal",
			Help: "Successful location resolutions by chain source",
		},
		[]string{"source"},
	)
	LocationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationFailuresTotal",
			Help: "Location resolutions that failed the whole fallback chain, by code",
		},
		[]string{"code"},
	)
	WeatherQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherQueriesTotal",
			Help: "Total number of weather lookups",
		},
	)
	WeatherQueriesByCityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesByCityTotal",
			Help: "Weather queries by city (allow-list; others use city=other)",
		},
		[]string{"city"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		ThrottleWaitSeconds, CacheHitsTotal,
		LocationResolutionsTotal, LocationFailuresTotal,
		WeatherQueriesTotal, WeatherQueriesByCityTotal,
		RateLimitDeniedTotal,
	)
}

// SetTrackedCities sets the allow-list for city metrics. Non-tracked cities
// increment "other" to keep label cardinality bounded.
func SetTrackedCities(cities []string) {
	trackedCitiesMu.Lock()
	defer trackedCitiesMu.Unlock()
	trackedCities = make(map[string]struct{}, len(cities))
	for _, city := range cities {
		trackedCities[normalizeCityForMetrics(city)] = struct{}{}
	}
}

// RecordWeatherQuery records a weather lookup for the given city.
func RecordWeatherQuery(city string) {
	WeatherQueriesTotal.Inc()
	label := normalizeCityForMetrics(city)
	trackedCitiesMu.RLock()
	_, ok := trackedCities[label] // nil map read is safe in Go
	trackedCitiesMu.RUnlock()
	if ok {
		WeatherQueriesByCityTotal.WithLabelValues(label).Inc()
	} else {
		WeatherQueriesByCityTotal.WithLabelValues("other").Inc()
	}
}

func normalizeCityForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
