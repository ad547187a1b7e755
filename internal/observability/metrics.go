package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the ops surface.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Open-Meteo call rate by status. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Open-Meteo latency. Watch for: p99 close to the client timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Weather API errors by category (client.CategorizeError).
	WeatherAPIErrorsTotal *prometheus.CounterVec

	// Geolocation and public-IP lookups by endpoint and status.
	GeolocationCallsTotal *prometheus.CounterVec

	// Location validation cache hits and misses.
	LocationCacheTotal *prometheus.CounterVec

	// Location resolutions by source (manual, cached, lookup) and failures.
	LocationResolutionsTotal *prometheus.CounterVec

	// Reconciliation cycles by outcome. Watch for: sustained fetch_failed or location_unavailable.
	ReconcileCyclesTotal *prometheus.CounterVec

	// Reconciliation cycle latency, fetch through apply.
	ReconcileDuration prometheus.Histogram

	// Weather state last applied to the world: 0 clear, 1 rain, 2 thunderstorm.
	WorldWeatherState prometheus.Gauge

	// Circuit breaker state for the weather API: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec
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
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	WeatherAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiErrorsTotal",
			Help: "Weather API errors by category",
		},
		[]string{"category"},
	)
	GeolocationCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geolocationCallsTotal",
			Help: "Geolocation and public IP lookups",
		},
		[]string{"endpoint", "status"},
	)
	LocationCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationCacheTotal",
			Help: "Location validation cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)
	LocationResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationResolutionsTotal",
			Help: "Location resolutions by source (manual, cached, lookup, unavailable)",
		},
		[]string{"source"},
	)
	ReconcileCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcileCyclesTotal",
			Help: "Weather reconciliation cycles by outcome",
		},
		[]string{"outcome"},
	)
	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcileDurationSeconds",
			Help:    "Reconciliation cycle latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	WorldWeatherState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worldWeatherState",
			Help: "Weather state last reconciled into the world (0 clear, 1 rain, 2 thunderstorm)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"component"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal, WeatherAPIErrorsTotal,
		GeolocationCallsTotal,
		LocationCacheTotal, LocationResolutionsTotal,
		ReconcileCyclesTotal, ReconcileDuration,
		WorldWeatherState,
		CircuitBreakerState,
	)
}

// RecordCycle records a finished reconciliation cycle.
func RecordCycle(outcome string, seconds float64) {
	ReconcileCyclesTotal.WithLabelValues(outcome).Inc()
	ReconcileDuration.Observe(seconds)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
