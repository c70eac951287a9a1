// Package metrics provides Prometheus metrics for the Albion market tracker.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "albion_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "albion_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Albion Online Data API Metrics
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "albion_fetch_attempts_total",
			Help: "Price API attempts by outcome",
		},
		[]string{"result"}, // "ok", "no_data", "rate_limited", "transient", "permanent"
	)

	RateLimiterWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "albion_rate_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter token",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	// Ingest Worker Metrics
	ObservationsUpsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "albion_observations_upserted_total",
			Help: "Total number of item/city price rows written",
		},
	)

	PersistenceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "albion_persistence_errors_total",
			Help: "Store write failures by store",
		},
		[]string{"store"}, // "prices", "blacklist", "progress"
	)

	ItemsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "albion_items_processed_total",
			Help: "Total number of catalog items fetched",
		},
	)

	ItemsBlacklistedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "albion_items_blacklisted_total",
			Help: "Total number of items added to the blacklist",
		},
	)

	CursorIndex = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "albion_cursor_index",
			Help: "Catalog index of the next item to process",
		},
	)

	CatalogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "albion_catalog_size",
			Help: "Number of items in the loaded catalog",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "albion_ingest_run_duration_seconds",
			Help:    "Time taken to process one ingestion batch",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Report Metrics
	ProfitCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "albion_profit_cache_requests_total",
			Help: "Profit report lookups by cache result",
		},
		[]string{"result"}, // "hit", "miss"
	)
)

// GinMiddleware records request counts and latency per route
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
