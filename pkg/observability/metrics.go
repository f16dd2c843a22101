package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	AuthzCheckDuration  *prometheus.HistogramVec

	// Permission cache metrics
	PermCacheHitsTotal   *prometheus.CounterVec
	PermCacheMissesTotal *prometheus.CounterVec
	PermCacheWritesTotal *prometheus.CounterVec

	// Maintainer metrics
	JobsEnqueuedTotal  *prometheus.CounterVec
	JobsProcessedTotal *prometheus.CounterVec
	JobsRetriedTotal   *prometheus.CounterVec
	JobsDroppedTotal   *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	JobQueueDepth      prometheus.Gauge
	SweepRunsTotal     prometheus.Counter

	// Sync metrics
	WindowedListingsTotal *prometheus.CounterVec
	TombstonesTotal       prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(128, 4, 8),
			},
			[]string{"method", "path"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_authz_decisions_total",
				Help: "Authorization decisions by model, operation and outcome",
			},
			[]string{"model", "operation", "decision"},
		),
		AuthzCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_authz_check_duration_seconds",
				Help:    "Authorization check duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
			},
			[]string{"operation"},
		),

		PermCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_permcache_hits_total",
				Help: "Permission cache hits by tier",
			},
			[]string{"tier"},
		),
		PermCacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_permcache_misses_total",
				Help: "Permission cache misses by tier",
			},
			[]string{"tier"},
		),
		PermCacheWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_permcache_writes_total",
				Help: "Permission cache entry writes by model",
			},
			[]string{"model"},
		),

		JobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_maintainer_jobs_enqueued_total",
				Help: "Cache maintenance jobs enqueued by kind",
			},
			[]string{"kind"},
		),
		JobsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_maintainer_jobs_processed_total",
				Help: "Cache maintenance jobs processed by kind and status",
			},
			[]string{"kind", "status"},
		),
		JobsRetriedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_maintainer_jobs_retried_total",
				Help: "Cache maintenance job retries by kind",
			},
			[]string{"kind"},
		),
		JobsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_maintainer_jobs_dropped_total",
				Help: "Cache maintenance jobs dropped after exhausting retries",
			},
			[]string{"kind"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meridian_maintainer_job_duration_seconds",
				Help:    "Cache maintenance job duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"kind"},
		),
		JobQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meridian_maintainer_queue_depth",
				Help: "Number of cache maintenance jobs waiting in the queue",
			},
		),
		SweepRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meridian_maintainer_sweep_runs_total",
				Help: "Reconciliation sweep runs",
			},
		),

		WindowedListingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meridian_windowed_listings_total",
				Help: "Windowed listing requests by model",
			},
			[]string{"model"},
		),
		TombstonesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meridian_tombstones_total",
				Help: "Deletion tombstones recorded",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meridian_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meridian_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthzDecisionsTotal,
		m.AuthzCheckDuration,
		m.PermCacheHitsTotal,
		m.PermCacheMissesTotal,
		m.PermCacheWritesTotal,
		m.JobsEnqueuedTotal,
		m.JobsProcessedTotal,
		m.JobsRetriedTotal,
		m.JobsDroppedTotal,
		m.JobDuration,
		m.JobQueueDepth,
		m.SweepRunsTotal,
		m.WindowedListingsTotal,
		m.TombstonesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveAuthz records an authorization decision.
func (m *Metrics) ObserveAuthz(model, operation string, allowed bool) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.AuthzDecisionsTotal.WithLabelValues(model, operation, decision).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
