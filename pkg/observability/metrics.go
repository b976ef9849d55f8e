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

	// Matrix cache metrics
	MatrixCacheHitsTotal   prometheus.Counter
	MatrixCacheMissesTotal prometheus.Counter
	MatrixReloadsTotal     prometheus.Counter
	MatrixUpdatesTotal     *prometheus.CounterVec

	// Broadcast metrics
	BroadcastEventsTotal    prometheus.Counter
	BroadcastDroppedTotal   prometheus.Counter
	BroadcastFailuresTotal  prometheus.Counter
	ConnectedSessionsActive prometheus.Gauge

	// Flow rule metrics
	FlowRuleLookupsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdcore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pdcore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		MatrixCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pdcore_matrix_cache_hits_total",
				Help: "Matrix reads served from the in-memory cache",
			},
		),
		MatrixCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pdcore_matrix_cache_misses_total",
				Help: "Matrix reads that fell through to storage",
			},
		),
		MatrixReloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pdcore_matrix_reloads_total",
				Help: "Matrix reloads triggered by invalidation or reconcile",
			},
		),
		MatrixUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdcore_matrix_updates_total",
				Help: "Matrix update attempts by outcome",
			},
			[]string{"status"},
		),

		BroadcastEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pdcore_broadcast_events_total",
				Help: "SETTINGS_UPDATED events fanned out to sessions",
			},
		),
		BroadcastDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pdcore_broadcast_dropped_total",
				Help: "Events dropped because a session channel was full",
			},
		),
		BroadcastFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pdcore_broadcast_failures_total",
				Help: "Broadcast attempts that errored (logged, never fatal)",
			},
		),
		ConnectedSessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pdcore_connected_sessions_active",
				Help: "Sessions currently subscribed to the event stream",
			},
		),

		FlowRuleLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdcore_flow_rule_lookups_total",
				Help: "Flow rule resolutions by source (cache, store, miss)",
			},
			[]string{"source"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pdcore_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pdcore_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MatrixCacheHitsTotal,
		m.MatrixCacheMissesTotal,
		m.MatrixReloadsTotal,
		m.MatrixUpdatesTotal,
		m.BroadcastEventsTotal,
		m.BroadcastDroppedTotal,
		m.BroadcastFailuresTotal,
		m.ConnectedSessionsActive,
		m.FlowRuleLookupsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns the Prometheus scrape handler for registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics. path is the
// route template, not the raw URL, to keep label cardinality bounded.
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// CollectDBStats copies sql.DB pool stats into the gauges
func (m *Metrics) CollectDBStats(inUse, idle int) {
	m.DBConnectionsActive.Set(float64(inUse))
	m.DBConnectionsIdle.Set(float64(idle))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets the recorder sit in front of streaming (SSE) handlers
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
