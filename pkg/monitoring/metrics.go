package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code", "service"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "service"},
	)

	// Sync metrics
	syncAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_attempts_total",
			Help: "Total number of external registry sync attempts",
		},
		[]string{"status", "service"},
	)

	syncAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_attempt_duration_seconds",
			Help:    "Duration of external registry sync attempts in seconds",
			Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"status", "service"},
	)

	pendingRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_pending_records",
			Help: "Number of records awaiting sync to the external registry",
		},
		[]string{"service"},
	)

	// Connectivity metrics
	connectivityState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connectivity_online",
			Help: "Whether the external registry is currently reachable (1=online, 0=offline)",
		},
		[]string{"service"},
	)

	// Authentication metrics
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"method", "status", "service"},
	)

	// Audit log metrics
	auditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total number of audit events",
		},
		[]string{"event_type", "success", "service"},
	)

	// System metrics
	systemErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "system_errors_total",
			Help: "Total number of system errors",
		},
		[]string{"error_type", "service", "component"},
	)
)

// MetricsCollector handles Prometheus metrics collection
type MetricsCollector struct {
	serviceName string
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(serviceName string) *MetricsCollector {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		syncAttemptsTotal,
		syncAttemptDuration,
		pendingRecords,
		connectivityState,
		authAttemptsTotal,
		auditEventsTotal,
		systemErrors,
	)

	return &MetricsCollector{
		serviceName: serviceName,
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, statusCode, m.serviceName).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, m.serviceName).Observe(duration.Seconds())
}

// RecordSyncAttempt records the outcome and duration of a sync attempt
func (m *MetricsCollector) RecordSyncAttempt(status string, duration time.Duration) {
	syncAttemptsTotal.WithLabelValues(status, m.serviceName).Inc()
	syncAttemptDuration.WithLabelValues(status, m.serviceName).Observe(duration.Seconds())
}

// SetPendingRecords records the current pending record backlog
func (m *MetricsCollector) SetPendingRecords(count int) {
	pendingRecords.WithLabelValues(m.serviceName).Set(float64(count))
}

// SetConnectivity records the current connectivity state
func (m *MetricsCollector) SetConnectivity(online bool) {
	v := 0.0
	if online {
		v = 1.0
	}
	connectivityState.WithLabelValues(m.serviceName).Set(v)
}

// RecordAuthAttempt records authentication attempt metrics
func (m *MetricsCollector) RecordAuthAttempt(method, status string) {
	authAttemptsTotal.WithLabelValues(method, status, m.serviceName).Inc()
}

// RecordAuditEvent records audit event metrics
func (m *MetricsCollector) RecordAuditEvent(eventType string, success bool) {
	successStr := strconv.FormatBool(success)
	auditEventsTotal.WithLabelValues(eventType, successStr, m.serviceName).Inc()
}

// RecordSystemError records system error metrics
func (m *MetricsCollector) RecordSystemError(errorType, component string) {
	systemErrors.WithLabelValues(errorType, m.serviceName, component).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware creates middleware for HTTP request metrics
func (m *MetricsCollector) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)
		statusCode := strconv.Itoa(wrapper.statusCode)

		m.RecordHTTPRequest(r.Method, r.URL.Path, statusCode, duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
