package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	authzSyncTotal  *prometheus.CounterVec
	authzUsersCache *prometheus.CounterVec
	notifications   prometheus.Counter
	exportDuration  *prometheus.HistogramVec
	dbQueryDuration *prometheus.HistogramVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	authzSyncTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_sync_total",
		Help: "Permission sync runs against the authorization service",
	}, []string{"outcome"})

	authzUsersCache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_permitted_users_cache_total",
		Help: "Cache lookups for permitted user resolution",
	}, []string{"outcome"})

	notifications := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "email_notifications_staged_total",
		Help: "Email notifications staged for delivery",
	})

	exportDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "export_render_duration_seconds",
		Help:    "Duration of reply export rendering",
		Buckets: prometheus.DefBuckets,
	}, []string{"format"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, authzSyncTotal, authzUsersCache, notifications, exportDuration, dbQueryDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		authzSyncTotal:  authzSyncTotal,
		authzUsersCache: authzUsersCache,
		notifications:   notifications,
		exportDuration:  exportDuration,
		dbQueryDuration: dbQueryDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveAuthzSync counts a permission sync run by outcome.
func (m *MetricsService) ObserveAuthzSync(success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.authzSyncTotal.WithLabelValues(outcome).Inc()
}

// ObserveAuthzCache counts a permitted-user cache lookup.
func (m *MetricsService) ObserveAuthzCache(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.authzUsersCache.WithLabelValues(outcome).Inc()
}

// ObserveNotificationStaged counts a staged email notification.
func (m *MetricsService) ObserveNotificationStaged() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

// ObserveExport records export rendering duration per format.
func (m *MetricsService) ObserveExport(format string, duration time.Duration) {
	if m == nil {
		return
	}
	m.exportDuration.WithLabelValues(format).Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}
