package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the authentication flows.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	loginTotal      *prometheus.CounterVec
	lockoutTotal    prometheus.Counter
	refreshTotal    prometheus.Counter
	revocationTotal prometheus.Counter
	cacheOps        *prometheus.HistogramVec
	cacheWrites     prometheus.Histogram
}

// NewMetricsService registers the collectors.
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

	loginTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	lockoutTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Accounts locked after repeated failed logins",
	})

	refreshTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_refreshes_total",
		Help: "Successful refresh-token rotations",
	})

	revocationTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_revocations_total",
		Help: "Explicit token revocations",
	})

	cacheOps := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cache_read_duration_seconds",
		Help:    "Duration of cache reads by outcome",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	cacheWrites := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_duration_seconds",
		Help:    "Duration of cache writes",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, loginTotal, lockoutTotal, refreshTotal, revocationTotal, cacheOps, cacheWrites, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		loginTotal:      loginTotal,
		lockoutTotal:    lockoutTotal,
		refreshTotal:    refreshTotal,
		revocationTotal: revocationTotal,
		cacheOps:        cacheOps,
		cacheWrites:     cacheWrites,
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

// CountLogin records a login attempt by outcome.
func (m *MetricsService) CountLogin(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.loginTotal.WithLabelValues(outcome).Inc()
}

// CountLockout records a newly armed account lockout.
func (m *MetricsService) CountLockout() {
	if m == nil {
		return
	}
	m.lockoutTotal.Inc()
}

// CountTokenRefresh records a successful rotation.
func (m *MetricsService) CountTokenRefresh() {
	if m == nil {
		return
	}
	m.refreshTotal.Inc()
}

// CountTokenRevocation records an explicit revocation.
func (m *MetricsService) CountTokenRevocation() {
	if m == nil {
		return
	}
	m.revocationTotal.Inc()
}

// RecordCacheOperation records a cache read and whether it hit.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheOps.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveCacheWrite records the duration of a cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrites.Observe(duration.Seconds())
}
