package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the sync
// pipeline and the HTTP surface.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	recordOutcomes  *prometheus.CounterVec
	batchOutcomes   *prometheus.CounterVec
	sweepResubmits  prometheus.Counter
	cacheLookups    *prometheus.CounterVec
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

	recordOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bayzat_record_outcomes_total",
		Help: "Attendance record sync outcomes",
	}, []string{"outcome"})

	batchOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bayzat_batch_outcomes_total",
		Help: "Sync batch terminal outcomes",
	}, []string{"status"})

	sweepResubmits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bayzat_sweep_resubmitted_total",
		Help: "Records resubmitted by retry sweeps",
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bayzat_settings_cache_lookups_total",
		Help: "Company settings cache lookups by result",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, recordOutcomes, batchOutcomes, sweepResubmits, cacheLookups, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		recordOutcomes:  recordOutcomes,
		batchOutcomes:   batchOutcomes,
		sweepResubmits:  sweepResubmits,
		cacheLookups:    cacheLookups,
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

// RecordSyncOutcome counts one record outcome: synced, retry_scheduled or
// failed.
func (m *MetricsService) RecordSyncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.recordOutcomes.WithLabelValues(outcome).Inc()
}

// RecordBatchOutcome counts one batch terminal outcome.
func (m *MetricsService) RecordBatchOutcome(status string) {
	if m == nil {
		return
	}
	m.batchOutcomes.WithLabelValues(status).Inc()
}

// RecordCacheLookup counts one settings cache lookup: hit, miss or error.
func (m *MetricsService) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordSweepResubmits counts records pushed back into the pipeline.
func (m *MetricsService) RecordSweepResubmits(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweepResubmits.Add(float64(count))
}
