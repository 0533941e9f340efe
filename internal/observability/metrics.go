// Package observability exposes the Prometheus registry shared by the API and worker.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects HTTP and stock-domain metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	validations     *prometheus.CounterVec
	postings        *prometheus.CounterVec
	conflicts       prometheus.Counter
	drift           prometheus.Gauge
}

// NewMetrics initialises the registry and every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockops_http_requests_total",
		Help: "HTTP requests partitioned by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockops_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	validations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockops_documents_validated_total",
		Help: "Document validations partitioned by document type and outcome.",
	}, []string{"doc_type", "outcome"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockops_ledger_postings_total",
		Help: "Committed ledger entries partitioned by reason.",
	}, []string{"reason"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stockops_validate_conflicts_total",
		Help: "Validations that exhausted their retries on concurrency conflicts.",
	})
	drift := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stockops_ledger_drift_pairs",
		Help: "Product/location pairs whose balance disagreed with the ledger at the last audit.",
	})
	registry.MustRegister(requests, duration, validations, postings, conflicts, drift)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		validations:     validations,
		postings:        postings,
		conflicts:       conflicts,
		drift:           drift,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveValidation counts one validation attempt result.
func (m *Metrics) ObserveValidation(docType, outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(docType, outcome).Inc()
}

// ObserveConflict counts a validation that gave up after retrying.
func (m *Metrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// ObservePosting counts committed ledger entries.
func (m *Metrics) ObservePosting(reason string, entries int) {
	if m == nil || entries <= 0 {
		return
	}
	m.postings.WithLabelValues(reason).Add(float64(entries))
}

// ObserveDrift records the number of inconsistent pairs found by an audit.
func (m *Metrics) ObserveDrift(pairs int) {
	if m == nil {
		return
	}
	m.drift.Set(float64(pairs))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
