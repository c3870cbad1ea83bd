package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus collectors of the posting core and the ops server.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	postings        *prometheus.CounterVec
	reversals       *prometheus.CounterVec
	fifoConflicts   *prometheus.CounterVec
	reconciles      *prometheus.CounterVec
	reconcileDrift  *prometheus.CounterVec
	lifecycle       *prometheus.CounterVec
}

// NewMetrics initialises a private registry with every collector registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awecount_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "awecount_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awecount_ledger_postings_total",
		Help: "Journal entries posted by namespace and result.",
	}, []string{"namespace", "result"})
	reversals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awecount_ledger_reversals_total",
		Help: "Journal entries reversed by namespace.",
	}, []string{"namespace"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awecount_fifo_conflicts_total",
		Help: "FIFO rejections by code and whether an override lifted them.",
	}, []string{"code", "overridden"})
	reconciles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awecount_fifo_reconcile_total",
		Help: "FIFO reconciliation runs by outcome.",
	}, []string{"outcome"})
	drift := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awecount_fifo_reconcile_drift_total",
		Help: "Records rewritten by FIFO reconciliation.",
	}, []string{"record"})
	lifecycle := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awecount_voucher_lifecycle_total",
		Help: "Voucher lifecycle actions by kind and action.",
	}, []string{"kind", "action"})
	registry.MustRegister(requests, duration, postings, reversals, conflicts, reconciles, drift, lifecycle)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		postings:        postings,
		reversals:       reversals,
		fifoConflicts:   conflicts,
		reconciles:      reconciles,
		reconcileDrift:  drift,
		lifecycle:       lifecycle,
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

// Middleware records request count and latency per route.
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

// ObservePosting counts one posting attempt.
func (m *Metrics) ObservePosting(namespace, result string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(namespace, result).Inc()
}

// ObserveReversal counts reversed journal entries.
func (m *Metrics) ObserveReversal(namespace string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reversals.WithLabelValues(namespace).Add(float64(count))
}

// ObserveFIFOConflict counts a FIFO rejection, or a conflict an override let through.
func (m *Metrics) ObserveFIFOConflict(code string, overridden bool) {
	if m == nil {
		return
	}
	m.fifoConflicts.WithLabelValues(code, strconv.FormatBool(overridden)).Inc()
}

// ObserveReconcile counts a reconciliation run and the records it rewrote.
func (m *Metrics) ObserveReconcile(err error, lots, consumptions int) {
	if m == nil {
		return
	}
	outcome := "clean"
	switch {
	case err != nil:
		outcome = "error"
	case lots+consumptions > 0:
		outcome = "repaired"
	}
	m.reconciles.WithLabelValues(outcome).Inc()
	if lots > 0 {
		m.reconcileDrift.WithLabelValues("lot").Add(float64(lots))
	}
	if consumptions > 0 {
		m.reconcileDrift.WithLabelValues("consumption").Add(float64(consumptions))
	}
}

// ObserveLifecycle counts a successful voucher lifecycle action.
func (m *Metrics) ObserveLifecycle(kind, action string) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(kind, action).Inc()
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
