package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the HTTP surface and the billing flows.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	noticesCreated   *prometheus.CounterVec
	noticesSettled   prometheus.Counter
	incomeBooked     *prometheus.CounterVec
	reconcileErrors  *prometheus.CounterVec
	balanceRecompute *prometheus.CounterVec
}

// NewMetrics initialises the registry with HTTP and domain collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "erp_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	created := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_dunning_notices_created_total",
		Help: "Dunning notices created by stage.",
	}, []string{"stage"})
	settled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "erp_dunning_notices_settled_total",
		Help: "Dunning notices settled by an incoming payment.",
	})
	income := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_ledger_income_entries_total",
		Help: "Automatic income entries by outcome.",
	}, []string{"outcome"})
	reconcile := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_reconcile_step_failures_total",
		Help: "Non-fatal failures of payment reconciliation steps.",
	}, []string{"step"})
	recompute := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erp_balance_recomputations_total",
		Help: "Balance recomputations by result.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, created, settled, income, reconcile, recompute)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		noticesCreated:   created,
		noticesSettled:   settled,
		incomeBooked:     income,
		reconcileErrors:  reconcile,
		balanceRecompute: recompute,
	}
}

// Handler returns the http.Handler serving /metrics.
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

// NoticeCreated counts a new dunning notice at the given stage.
func (m *Metrics) NoticeCreated(stage int) {
	if m == nil {
		return
	}
	m.noticesCreated.WithLabelValues(strconv.Itoa(stage)).Inc()
}

// NoticesSettled counts notices closed by a payment.
func (m *Metrics) NoticesSettled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.noticesSettled.Add(float64(n))
}

// IncomeBooked counts automatic income outcomes: booked, duplicate or cancelled.
func (m *Metrics) IncomeBooked(outcome string) {
	if m == nil {
		return
	}
	m.incomeBooked.WithLabelValues(outcome).Inc()
}

// ReconcileFailed counts a failed non-fatal reconciliation step.
func (m *Metrics) ReconcileFailed(step string) {
	if m == nil {
		return
	}
	m.reconcileErrors.WithLabelValues(step).Inc()
}

// BalanceRecomputed counts a recomputation result: ok, skipped or error.
func (m *Metrics) BalanceRecomputed(result string) {
	if m == nil {
		return
	}
	m.balanceRecompute.WithLabelValues(result).Inc()
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
