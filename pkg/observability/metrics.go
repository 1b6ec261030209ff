package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	CreditsDeductedTotal       *prometheus.CounterVec
	CreditsRefundedTotal       *prometheus.CounterVec
	DeductionsRejectedTotal    *prometheus.CounterVec
	ConsumptionsFinalizedTotal *prometheus.CounterVec
	BonusCreditsGrantedTotal   prometheus.Counter
	CreditResetsTotal          *prometheus.CounterVec

	// Subscription metrics
	SubscriptionTransitionsTotal *prometheus.CounterVec
	NotificationsTotal           *prometheus.CounterVec

	// Scheduler metrics
	JobRunsTotal *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creditgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		CreditsDeductedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditgate_credits_deducted_total",
				Help: "Credits deducted for metered features",
			},
			[]string{"source", "feature"},
		),
		CreditsRefundedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditgate_credits_refunded_total",
				Help: "Credits restored after failed metered work",
			},
			[]string{"source"},
		),
		DeductionsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditgate_deductions_rejected_total",
				Help: "Deduction attempts rejected before any mutation",
			},
			[]string{"code"},
		),
		ConsumptionsFinalizedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditgate_consumptions_finalized_total",
				Help: "Consumption records moved to a terminal status",
			},
			[]string{"status"},
		),
		BonusCreditsGrantedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "creditgate_bonus_credits_granted_total",
				Help: "Bonus credits granted by administrators",
			},
		),
		CreditResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditgate_credit_resets_total",
				Help: "Monthly credit reset outcomes per ledger",
			},
			[]string{"outcome"},
		),

		SubscriptionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditgate_subscription_transitions_total",
				Help: "Subscription status transitions",
			},
			[]string{"from", "to"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditgate_notifications_total",
				Help: "Subscription notifications by outcome",
			},
			[]string{"type", "outcome"},
		),

		JobRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "creditgate_job_runs_total",
				Help: "Scheduled job runs",
			},
			[]string{"job", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "creditgate_job_duration_seconds",
				Help:    "Scheduled job duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CreditsDeductedTotal,
		m.CreditsRefundedTotal,
		m.DeductionsRejectedTotal,
		m.ConsumptionsFinalizedTotal,
		m.BonusCreditsGrantedTotal,
		m.CreditResetsTotal,
		m.SubscriptionTransitionsTotal,
		m.NotificationsTotal,
		m.JobRunsTotal,
		m.JobDuration,
	)

	return m
}

// RecordDeduction counts credits taken from a source for a feature
func (m *Metrics) RecordDeduction(source, feature string, credits int64) {
	if m == nil {
		return
	}
	m.CreditsDeductedTotal.WithLabelValues(source, feature).Add(float64(credits))
}

// RecordRejection counts a deduction rejected with a business error code
func (m *Metrics) RecordRejection(code string) {
	if m == nil {
		return
	}
	m.DeductionsRejectedTotal.WithLabelValues(code).Inc()
}

// RecordFinalization counts a consumption reaching a terminal status and any refund
func (m *Metrics) RecordFinalization(status, source string, refunded int64) {
	if m == nil {
		return
	}
	m.ConsumptionsFinalizedTotal.WithLabelValues(status).Inc()
	if refunded > 0 {
		m.CreditsRefundedTotal.WithLabelValues(source).Add(float64(refunded))
	}
}

// RecordBonusGrant counts bonus credits granted
func (m *Metrics) RecordBonusGrant(credits int64) {
	if m == nil {
		return
	}
	m.BonusCreditsGrantedTotal.Add(float64(credits))
}

// RecordCreditReset counts a monthly reset outcome ("reset" or "skipped")
func (m *Metrics) RecordCreditReset(outcome string) {
	if m == nil {
		return
	}
	m.CreditResetsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a subscription status change
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.SubscriptionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordNotification counts a notification outcome ("sent", "skipped", "failed")
func (m *Metrics) RecordNotification(notificationType, outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(notificationType, outcome).Inc()
}

// RecordJob counts a job run and its duration
func (m *Metrics) RecordJob(job string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.JobRunsTotal.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
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

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Routes are labelled by their mux path template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
