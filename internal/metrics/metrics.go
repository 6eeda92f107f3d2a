package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ledger's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CreditsConsumedTotal  *prometheus.CounterVec
	CreditsRefilledTotal  prometheus.Counter
	TxRetriesTotal        *prometheus.CounterVec
	PlansAppliedTotal     *prometheus.CounterVec
	WebhookEventsTotal    *prometheus.CounterVec
	CheckoutSessionsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all collectors on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		CreditsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_credit_consume_total",
				Help: "Credit debit attempts by result",
			},
			[]string{"result"},
		),
		CreditsRefilledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_accounts_refilled_total",
				Help: "Accounts whose balance was reset by the refill sweep",
			},
		),
		TxRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_store_tx_retries_total",
				Help: "Store transactions re-executed after a conflict",
			},
			[]string{"backend"},
		),
		PlansAppliedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_plans_applied_total",
				Help: "Plan transitions committed",
			},
			[]string{"plan", "source"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_webhook_events_total",
				Help: "Payment provider webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		CheckoutSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_checkout_total",
				Help: "Checkout requests by mode (hosted or direct)",
			},
			[]string{"mode"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CreditsConsumedTotal,
		m.CreditsRefilledTotal,
		m.TxRetriesTotal,
		m.PlansAppliedTotal,
		m.WebhookEventsTotal,
		m.CheckoutSessionsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordHTTPRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveConsume records a debit attempt; result is "ok", "insufficient" or "error".
func (m *Metrics) ObserveConsume(result string) {
	if m == nil {
		return
	}
	m.CreditsConsumedTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRefill(accounts int64) {
	if m == nil || accounts <= 0 {
		return
	}
	m.CreditsRefilledTotal.Add(float64(accounts))
}

// ObserveTxRetry satisfies repository.RetryObserver.
func (m *Metrics) ObserveTxRetry(backend string) {
	if m == nil {
		return
	}
	m.TxRetriesTotal.WithLabelValues(backend).Inc()
}

func (m *Metrics) ObservePlanApplied(planID, source string) {
	if m == nil {
		return
	}
	m.PlansAppliedTotal.WithLabelValues(planID, source).Inc()
}

func (m *Metrics) ObserveWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ObserveCheckout(mode string) {
	if m == nil {
		return
	}
	m.CheckoutSessionsTotal.WithLabelValues(mode).Inc()
}
