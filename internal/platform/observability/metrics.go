package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "jewellery"

// Metrics owns the Prometheus registry and the collectors recorded by the API.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	orderTransitions  *prometheus.CounterVec
	paymentOutcomes   *prometheus.CounterVec
	stockOversells    *prometheus.CounterVec
	notificationFails *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions.",
		}, []string{"from", "to"}),
		paymentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "payment_verifications_total",
			Help:      "Payment verification results by source and outcome.",
		}, []string{"source", "outcome"}),
		stockOversells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stock_oversell_total",
			Help:      "Variant stock counters driven below zero on confirmation.",
		}, []string{"product"}),
		notificationFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be dispatched.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.orderTransitions,
		m.paymentOutcomes,
		m.stockOversells,
		m.notificationFails,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observeRequest(route, method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(seconds)
}

// OrderTransition counts one status change.
func (m *Metrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(from, to).Inc()
}

// PaymentOutcome counts a verification result ("verify" or "webhook" source).
func (m *Metrics) PaymentOutcome(source, outcome string) {
	if m == nil {
		return
	}
	m.paymentOutcomes.WithLabelValues(source, outcome).Inc()
}

// StockOversell counts a variant counter that went negative.
func (m *Metrics) StockOversell(productID string) {
	if m == nil {
		return
	}
	m.stockOversells.WithLabelValues(productID).Inc()
}

// NotificationFailure counts a notification that could not be sent.
func (m *Metrics) NotificationFailure(kind string) {
	if m == nil {
		return
	}
	m.notificationFails.WithLabelValues(kind).Inc()
}
