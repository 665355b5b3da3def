// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the counters updated by the account subsystem. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	codesIssued   *prometheus.CounterVec
	confirmations *prometheus.CounterVec
	dispatches    *prometheus.CounterVec
	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	requests      *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		codesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photogram_verification_codes_issued_total",
			Help: "Verification codes persisted, by channel.",
		}, []string{"channel"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photogram_verification_confirmations_total",
			Help: "Verification code confirmation attempts, by result.",
		}, []string{"result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photogram_notification_dispatch_total",
			Help: "Notification deliveries, by channel and result.",
		}, []string{"channel", "result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photogram_logins_total",
			Help: "Login attempts, by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photogram_token_refresh_total",
			Help: "Refresh token exchanges, by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "photogram_auth_status_transitions_total",
			Help: "Applied auth status transitions.",
		}, []string{"from", "to"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "photogram_http_request_duration_seconds",
			Help:    "HTTP request latency, by method, route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.codesIssued, m.confirmations, m.dispatches, m.logins, m.refreshes, m.transitions, m.requests,
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CodeIssued(channel string) {
	if m != nil {
		m.codesIssued.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) CodeConfirmation(result string) {
	if m != nil {
		m.confirmations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Dispatch(channel, result string) {
	if m != nil {
		m.dispatches.WithLabelValues(channel, result).Inc()
	}
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Refresh(result string) {
	if m != nil {
		m.refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Transition(from, to string) {
	if m != nil {
		m.transitions.WithLabelValues(from, to).Inc()
	}
}

// Request observes one served HTTP request. route is the registered pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) Request(method, route string, status int, took time.Duration) {
	if m != nil {
		m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(took.Seconds())
	}
}
