package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects identity-layer metrics.
type Metrics interface {
	// RecordAuthEvent counts an authentication operation by outcome
	// (e.g. "login", "failure").
	RecordAuthEvent(operation, outcome string)
	// RecordRateLimited counts a request rejected by the named tier.
	RecordRateLimited(tier string)
	// RecordRequest counts a served HTTP request.
	RecordRequest(method, route, status string, seconds float64)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordAuthEvent(string, string) {}

func (NopMetrics) RecordRateLimited(string) {}

func (NopMetrics) RecordRequest(string, string, string, float64) {}

// PrometheusMetrics implements Metrics with Prometheus collectors.
type PrometheusMetrics struct {
	AuthEventsTotal        *prometheus.CounterVec
	RateLimitRejectedTotal *prometheus.CounterVec
	RequestsTotal          *prometheus.CounterVec
	RequestDuration        *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		AuthEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_auth_events_total",
				Help: "Authentication operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		RateLimitRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_ratelimit_rejected_total",
				Help: "Rate limit rejections",
			},
			[]string{"tier"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "identity_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "identity_http_request_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.AuthEventsTotal,
		m.RateLimitRejectedTotal,
		m.RequestsTotal,
		m.RequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) RecordAuthEvent(operation, outcome string) {
	m.AuthEventsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *PrometheusMetrics) RecordRateLimited(tier string) {
	m.RateLimitRejectedTotal.WithLabelValues(tier).Inc()
}

func (m *PrometheusMetrics) RecordRequest(method, route, status string, seconds float64) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(seconds)
}
