// Package metrics exposes facilitator counters in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "x402"

// Metrics holds the facilitator collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	verifications *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	bountyResults *prometheus.CounterVec
	bountyPaid    prometheus.Counter
	requests      *prometheus.HistogramVec
	poolClaims    prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Authorization verifications by result.",
		}, []string{"result"}),
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by status.",
		}, []string{"status"}),
		bountyResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bounty",
			Name:      "triggers_total",
			Help:      "Bounty trigger outcomes.",
		}, []string{"outcome"}),
		bountyPaid: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bounty",
			Name:      "paid_atomic_total",
			Help:      "Bounty amount paid in atomic token units.",
		}),
		requests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route", "status"}),
		poolClaims: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bounty",
			Name:      "claims",
			Help:      "Recorded bounty claims.",
		}),
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveVerification counts a verification; result is "valid" or a reason code.
func (m *Metrics) ObserveVerification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

// ObserveSettlement counts a settlement by status.
func (m *Metrics) ObserveSettlement(status string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(status).Inc()
}

// ObserveBounty counts a trigger outcome and, when paid, adds its amount.
func (m *Metrics) ObserveBounty(outcome string, paid float64) {
	if m == nil {
		return
	}
	m.bountyResults.WithLabelValues(outcome).Inc()
	if paid > 0 {
		m.bountyPaid.Add(paid)
	}
}

// SetClaims sets the claim gauge.
func (m *Metrics) SetClaims(n int64) {
	if m == nil {
		return
	}
	m.poolClaims.Set(float64(n))
}

// ObserveRequest records an HTTP request duration.
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Observe(d.Seconds())
}
