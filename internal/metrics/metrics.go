// Package metrics exposes Prometheus instrumentation for the gate, the
// approval executor and upstream calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Gate outcomes by service and outcome ("proceed", "blocked_dry_run", "enqueued", "error").
	GateDecisions *prometheus.CounterVec

	// Approval results by service and result ("approved", "upstream_error", "conflict", "not_found", "error").
	Approvals *prometheus.CounterVec

	// Upstream call latency by service and HTTP status class ("2xx", "5xx", "transport").
	UpstreamLatency *prometheus.HistogramVec

	// Items currently pending review, refreshed on every list.
	PendingItems prometheus.Gauge
}

// New creates a Metrics instance registered on a fresh registry that also
// carries the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		GateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "extgate_gate_decisions_total",
			Help: "Gate decisions by service and outcome",
		}, []string{"service", "outcome"}),

		Approvals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "extgate_approvals_total",
			Help: "Approval attempts by service and result",
		}, []string{"service", "result"}),

		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extgate_upstream_duration_seconds",
			Help:    "Duration of upstream calls by service and status class",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"service", "class"}),

		PendingItems: f.NewGauge(prometheus.GaugeOpts{
			Name: "extgate_review_queue_pending",
			Help: "Pending review queue items as of the last unfiltered listing",
		}),
	}
}

// IncGateDecision records a gate outcome.
func (m *Metrics) IncGateDecision(service, outcome string) {
	if m != nil {
		m.GateDecisions.WithLabelValues(service, outcome).Inc()
	}
}

// IncApproval records an approval attempt result.
func (m *Metrics) IncApproval(service, result string) {
	if m != nil {
		m.Approvals.WithLabelValues(service, result).Inc()
	}
}

// ObserveUpstream records the duration of one upstream call. status is the
// HTTP status, or 0 for a transport failure.
func (m *Metrics) ObserveUpstream(service string, status int, d time.Duration) {
	if m != nil {
		m.UpstreamLatency.WithLabelValues(service, statusClass(status)).Observe(d.Seconds())
	}
}

// SetPending records the number of pending items.
func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.PendingItems.Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func statusClass(status int) string {
	switch {
	case status <= 0:
		return "transport"
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
