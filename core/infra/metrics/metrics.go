package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PackMetrics defines counters for pack lifecycle operations.
type PackMetrics interface {
	IncRegistration(kind, outcome string)
	IncEntityDelete(kind, outcome string)
	IncDeregistration(outcome string)
	IncExecutionDispatched(action string)
}

// GatewayMetrics captures request metrics for the packs API.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements PackMetrics and GatewayMetrics without emitting anything.
type Noop struct{}

func (Noop) IncRegistration(string, string)                 {}
func (Noop) IncEntityDelete(string, string)                 {}
func (Noop) IncDeregistration(string)                       {}
func (Noop) IncExecutionDispatched(string)                  {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements PackMetrics backed by Prometheus counters.
type Prom struct {
	registrations   *prometheus.CounterVec
	entityDeletes   *prometheus.CounterVec
	deregistrations *prometheus.CounterVec
	executions      *prometheus.CounterVec
	once            sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registrar invocations by content kind and outcome",
		}, []string{"kind", "outcome"}),
		entityDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_deletes_total",
			Help:      "Dependent entity deletions by kind and outcome",
		}, []string{"kind", "outcome"}),
		deregistrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deregistrations_total",
			Help:      "Pack deregistrations by outcome",
		}, []string{"outcome"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_dispatched_total",
			Help:      "Install/uninstall executions scheduled by action",
		}, []string{"action"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.registrations, p.entityDeletes, p.deregistrations, p.executions)
	})
}

func (p *Prom) IncRegistration(kind, outcome string) {
	p.registrations.WithLabelValues(kind, outcome).Inc()
}

func (p *Prom) IncEntityDelete(kind, outcome string) {
	p.entityDeletes.WithLabelValues(kind, outcome).Inc()
}

func (p *Prom) IncDeregistration(outcome string) {
	p.deregistrations.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncExecutionDispatched(action string) {
	p.executions.WithLabelValues(action).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
