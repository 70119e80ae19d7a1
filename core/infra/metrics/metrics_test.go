package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func withTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	origReg := prometheus.DefaultRegisterer
	origGather := prometheus.DefaultGatherer
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGather
	})
	return reg
}

func TestNoopMetrics(t *testing.T) {
	var m Noop
	m.IncRegistration("actions", "ok")
	m.IncEntityDelete("rules", "failed")
	m.IncDeregistration("ok")
	m.IncExecutionDispatched("packs.install")
	m.ObserveRequest("GET", "/health", "200", 0.1)
}

func TestPromMetrics(t *testing.T) {
	reg := withTestRegistry(t)
	m := NewProm("packs")
	m.IncRegistration("actions", "partial")
	m.IncEntityDelete("rules", "ok")
	m.IncDeregistration("rejected")
	m.IncExecutionDispatched("packs.install")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !hasMetric(families, "packs_registrations_total", map[string]string{"kind": "actions", "outcome": "partial"}) {
		t.Fatalf("expected registrations metric")
	}
	if !hasMetric(families, "packs_entity_deletes_total", map[string]string{"kind": "rules", "outcome": "ok"}) {
		t.Fatalf("expected entity_deletes metric")
	}
	if !hasMetric(families, "packs_deregistrations_total", map[string]string{"outcome": "rejected"}) {
		t.Fatalf("expected deregistrations metric")
	}
	if !hasMetric(families, "packs_executions_dispatched_total", map[string]string{"action": "packs.install"}) {
		t.Fatalf("expected executions metric")
	}
}

func TestGatewayMetrics(t *testing.T) {
	reg := withTestRegistry(t)
	m := NewGatewayProm("packs")
	m.ObserveRequest("GET", "/api/v1/packs", "200", 0.01)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !hasMetric(families, "packs_http_requests_total", map[string]string{"method": "GET", "route": "/api/v1/packs", "status": "200"}) {
		t.Fatalf("expected http_requests metric")
	}
	if !hasMetric(families, "packs_http_request_duration_seconds", map[string]string{"method": "GET", "route": "/api/v1/packs"}) {
		t.Fatalf("expected http_request_duration metric")
	}
}

func TestHandler(t *testing.T) {
	withTestRegistry(t)
	m := NewProm("packs")
	m.IncDeregistration("ok")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected metrics output")
	}
}

func hasMetric(families []*dto.MetricFamily, name string, labels map[string]string) bool {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				return true
			}
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, labels map[string]string) bool {
	if len(labels) == 0 {
		return true
	}
	found := 0
	for _, pair := range pairs {
		if val, ok := labels[pair.GetName()]; ok && pair.GetValue() == val {
			found++
		}
	}
	return found == len(labels)
}
