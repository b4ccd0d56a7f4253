package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.SetServersRunning("http", 2)
	m.BindingReload("pool", ReloadOK)
	m.BindingReload("pool", ReloadOK)
	m.BindingReload("pool", ReloadSkipped)
	m.Handshake("Established")
	m.DiscoveryResponse()
	m.BridgeAction("pool", nil)
	m.BridgeAction("pool", errors.New("down"))

	if got := testutil.ToFloat64(m.serversRunning.WithLabelValues("http")); got != 2 {
		t.Errorf("servers_running{http} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.bindingReloads.WithLabelValues("pool", ReloadOK)); got != 2 {
		t.Errorf("binding_reloads{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.discoveryResponses); got != 1 {
		t.Errorf("discovery_responses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.emits.WithLabelValues("pool", "error")); got != 1 {
		t.Errorf("bridge_actions{error} = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.SetServersRunning("http", 1)
	m.BindingReload("x", ReloadFailed)
	m.Handshake("Failed")
	m.DiscoveryResponse()
	m.BridgeAction("x", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil Handler status = %d, want 404", rec.Code)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Handshake("Established")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body) //nolint:errcheck // test
	if !strings.Contains(string(body), `gateway_handshakes_total{phase="Established"} 1`) {
		t.Errorf("metrics output missing handshake counter:\n%s", body)
	}
}
