package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quantrel/autotrader/internal/controller"
	"github.com/quantrel/autotrader/internal/market"
	"github.com/quantrel/autotrader/internal/metrics"
	"github.com/quantrel/autotrader/internal/store"
	"github.com/quantrel/autotrader/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := types.DefaultConfig()
	logger := zap.NewNop()

	registry := prometheus.NewRegistry()
	metrics.New(registry)

	ctrl := controller.New(logger, cfg, controller.Options{
		Provider: market.NewSimulator(logger, market.DefaultSimulatorConfig(cfg.Symbols)),
		Store:    store.NewMemoryStore(),
	})

	return NewServer(logger, cfg.Server, ctrl, nil, registry)
}

func doRequest(t *testing.T, s *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", resp["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var status controller.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if status.State != types.StateInitializing {
		t.Errorf("State = %s, want INITIALIZING", status.State)
	}
	if status.TradingMode != types.ModeModerate {
		t.Errorf("Mode = %s, want moderate", status.TradingMode)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/positions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var resp struct {
		Positions map[string]types.Position `json:"positions"`
		Cash      string                    `json:"cash"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp.Cash != "1000000" {
		t.Errorf("Cash = %s, want 1000000", resp.Cash)
	}
}

func TestDecisionsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/decisions?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("Count = %d, want 0", resp.Count)
	}
}

func TestControlEndpoints(t *testing.T) {
	s := newTestServer(t)

	// Pause before ACTIVE is a no-op; the endpoint still succeeds.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/control/pause", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Pause status = %d, want 200", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/api/v1/control/emergency-stop", `{"reason":"test"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Emergency stop status = %d, want 200", rec.Code)
	}
	if s.ctrl.State() != types.StateEmergencyStop {
		t.Errorf("State = %s, want EMERGENCY_STOP", s.ctrl.State())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "autotrader") {
		t.Error("Metrics output missing autotrader namespace")
	}
}
