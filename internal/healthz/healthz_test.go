package healthz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"lsmcloud/internal/config"
	"lsmcloud/pkg/cloudenv"
	"lsmcloud/pkg/logstream/logstreamtest"
	"lsmcloud/pkg/objstore/objstoretest"
)

func newTestEnv(t *testing.T) *cloudenv.Env {
	t.Helper()
	cfg := config.Default()
	cfg.Cloud.LocalCacheDir = t.TempDir()

	store := objstoretest.New(nil)
	logs := logstreamtest.New()

	env, err := cloudenv.New(cfg, store, logs, nil)
	if err != nil {
		t.Fatalf("cloudenv.New: %v", err)
	}
	if _, err := env.Open(context.Background()); err != nil {
		t.Fatalf("env.Open: %v", err)
	}
	t.Cleanup(env.Close)
	return env
}

func TestHealthzReportsOK(t *testing.T) {
	env := newTestEnv(t)
	reg := prometheus.NewRegistry()
	s := New(env, reg, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp healthzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "OK" {
		t.Fatalf("expected status OK, got %q", resp.Status)
	}
	if resp.Mode != "local" {
		t.Fatalf("expected mode local, got %q", resp.Mode)
	}
	if resp.TailerRunning {
		t.Fatalf("expected no tailer running in local mode")
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	env := newTestEnv(t)
	reg := prometheus.NewRegistry()
	s := New(env, reg, "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
