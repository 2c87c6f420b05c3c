// Package healthz is lsmcloud's minimal HTTP surface: a liveness probe
// and a Prometheus scrape endpoint, nothing else. It carries no storage
// API of its own — unlike the teacher's internal/http, which fronts a
// whole key-value service, a cloud-backed virtual environment has no
// request path of its own to serve; this package exists only so an
// operator or an orchestrator's liveness check has something to hit.
//
// Grounded on the teacher's internal/http/server.go: a chi.Router built
// in one place, a *http.Server wrapping it, and symmetric Start/Stop
// methods with a bounded shutdown timeout.
package healthz

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lsmcloud/pkg/cloudenv"
)

const defaultShutdownTimeout = 5 * time.Second

// Server exposes /healthz and /metrics for one open Env.
type Server struct {
	env *cloudenv.Env
	reg *prometheus.Registry

	httpServer *http.Server
	addr       string
}

// New builds a Server. reg is the registry PrometheusCollector was
// constructed against, so /metrics reports the same vectors lsmcloud's
// own components report into.
func New(env *cloudenv.Env, reg *prometheus.Registry, addr string) *Server {
	if addr == "" {
		addr = ":8080"
	}
	return &Server{env: env, reg: reg, addr: addr}
}

// router builds the chi router. Split out from Start so tests can drive
// it directly via httptest without binding a real listener.
func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	return r
}

// Start begins serving in the background. Call Stop to shut down.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("healthz server error", "error", err)
		}
	}()
	slog.Info("healthz server started", "addr", s.addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("healthz: shutdown: %w", err)
	}
	return nil
}

// healthzResponse is the JSON body of a /healthz response.
type healthzResponse struct {
	Status            string `json:"status"`
	Mode              string `json:"mode"`
	TailerRunning     bool   `json:"tailer_running"`
	TailerHealthy     bool   `json:"tailer_healthy,omitempty"`
	TailerLastError   string `json:"tailer_last_error,omitempty"`
	DeferredDeletions bool   `json:"deferred_deletions_enabled"`
	PendingDeletes    int    `json:"pending_deletes"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h := s.env.Health()

	resp := healthzResponse{
		Status:            "OK",
		Mode:              h.Mode,
		TailerRunning:     h.TailerRunning,
		TailerHealthy:     h.TailerHealthy,
		TailerLastError:   h.TailerLastError,
		DeferredDeletions: h.DeferredDeletions,
		PendingDeletes:    h.PendingDeletes,
	}

	status := http.StatusOK
	if h.TailerRunning && !h.TailerHealthy {
		resp.Status = "DEGRADED"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("healthz: failed to encode response", "error", err)
	}
}
