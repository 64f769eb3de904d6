// Package server wires the HTTP surface: the live WebSocket endpoint,
// health, and metrics.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxmeet/voxmeet/pkg/gateway/config"
	"github.com/voxmeet/voxmeet/pkg/gateway/lifecycle"
)

// Deps are the server's collaborators, constructed once in cmd.
type Deps struct {
	Live      http.Handler
	Registry  *prometheus.Registry
	Lifecycle *lifecycle.Lifecycle
}

// Server owns the HTTP mux.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	deps   Deps
	mux    *http.ServeMux
}

// New builds the mux.
func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger, deps: deps, mux: http.NewServeMux()}

	s.mux.Handle("/ws", deps.Live)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if deps.Registry != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "ok"
	if s.deps.Lifecycle.IsDraining() {
		status = http.StatusServiceUnavailable
		state = "draining"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": state})
}
