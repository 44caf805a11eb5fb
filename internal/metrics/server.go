package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc reports a snapshot of the agent's state for /health.
type StatusFunc func() map[string]any

// Server exposes /metrics and /health over HTTP.
type Server struct {
	server *http.Server
	status StatusFunc
}

// NewServer creates a metrics server listening on addr (e.g. ":9102").
func NewServer(addr string, status StatusFunc) *Server {
	mux := http.NewServeMux()
	s := &Server{
		status: status,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler returns the underlying mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Stop is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	response := map[string]any{"status": "ok"}
	if s.status != nil {
		for k, v := range s.status() {
			response[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
