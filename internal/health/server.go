// Package health serves liveness, readiness and metrics over HTTP
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/edgeo-scada/sia/sia"
)

// SnapshotFunc returns the current receiver metrics
type SnapshotFunc func() sia.MetricsSnapshot

// Server exposes /health, /ready and /metrics
type Server struct {
	server   *http.Server
	ready    atomic.Bool
	snapshot SnapshotFunc
	logger   *slog.Logger
}

// NewServer creates a health server listening on addr
func NewServer(addr string, snapshot SnapshotFunc, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		snapshot: snapshot,
		logger:   logger,
	}

	// not ready until the receiver is listening
	s.ready.Store(false)

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/metrics", s.handleMetrics)

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe serves until Stop is called
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop is called
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("health server listening", slog.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// SetReady flips the readiness probe
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.snapshot == nil {
		http.Error(w, "metrics unavailable", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Warn("failed to encode metrics", slog.String("error", err.Error()))
	}
}
