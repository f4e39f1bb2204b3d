// Package server exposes routing diagnostics and metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/zen-systems/taskrouter/pkg/metrics"
	"github.com/zen-systems/taskrouter/pkg/router"
	"github.com/zen-systems/taskrouter/pkg/task"
)

const shutdownTimeout = 5 * time.Second

// Server serves /healthz, /routes and /metrics.
type Server struct {
	router  *router.Router
	metrics *metrics.Collector
	logger  *zap.Logger
	handler http.Handler
}

// New creates a server. metrics may be nil, in which case /metrics is 404.
func New(r *router.Router, m *metrics.Collector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{router: r, metrics: m, logger: logger}

	mr := mux.NewRouter()
	mr.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	mr.HandleFunc("/routes", s.handleRoutes).Methods(http.MethodGet)
	mr.HandleFunc("/routes/{task}", s.handleRoute).Methods(http.MethodGet)
	mr.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	s.handler = mr
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("diagnostics server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down diagnostics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	diag := s.router.Diagnostics()
	status := http.StatusServiceUnavailable
	for _, ok := range diag.ProviderAvailability {
		if ok {
			status = http.StatusOK
			break
		}
	}
	s.writeJSON(w, status, diag)
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	decisions := make([]router.Decision, 0, len(task.All()))
	for _, t := range task.All() {
		decisions = append(decisions, s.router.Explain(t))
	}
	s.writeJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	t, err := task.Parse(mux.Vars(r)["task"])
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, s.router.Explain(t))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}
