// Package healthsrv mounts the minimal liveness HTTP surface every
// long-running pipeline process carries (§1 Non-goals excludes
// dashboards and metrics exporters, not basic process liveness).
//
// Just the /healthz and /ready routes: request routing, providers, and
// auth have no analog in this pipeline.
package healthsrv

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Checker reports whether the owning process is ready to serve (e.g. the
// bus connection is up and the main loop has started).
type Checker func() (ready bool, detail string)

// Server is the two-route liveness HTTP server.
type Server struct {
	httpSrv *http.Server
	service string
	ready   Checker
}

// New builds a Server bound to addr. service names the process in
// responses (e.g. "fusion-engine", "signal-router"); ready reports
// readiness beyond "process is up" (may be nil, meaning always ready).
func New(addr, service string, ready Checker) *Server {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	s := &Server{service: service, ready: ready}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/ready", s.handleReady)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": s.service})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": s.service})
		return
	}
	ready, detail := s.ready()
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready", "service": s.service, "detail": detail,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "service": s.service})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Start launches the HTTP server in the background. Errors other than
// http.ErrServerClosed are sent on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
