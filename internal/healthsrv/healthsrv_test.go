package healthsrv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// newTestHandler builds the same route table New wires, without binding a
// real listener, so tests can drive it through httptest.
func newTestHandler(service string, ready Checker) http.Handler {
	s := &Server{service: service, ready: ready}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/ready", s.handleReady)
	return r
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := newTestHandler("fusion-engine", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "fusion-engine" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestReadyNilCheckerAlwaysReady(t *testing.T) {
	h := newTestHandler("signal-router", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadyReflectsCheckerFailure(t *testing.T) {
	h := newTestHandler("signal-router", func() (bool, string) { return false, "bus unreachable" })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["detail"] != "bus unreachable" {
		t.Errorf("expected detail to surface checker reason, got %+v", body)
	}
}

func TestShutdownIsIdempotentBeforeStart(t *testing.T) {
	s := New(":0", "fusion-engine", nil)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown before Start should not error: %v", err)
	}
}
