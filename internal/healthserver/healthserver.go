// Package healthserver exposes a minimal liveness endpoint for the
// reflection sidecar, adapted from the teacher's internal/httpserver
// (loggingMiddleware shape, writeJSON helper, graceful Shutdown) with the
// OpenAI chat-completions surface stripped out: the sidecar has no inbound
// API of its own, only an operator-facing health check.
package healthserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Status reports the sidecar's liveness for the health endpoint.
type Status struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

// Server serves GET /health on its own listener.
type Server struct {
	httpSrv *http.Server
	logger  *slog.Logger
}

// New constructs a Server bound to addr. statusFn is called on every health
// request, letting main wire in liveness signals (e.g. "is the event stream
// still connected") without this package depending on hostclient.
func New(addr string, logger *slog.Logger, statusFn func() Status) *Server {
	s := &Server{logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		writeJSON(w, http.StatusOK, statusFn())
	})

	srv := &http.Server{
		Addr: addr,
	}

	s.httpSrv = srv
	s.httpSrv.Handler = s.loggingMiddleware(mux)
	return s
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// loggingMiddleware logs method, path, status, and duration for every
// request, matching the teacher's httpserver.loggingMiddleware shape.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)
		if s.logger != nil {
			s.logger.Debug("health request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", lw.status),
				slog.Duration("duration", time.Since(start)),
			)
		}
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *loggingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// ListenAndServe blocks serving requests until Shutdown is called.
func (s *Server) ListenAndServe() error {
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
