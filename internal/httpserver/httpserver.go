// Package httpserver runs the process's own health/metrics listener,
// grounded on the teacher's internal/gateway http_server.go mux/listener
// shape, trimmed to the health and metrics surface the Agent Execution
// Core needs (the teacher's channel webhooks and web UI have no home here).
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the health/metrics HTTP listener.
type Server struct {
	addr     string
	registry *prometheus.Registry
	log      *slog.Logger
	server   *http.Server
	listener net.Listener

	startedAt time.Time
	readyFunc func() error
}

// New constructs a Server bound to addr. registry is served at /metrics; a
// nil registry falls back to the global DefaultGatherer. readyFunc, if
// non-nil, is called by /healthz and any error it returns is surfaced as a
// 503.
func New(addr string, registry *prometheus.Registry, readyFunc func() error, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{addr: addr, registry: registry, readyFunc: readyFunc, log: log.With("component", "httpserver")}
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	if s.addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", s.handleHealthz)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.server = srv
	s.listener = listener
	s.startedAt = time.Now()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()

	s.log.Info("starting http server", "addr", s.addr)
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.readyFunc != nil {
		if err := s.readyFunc(); err != nil {
			status = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"uptime": time.Since(s.startedAt).String(),
	})
}
