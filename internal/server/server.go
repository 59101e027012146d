// Package server hosts the serve-mode HTTP endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/STRATINT/eventfeed/internal/config"
	"github.com/STRATINT/eventfeed/internal/metrics"
)

// Status is what /healthz reports besides the probe result.
type Status struct {
	Running bool
	NextRun time.Time
}

type healthResponse struct {
	State   string     `json:"status"`
	Error   string     `json:"error,omitempty"`
	Running bool       `json:"running"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// Probes feed the health endpoint. Any field may be nil.
type Probes struct {
	// Check returns an error when a dependency, such as the outcome ledger, is unhealthy.
	Check  func(ctx context.Context) error
	Status func() Status
}

// Routes builds the serve-mode mux: /healthz and, with a collector, /metrics.
func Routes(collector *metrics.Collector, probes Probes) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		response := healthResponse{State: "ok"}
		code := http.StatusOK

		if probes.Check != nil {
			if err := probes.Check(r.Context()); err != nil {
				response.State = "unhealthy"
				response.Error = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		if probes.Status != nil {
			status := probes.Status()
			response.Running = status.Running
			if !status.NextRun.IsZero() {
				response.NextRun = &status.NextRun
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(response)
	})

	if collector == nil {
		return mux
	}
	mux.Handle("/metrics", collector.Handler())
	return collector.InstrumentHandler(mux)
}

// Server wraps the HTTP server used in serve mode.
type Server struct {
	cfg    config.ServerConfig
	logger *slog.Logger
	http   *http.Server
}

// New constructs a Server with sane defaults.
func New(cfg config.ServerConfig, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		cfg:    cfg,
		logger: logger,
		http:   srv,
	}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Shutdown gracefully terminates the server.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("shutting down server")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
