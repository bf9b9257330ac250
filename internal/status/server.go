package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot is the supervisor state reported by GET /status
type Snapshot struct {
	Version    string     `json:"version"`
	State      string     `json:"state"`
	Relay      string     `json:"relay"`
	Branch     string     `json:"branch"`
	PID        int        `json:"pid,omitempty"`
	ChildSince *time.Time `json:"child_since,omitempty"`
	LastCycle  *Cycle     `json:"last_cycle,omitempty"`
	Sleeping   bool       `json:"sleeping"`
	LastWake   *time.Time `json:"last_wake,omitempty"`
}

// Cycle is the most recent restart cycle
type Cycle struct {
	ID       string    `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	PID      int       `json:"pid,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Source provides what the server reports
type Source interface {
	Status() Snapshot
	Output() []string
}

// Server is a small read-only HTTP API for health checks and debugging
type Server struct {
	source Source
	logger *slog.Logger
}

// NewServer creates a server reporting on source
func NewServer(source Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{source: source, logger: logger}
}

// Handler returns the routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/output", s.handleOutput)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Run serves on addr until ctx is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Status server listening", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Status()
	status := http.StatusOK
	if snap.State == "failed" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"state": snap.State, "relay": snap.Relay})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.Status())
}

// handleOutput returns recent application output, optionally only the last n lines
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	lines := s.source.Output()
	if q := r.URL.Query().Get("lines"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			http.Error(w, "lines must be a non-negative integer", http.StatusBadRequest)
			return
		}
		if n < len(lines) {
			lines = lines[len(lines)-n:]
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}
