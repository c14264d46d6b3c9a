// Package health provides health check HTTP endpoints for carelay.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postalsys/carelay/internal/logging"
	"github.com/postalsys/carelay/internal/recovery"
	"github.com/postalsys/carelay/internal/relay"
	"github.com/postalsys/carelay/internal/sysinfo"
)

// sessionsTimeout bounds how long /sessions waits for the relay loop.
const sessionsTimeout = 5 * time.Second

// StatsProvider provides relay statistics.
type StatsProvider interface {
	// IsRunning returns true if the relay loop is running.
	IsRunning() bool

	// Stats returns relay counters.
	Stats() relay.Stats
}

// SessionsProvider lists live sessions.
type SessionsProvider interface {
	Sessions(ctx context.Context) ([]relay.SessionInfo, error)
}

// SessionsResponse is the body served on /sessions.
type SessionsResponse struct {
	Listen   string              `json:"listen"`
	Forward  string              `json:"forward"`
	Sessions []relay.SessionInfo `json:"sessions"`
}

// ServerConfig contains health server configuration.
type ServerConfig struct {
	// Address to listen on (e.g., "127.0.0.1:9465")
	Address string

	// ReadTimeout for HTTP reads
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes
	WriteTimeout time.Duration

	// ListenAddr and ForwardAddr are reported on /sessions.
	ListenAddr  string
	ForwardAddr string
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:9465",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is an HTTP server for health check endpoints.
type Server struct {
	cfg      ServerConfig
	provider StatsProvider
	sessions SessionsProvider
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new health check server.
func NewServer(cfg ServerConfig, provider StatsProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With(logging.KeyComponent, "health"),
	}
	if sp, ok := provider.(SessionsProvider); ok {
		s.sessions = sp
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/sessions", s.handleSessions)

	mux.Handle("/metrics", promhttp.Handler())

	// pprof debug endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// SetSessionsProvider overrides the provider used for /sessions.
func (s *Server) SetSessionsProvider(p SessionsProvider) {
	s.sessions = p
}

// Start starts the health check server.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go func() {
		defer recovery.RecoverWithCallback(s.logger, "health.Serve", func(any) {
			s.running.Store(false)
		})
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server stopped", logging.KeyError, err)
		}
	}()

	s.logger.Info("health server listening", logging.KeyAddress, ln.Addr().String())
	return nil
}

// Stop stops the health check server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Address returns the server's listen address.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// handleHealth handles the basic health check endpoint.
// Returns 200 if the server is responding.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

// handleHealthz handles the detailed health check endpoint.
// Returns 200 with JSON stats if healthy, 503 if not running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.provider == nil || !s.provider.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unavailable",
			"running": false,
		})
		return
	}

	stats := s.provider.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"running":          true,
		"version":          sysinfo.Version,
		"uptime_seconds":   sysinfo.UptimeSeconds(),
		"active_sessions":  stats.ActiveSessions,
		"queries_total":    stats.QueriesTotal,
		"replies_total":    stats.RepliesTotal,
		"sessions_created": stats.SessionsCreated,
		"sessions_evicted": stats.SessionsEvicted,
	})
}

// handleReady handles the readiness probe endpoint.
// Returns 200 if the relay is ready to serve traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.provider == nil || !s.provider.IsRunning() {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("NOT READY\n"))
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY\n"))
}

// handleSessions lists live sessions as JSON.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.sessions == nil {
		http.Error(w, "sessions not available", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sessionsTimeout)
	defer cancel()

	list, err := s.sessions.Sessions(ctx)
	if err != nil {
		http.Error(w, "failed to list sessions: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	if list == nil {
		list = []relay.SessionInfo{}
	}

	writeJSON(w, http.StatusOK, SessionsResponse{
		Listen:   s.cfg.ListenAddr,
		Forward:  s.cfg.ForwardAddr,
		Sessions: list,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
