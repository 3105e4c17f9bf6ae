// Package health serves HTTP health endpoints for a connection pool, for use
// by load balancers and orchestrators.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/suite224/suite-db/internal/config"
	"github.com/suite224/suite-db/internal/db"
	"github.com/suite224/suite-db/internal/logger"
)

// Status values reported by the endpoints.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// DefaultPingTimeout bounds the database ping behind /health and /ready.
const DefaultPingTimeout = 2 * time.Second

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int    // 0 picks a free port
	Bind        string // Bind address, e.g., "0.0.0.0" or "127.0.0.1"
	PingTimeout time.Duration
	Debug       bool // log every request
}

// ConfigFrom converts the health section of the configuration.
func ConfigFrom(cfg config.HealthConfig) ServerConfig {
	return ServerConfig{Port: cfg.Port, Bind: cfg.Bind}
}

// ComponentHealth represents the health status of a single component.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	Status      string                     `json:"status"`
	Environment string                     `json:"environment"`
	Database    string                     `json:"database"`
	Addr        string                     `json:"addr"`
	Uptime      string                     `json:"uptime"`
	Components  map[string]ComponentHealth `json:"components"`
	Pool        db.PoolStat                `json:"pool"`
}

// ReadyResponse is the JSON response for /ready.
type ReadyResponse struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// LiveResponse is the JSON response for /live.
type LiveResponse struct {
	Alive bool `json:"alive"`
}

// Provider is the pool state the server reports on. *db.Pool implements it.
type Provider interface {
	Ping(ctx context.Context) error
	Stat() db.PoolStat
	Profile() config.ConnectionProfile
}

// Server is the HTTP health endpoint server.
type Server struct {
	config   ServerConfig
	provider Provider
	started  time.Time

	server   *http.Server
	listener net.Listener

	mu      sync.Mutex
	running bool
}

// NewServer creates a health server for provider.
func NewServer(cfg ServerConfig, provider Provider) *Server {
	if cfg.Bind == "" {
		cfg.Bind = "127.0.0.1"
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}

	return &Server{
		config:   cfg,
		provider: provider,
		started:  time.Now(),
	}
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/livez", s.handleLive)   // Kubernetes alias
	mux.HandleFunc("/readyz", s.handleReady) // Kubernetes alias
	return mux
}

// Start listens and serves in the background until Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server already running")
	}

	addr := net.JoinHostPort(s.config.Bind, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.running = true
	logger.Info("HTTP health server listening", "addr", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP health server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.running = false
	logger.Info("HTTP health server stopped")
	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stat := s.provider.Stat()
	components := map[string]ComponentHealth{
		"postgresql": s.databaseHealth(r.Context(), stat),
		"pool":       poolHealth(stat),
	}
	overall := overallStatus(components)
	s.logRequest(r, overall)

	profile := s.provider.Profile()
	resp := HealthResponse{
		Status:      overall,
		Environment: profile.Environment.String(),
		Database:    profile.Database,
		Addr:        profile.Addr(),
		Uptime:      formatDuration(time.Since(s.started)),
		Components:  components,
		Pool:        s.provider.Stat(),
	}

	statusCode := http.StatusOK
	if overall == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, statusCode, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := ReadyResponse{Ready: true}
	if stat := s.provider.Stat(); stat.Closed {
		resp = ReadyResponse{Reason: "connection pool closed"}
	} else if err := s.ping(r.Context()); err != nil {
		resp = ReadyResponse{Reason: "database unreachable: " + err.Error()}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !resp.Ready {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}
	s.logRequest(r, status)
	s.writeJSON(w, statusCode, resp)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logRequest(r, "alive")
	s.writeJSON(w, http.StatusOK, LiveResponse{Alive: true})
}

func (s *Server) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.PingTimeout)
	defer cancel()
	return s.provider.Ping(ctx)
}

func (s *Server) databaseHealth(ctx context.Context, stat db.PoolStat) ComponentHealth {
	if stat.Closed {
		return ComponentHealth{Status: StatusUnhealthy, Message: "pool closed"}
	}

	var exhausted *db.PoolExhaustedError
	err := s.ping(ctx)
	switch {
	case err == nil:
		return ComponentHealth{Status: StatusHealthy, Message: "connected to " + s.provider.Profile().Database}
	case errors.As(err, &exhausted):
		// Saturation is not a database outage.
		return ComponentHealth{Status: StatusDegraded, Message: err.Error()}
	default:
		return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
	}
}

func poolHealth(stat db.PoolStat) ComponentHealth {
	msg := fmt.Sprintf("%d/%d in use, %d idle, %d waiting",
		stat.InUse, stat.MaxConnections, stat.IdleConns, stat.Waiting)

	switch {
	case stat.Closed:
		return ComponentHealth{Status: StatusUnhealthy, Message: "closed"}
	case stat.Waiting > 0 || stat.InUse >= stat.MaxConnections:
		return ComponentHealth{Status: StatusDegraded, Message: msg}
	default:
		return ComponentHealth{Status: StatusHealthy, Message: msg}
	}
}

// overallStatus is unhealthy if any component is, else degraded if any is.
func overallStatus(components map[string]ComponentHealth) string {
	status := StatusHealthy
	for _, c := range components {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

func (s *Server) logRequest(r *http.Request, status string) {
	if !s.config.Debug {
		return
	}
	logger.Debug("HTTP health request", "path", r.URL.Path, "remote", r.RemoteAddr, "status", status)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Warn("Error encoding health response", "error", err)
	}
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd%dh", days, hours)
}
