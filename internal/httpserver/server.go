// Package httpserver implements AMCP's server surface (spec §4.K): the
// /api/v1 REST router, the /ws WebSocket control plane, SSE event
// streams, and /metrics — the one process boundary that turns the
// session/registry/eventbus components into a running service.
//
// Grounded on internal/gateway/http_server.go's server lifecycle
// (net.Listen + goroutine Serve + graceful Shutdown, /metrics via
// promhttp) and internal/gateway/ws_control_plane.go's gorilla/websocket
// upgrade handling, adapted to spec §6's much smaller surface and routed
// with go-chi/chi/v5 instead of a raw http.ServeMux.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amcp-dev/amcp/internal/eventbus"
	"github.com/amcp-dev/amcp/internal/registry"
	"github.com/amcp-dev/amcp/internal/session"
	"github.com/amcp-dev/amcp/pkg/model"
)

// Config configures a Server's listen address and shutdown behavior.
type Config struct {
	Host string
	Port int
	// ShutdownGrace bounds how long Shutdown waits for in-flight requests
	// (including open SSE/WS connections) to drain before giving up.
	ShutdownGrace time.Duration
}

// Server wires internal/session.Manager, internal/registry.Registry and
// internal/eventbus.Bus to HTTP, matching spec §6's external interface.
// One Server per process; started by cmd/amcpd.
type Server struct {
	cfg      Config
	sessions *session.Manager
	registry *registry.Registry
	bus      *eventbus.Bus
	agents   map[string]model.AgentSpec
	logger   *slog.Logger
	metrics  *Metrics
	start    time.Time

	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server. agents is the same name->spec map the session
// manager was constructed with, exposed read-only via GET /agents.
func New(cfg Config, sessions *session.Manager, reg *registry.Registry, bus *eventbus.Bus, agents map[string]model.AgentSpec, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		registry: reg,
		bus:      bus,
		agents:   agents,
		logger:   logger,
		metrics:  NewMetrics(),
		start:    time.Now(),
	}
}

// Router builds the full chi router: REST under /api/v1, /ws, /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Get("/info", s.handleInfo)
		api.Get("/status", s.handleStatus)

		api.Get("/sessions", s.handleListSessions)
		api.Post("/sessions", s.handleCreateSession)
		api.Get("/sessions/{id}", s.handleGetSession)
		api.Delete("/sessions/{id}", s.handleDeleteSession)
		api.Post("/sessions/{id}/prompt", s.handlePrompt)
		api.Post("/sessions/{id}/cancel", s.handleCancel)
		api.Get("/sessions/{id}/events", s.handleSessionEvents)

		api.Get("/tools", s.handleListTools)
		api.Post("/tools/{name}/execute", s.handleExecuteTool)

		api.Get("/agents", s.handleListAgents)
		api.Get("/agents/{name}", s.handleGetAgent)

		api.Get("/events", s.handleAllEvents)
	})

	r.Get("/ws", s.handleWS)

	return r
}

// Start binds the listener and serves in the background. It returns once
// the listener is bound; Serve errors are logged, not returned, matching
// the teacher's startHTTPServer/stopHTTPServer split.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("httpserver listening", "addr", addr)
	return nil
}

// Shutdown gracefully drains the server, bounded by cfg.ShutdownGrace.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
