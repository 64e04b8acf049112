package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls the dashboard/metrics HTTP server, the generalized
// form of the teacher's config.DashboardConfig.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// Server runs the dashboard REST+WebSocket API and a Prometheus
// /metrics endpoint, generalizing the teacher's internal/api.Server
// (which only served the dashboard) by adding metrics, per SPEC_FULL's
// ambient-observability stack.
type Server struct {
	cfg      Config
	provider SnapshotProvider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger

	hubDone chan struct{}
}

// NewServer wires routes and constructs an idle Server.
func NewServer(cfg Config, provider SnapshotProvider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", http.FileServer(http.Dir("web")))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   httpServer,
		logger:   logger.With("component", "observability.server"),
		hubDone:  make(chan struct{}),
	}
}

// Start launches the hub loop and HTTP listener in background
// goroutines and returns immediately, unlike the teacher's
// ListenAndServe-blocking Start — internal/kernel.Kernel.Start needs
// to return control to start the rest of the process.
func (s *Server) Start() error {
	go s.hub.Run(s.hubDone)

	go func() {
		s.logger.Info("dashboard server starting", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("dashboard server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP listener and hub.
func (s *Server) Stop(ctx context.Context) error {
	close(s.hubDone)
	return s.server.Shutdown(ctx)
}

// Broadcast pushes snap to every connected dashboard client.
func (s *Server) Broadcast(snap Snapshot) {
	s.hub.BroadcastSnapshot(snap)
}
