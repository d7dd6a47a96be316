// Package server exposes the HTTP API and the websocket bridge.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/luthebao/xtools-sub000/internal/domain"
	"github.com/luthebao/xtools-sub000/internal/server/handler"
	"github.com/luthebao/xtools-sub000/internal/server/middleware"
	"github.com/luthebao/xtools-sub000/internal/server/ws"
)

// Per-client API budget for the optional rate limit middleware.
const (
	rateLimitRequests = 120
	rateLimitWindow   = time.Minute
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	APIKey      string // empty disables auth
	CORSOrigins []string
}

// Handlers aggregates the route handlers the server registers. Nil entries
// skip their routes, so a process can serve only what its mode carries.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Events  *handler.EventsHandler
	Actions *handler.ActionsHandler
	Watcher *handler.WatcherHandler
}

// Server is the headless control API around the watcher and the action
// queue.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. limiter
// may be nil to run without API rate limiting.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	if handlers.Health != nil {
		mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	}
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
		mux.HandleFunc("DELETE /api/events", handlers.Events.ClearEvents)
	}
	if handlers.Actions != nil {
		mux.HandleFunc("GET /api/actions", handlers.Actions.ListActions)
		mux.HandleFunc("GET /api/actions/stats", handlers.Actions.GetStats)
		mux.HandleFunc("POST /api/actions/test", handlers.Actions.TestAction)
	}
	if handlers.Watcher != nil {
		mux.HandleFunc("GET /api/filter", handlers.Watcher.GetFilter)
		mux.HandleFunc("PUT /api/filter", handlers.Watcher.UpdateFilter)
		mux.HandleFunc("POST /api/watcher/start", handlers.Watcher.StartWatcher)
		mux.HandleFunc("POST /api/watcher/stop", handlers.Watcher.StopWatcher)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil {
		h = middleware.RateLimit(limiter, rateLimitRequests, rateLimitWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start listens and serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
