// Package server is the HTTP and WebSocket surface of kittymarket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alanyoungcy/kittymarket/internal/metrics"
	"github.com/alanyoungcy/kittymarket/internal/server/handler"
	"github.com/alanyoungcy/kittymarket/internal/server/middleware"
	"github.com/alanyoungcy/kittymarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	MetricsPath string // if empty, metrics are not served
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Market  *handler.MarketHandler
	Breed   *handler.BreedHandler
	Account *handler.AccountHandler
	Audit   *handler.AuditHandler // nil without postgres
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(cfg, handlers, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter builds the route tree. Health, metrics and the WebSocket stream
// are served without authentication.
func NewRouter(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Logging(logger))
	r.Use(metrics.Middleware)

	r.Get("/api/health", handlers.Health.HealthCheck)
	if cfg.MetricsPath != "" {
		r.Handle(cfg.MetricsPath, metrics.Handler())
	}
	if wsHub != nil {
		r.Get("/ws", wsHub.HandleWS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.APIKey))

		r.Get("/offers", handlers.Market.ListOffers)
		r.Route("/offers/{tokenID}", func(r chi.Router) {
			r.Get("/", handlers.Market.GetOffer)
			r.Delete("/", handlers.Market.RemoveOffer)
			r.Post("/sell", handlers.Market.Sell)
			r.Post("/sire", handlers.Market.SetSireOffer)
			r.Post("/buy", handlers.Market.Buy)
			r.Post("/buy-sire", handlers.Market.BuySireRites)
		})

		r.Get("/requests", handlers.Market.ListRequests)
		r.Get("/requests/*", handlers.Market.GetRequest)
		r.Delete("/requests/*", handlers.Market.ResetRequest)

		r.Get("/approval", handlers.Market.Approval)
		r.Post("/approval", handlers.Market.Approve)

		r.Post("/breed", handlers.Breed.Breed)

		r.Get("/accounts", handlers.Account.ListAccounts)
		r.Post("/account", handlers.Account.SwitchAccount)

		if handlers.Audit != nil {
			r.Get("/audit", handlers.Audit.ListAudit)
		}
	})

	return r
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
