package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goodtune/accesstime/internal/access"
	"github.com/rs/zerolog"
)

// Config holds API server configuration.
type Config struct {
	ListenAddr      string
	RateLimit       int // zero disables rate limiting
	RateLimitWindow time.Duration
	AllowedOrigins  []string
}

// Server represents the API HTTP server.
type Server struct {
	config      Config
	engine      *access.Engine
	rateLimiter *RateLimiter
	router      chi.Router
	server      *http.Server
	listener    net.Listener // Optional pre-created listener (for systemd socket activation)
	logger      zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, engine *access.Engine, logger zerolog.Logger) *Server {
	s := &Server{
		config: cfg,
		engine: engine,
		router: chi.NewRouter(),
		logger: logger.With().Str("component", "api").Logger(),
	}
	if cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		s.rateLimiter = NewRateLimiter(cfg.RateLimit, window)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.logger))
	if len(s.config.AllowedOrigins) > 0 {
		r.Use(CORSMiddleware(s.config.AllowedOrigins))
	}

	r.Get("/healthz", s.handleHealth)

	h := &handlers{engine: s.engine, logger: s.logger}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/instance", h.getInstance)
		r.Get("/packages", h.listPackages)
		r.Get("/packages/{id}", h.getPackage)
		r.Get("/sessions/{owner}", h.getSession)
		r.Get("/sessions/{owner}/remaining", h.getRemaining)
		r.Get("/sessions/{owner}/access", h.getAccess)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/owners/{owner}/orders", h.listOrders)

		r.Group(func(r chi.Router) {
			if s.rateLimiter != nil {
				r.Use(RateLimitMiddleware(s.rateLimiter))
			}
			r.Post("/simulate", h.simulate)
			r.Post("/submit", h.submit)
		})
	})
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	ln := s.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
		}
	} else {
		s.logger.Debug().Msg("Using systemd socket-activated API listener")
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}
