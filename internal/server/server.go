// Package server provides the HTTP surface of the pair-review backend:
// the session API, the analysis run API, and the SSE event endpoints the
// sync layer connects to.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/in-the-loop-labs/pair-review/internal/event"
	"github.com/in-the-loop-labs/pair-review/internal/review"
	"github.com/in-the-loop-labs/pair-review/internal/session"
	"github.com/in-the-loop-labs/pair-review/internal/storage"
)

// Config holds server configuration.
type Config struct {
	Port         int
	DataDir      string
	EnableCORS   bool
	SessionTTL   time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		SessionTTL:   session.DefaultTTL,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Server is the HTTP server.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	storage  *storage.Storage
	sessions *session.Service
	reviews  *review.Service
	bus      *event.Bus
}

// New creates a new Server instance.
func New(cfg *Config) *Server {
	store := storage.New(cfg.DataDir)
	bus := event.NewBus()
	reviews := review.NewService(store)

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		storage:  store,
		sessions: session.NewService(store, bus, reviews, cfg.SessionTTL),
		reviews:  reviews,
		bus:      bus,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Link", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.bus.Close(); err != nil {
		return err
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Router returns the chi router, for mounting or for test servers.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Sessions returns the session service, for the test harness.
func (s *Server) Sessions() *session.Service {
	return s.sessions
}

// Reviews returns the review service.
func (s *Server) Reviews() *review.Service {
	return s.reviews
}

// Bus returns the server's event bus.
func (s *Server) Bus() *event.Bus {
	return s.bus
}
