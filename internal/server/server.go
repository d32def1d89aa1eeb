// Package server exposes the HTTP API: run history, portfolio state,
// return analytics, manual sync triggering, health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Deps collects everything the HTTP layer serves.
type Deps struct {
	RunReader      RunReader
	SyncRunner     SyncRunner
	HoldingsReader HoldingsReader
	Returns        ReturnsSummarizer
	Health         HealthReporter
	Metrics        *Metrics
	Location       *time.Location
	SyncTimeout    time.Duration

	// BaseContext parents manually triggered runs so operator shutdown
	// cancels them along with scheduled ones.
	BaseContext context.Context
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger

	runReader      RunReader
	syncRunner     SyncRunner
	holdingsReader HoldingsReader
	returns        ReturnsSummarizer
	health         HealthReporter
	metrics        *Metrics
	loc            *time.Location
	syncTimeout    time.Duration
	baseCtx        context.Context
}

// New creates the server and mounts all routes.
func New(port int, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		log:            log.With().Str("component", "server").Logger(),
		runReader:      deps.RunReader,
		syncRunner:     deps.SyncRunner,
		holdingsReader: deps.HoldingsReader,
		returns:        deps.Returns,
		health:         deps.Health,
		metrics:        deps.Metrics,
		loc:            deps.Location,
		syncTimeout:    deps.SyncTimeout,
		baseCtx:        deps.BaseContext,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.syncTimeout == 0 {
		s.syncTimeout = 45 * time.Minute
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Get("/{date}", s.handleGetRun)
	})
	r.Post("/api/sync/trigger", s.handleTriggerSync)
	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Get("/holdings", s.handleGetHoldings)
		r.Get("/returns", s.handleGetReturns)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	return r
}

// Start runs the server until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.routes()
}
