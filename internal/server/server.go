// Package server provides the HTTP server and routing for layerwise.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/modules/instruments"
	instrumentshandlers "github.com/aristath/layerwise/internal/modules/instruments/handlers"
	kbhandlers "github.com/aristath/layerwise/internal/modules/knowledgebase/handlers"
	"github.com/aristath/layerwise/internal/modules/rebalancing"
	rebalancinghandlers "github.com/aristath/layerwise/internal/modules/rebalancing/handlers"
	"github.com/aristath/layerwise/internal/modules/suggestions"
	suggestionshandlers "github.com/aristath/layerwise/internal/modules/suggestions/handlers"
	"github.com/aristath/layerwise/internal/scheduler"
)

// HealthReporter exposes the outcome of the last knowledge-base check.
type HealthReporter interface {
	LastReport() *scheduler.HealthReport
}

// Config holds server configuration
type Config struct {
	Log         zerolog.Logger
	Config      *config.Config
	Profiles    config.Profiles
	Assessor    *rebalancing.Assessor
	Instruments *instruments.Service
	Suggestions *suggestions.Service
	Records     kbhandlers.RecordStore // nil when the knowledge base is disabled
	Health      HealthReporter
	Version     string
}

// Server represents the HTTP server
type Server struct {
	router      *chi.Mux
	server      *http.Server
	log         zerolog.Logger
	cfg         *config.Config
	profiles    config.Profiles
	assessor    *rebalancing.Assessor
	instruments *instruments.Service
	suggestions *suggestions.Service
	records     kbhandlers.RecordStore
	health      HealthReporter
	version     string
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.Config{}
	}
	profiles := cfg.Profiles
	if profiles == nil {
		profiles = config.DefaultProfiles()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		cfg:         appCfg,
		profiles:    profiles,
		assessor:    cfg.Assessor,
		instruments: cfg.Instruments,
		suggestions: cfg.Suggestions,
		records:     cfg.Records,
		health:      cfg.Health,
		version:     version,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", appCfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	// Assessment responses are large JSON documents
	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/profiles", s.handleProfiles)

		if s.assessor != nil {
			rebalancinghandlers.NewHandler(s.assessor, s.log).RegisterRoutes(r)
		}
		if s.instruments != nil {
			instrumentshandlers.NewHandler(s.instruments, s.log).RegisterRoutes(r)
		}
		if s.suggestions != nil {
			suggestionshandlers.NewHandler(s.suggestions, s.log).RegisterRoutes(r)
		}
		if s.records != nil {
			kbhandlers.NewHandler(s.records, s.log).RegisterRoutes(r)
		}
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
