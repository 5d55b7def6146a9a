// Package server provides the HTTP server setup and routing configuration.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/telecast-dev/telecast/internal/api"
	"github.com/telecast-dev/telecast/internal/config"
	"github.com/telecast-dev/telecast/internal/db"
	"github.com/telecast-dev/telecast/internal/logger"
	"github.com/telecast-dev/telecast/internal/middleware"
	"github.com/telecast-dev/telecast/internal/playout"
	"github.com/telecast-dev/telecast/internal/registry"
	"github.com/telecast-dev/telecast/internal/source"
	"github.com/telecast-dev/telecast/internal/watch"
)

// Server represents the HTTP server
type Server struct {
	config   *config.Config
	db       *db.DB
	repos    *db.Repositories
	registry *registry.Registry
	watcher  watch.Watcher
	router   *gin.Engine
	server   *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, database *db.DB) (*Server, error) {
	repos := db.NewRepositories(database)
	collections := source.NewStoreResolver(repos)
	sources := source.NewFileResolver(repos)
	pipelines := playout.NewFFmpegFactory(cfg.Playout.FFmpegPath)

	reg := registry.New(
		repos,
		collections,
		sources,
		pipelines,
		cfg.Playout,
		cfg.Schedules.Dir,
		cfg.Schedules.DiscardSlack,
	)

	watcher, err := watch.NewWatcher(cfg.Schedules.Dir, reg, 0)
	if err != nil {
		return nil, fmt.Errorf("creating schedule watcher: %w", err)
	}

	return &Server{
		config:   cfg,
		db:       database,
		repos:    repos,
		registry: reg,
		watcher:  watcher,
	}, nil
}

// Registry returns the channel registry
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// setupRouter initializes the Gin router with middleware and routes
func (s *Server) setupRouter() {
	if s.config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(middleware.RequestLogger())
	s.router.Use(gin.Recovery())
	s.router.Use(cors.Default())

	apiGroup := s.router.Group("/api")

	api.SetupHealthRoutes(apiGroup, s.db)
	api.SetupChannelRoutes(apiGroup, s.repos.Channels, s.registry)
	api.SetupLibraryRoutes(apiGroup, s.repos.Collections, s.repos.Media)
	api.SetupStreamRoutes(apiGroup, s.registry)
}

// Start starts the HTTP server, the schedule watcher, and, when
// configured, every enabled channel.
func (s *Server) Start() error {
	s.setupRouter()

	if err := s.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start schedule watcher: %w", err)
	}

	if s.config.Playout.AutoStart {
		s.autoStartChannels()
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	logger.Log.Info().
		Str("host", s.config.Server.Host).
		Int("port", s.config.Server.Port).
		Msg("Starting HTTP server")

	return s.server.ListenAndServe()
}

// autoStartChannels brings every enabled channel on air at boot. A
// channel that fails to start is logged and skipped so one bad schedule
// cannot keep the rest of the lineup dark.
func (s *Server) autoStartChannels() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Playout.StartupTimeout)
	defer cancel()

	channels, err := s.repos.Channels.List(ctx)
	if err != nil {
		logger.Log.Error().
			Err(err).
			Msg("Failed to list channels for auto start")
		return
	}

	for _, ch := range channels {
		if !ch.Enabled {
			continue
		}
		if err := s.registry.Start(ctx, ch.ID); err != nil {
			logger.Log.Error().
				Err(err).
				Str("channel_id", ch.ID.String()).
				Str("channel", ch.Name).
				Msg("Failed to auto start channel")
		}
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Info().Msg("Shutting down server gracefully")

	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			logger.Log.Warn().
				Err(err).
				Msg("Error stopping schedule watcher")
		}
	}

	if s.registry != nil {
		s.registry.StopAll()
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	logger.Log.Info().Msg("Server stopped")
	return nil
}
