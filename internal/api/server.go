// Package api exposes the admin HTTP surface: item management, pipeline
// introspection, settings, logs, and the websocket event stream.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	apimw "github.com/streamfall/streamfall/internal/api/middleware"
	"github.com/streamfall/streamfall/internal/api/ratelimit"
	"github.com/streamfall/streamfall/internal/auth"
	"github.com/streamfall/streamfall/internal/config"
	"github.com/streamfall/streamfall/internal/events"
	"github.com/streamfall/streamfall/internal/runner"
	"github.com/streamfall/streamfall/internal/scheduler"
	"github.com/streamfall/streamfall/internal/store"
	"github.com/streamfall/streamfall/internal/websocket"
)

// Deps bundles the components the API surfaces. Everything is constructed
// in main and injected; the server owns nothing but its echo instance.
type Deps struct {
	Store     *store.Store
	Bus       *events.Bus
	Runner    *runner.Runner
	Scheduler *scheduler.Scheduler
	Hub       *websocket.Hub
	Logs      LogsProvider
	Auth      *auth.Service

	// ConfigPath is where PUT /api/settings persists changes.
	ConfigPath string
}

// Server handles HTTP requests for the Streamfall API.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	limiter *ratelimit.Limiter
	logger  zerolog.Logger

	mu              sync.RWMutex
	cfg             *config.Config
	onSettingsSaved func(*config.Config)

	startedAt time.Time
}

// NewServer creates a new API server instance.
func NewServer(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		deps:      deps,
		limiter:   ratelimit.New(),
		logger:    logger.With().Str("component", "api").Logger(),
		cfg:       cfg,
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// SetOnSettingsSaved registers a hook invoked after PUT /api/settings has
// persisted a new configuration. Main uses it to restart services.
func (s *Server) SetOnSettingsSaved(fn func(*config.Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSettingsSaved = fn
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(apimw.SecurityHeaders())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Api-Key"},
	}))

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			// Compression breaks the websocket upgrade.
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

// Start begins listening for HTTP requests and blocks until shutdown.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("Starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
