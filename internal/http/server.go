// Package http serves the talkd JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/J3rah/talkai-monorepo-sub002/internal/agent"
	"github.com/J3rah/talkai-monorepo-sub002/internal/analytics"
	"github.com/J3rah/talkai-monorepo-sub002/internal/auth"
	"github.com/J3rah/talkai-monorepo-sub002/internal/logging"
	"github.com/J3rah/talkai-monorepo-sub002/internal/session"
	"github.com/J3rah/talkai-monorepo-sub002/internal/voice"
)

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Services are the domain components behind the routes. Agent may be nil,
// in which case the admin routes answer 503.
type Services struct {
	Sessions  *session.Manager
	Catalog   *voice.Loader
	Analytics *analytics.Service
	Agent     *agent.Client
	Verifier  *auth.Verifier
}

// Server provides the talkd HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	svc     Services
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// NewServer wires routes and middleware.
func NewServer(svc Services, logger *logging.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	switch {
	case svc.Sessions == nil:
		return nil, errors.New("session manager cannot be nil")
	case svc.Catalog == nil:
		return nil, errors.New("voice loader cannot be nil")
	case svc.Analytics == nil:
		return nil, errors.New("analytics service cannot be nil")
	case svc.Verifier == nil:
		return nil, errors.New("token verifier cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8787}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		svc:     svc,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), reqID)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("route", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1", s.svc.Verifier.Middleware())
	v1.GET("/health", s.handleHealth)
	v1.GET("/voices", s.handleVoices)

	w := v1.Group("/wizards")
	w.POST("", s.handleCreateWizard)
	w.GET("/:id", s.handleGetWizard)
	w.POST("/:id/events", s.handleWizardEvent)
	w.POST("/:id/back", s.handleWizardBack)
	w.POST("/:id/refresh", s.handleWizardRefresh)
	w.POST("/:id/connect", s.handleWizardConnect)
	w.POST("/:id/defaults", s.handleWizardDefaults, auth.RequireUser())
	w.GET("/:id/handoff", s.handleWizardHandoff)
	w.POST("/:id/end", s.handleWizardEnd)

	sess := v1.Group("/sessions")
	sess.POST("/summary", s.handleSummary)
	sess.POST("/:id/journal", s.handleJournal, auth.RequireUser())

	admin := v1.Group("/admin/agent", auth.RequireAdmin(), s.requireAgent)
	admin.GET("", s.handleAgentStatus)
	admin.POST("/start", s.handleAgentStart)
	admin.POST("/stop", s.handleAgentStop)
	admin.GET("/activities", s.handleAgentActivities)
	admin.GET("/tools", s.handleAgentTools)
	admin.GET("/discover", s.handleAgentDiscover)
	admin.POST("/test", s.handleAgentTest)
	admin.GET("/settings", s.handleAgentSettings)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Flows   int    `json:"flows"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.config.Version,
		Flows:   s.svc.Sessions.Len(),
	})
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
