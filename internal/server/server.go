package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/finlens-poc/server/internal/analysis/model"
	"github.com/finlens-poc/server/internal/analysis/session"
	errx "github.com/finlens-poc/server/internal/core/error"
	logx "github.com/finlens-poc/server/pkg/logger"
)

const (
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// localOrigins are always allowed so browser clients work in development
// regardless of whether they use localhost or 127.0.0.1.
var localOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:8000",
	"http://127.0.0.1:8000",
}

// Server is the thin HTTP layer in front of the session manager: routing,
// CORS, admin-token verification, and NDJSON response streaming. All domain
// behavior lives behind the manager.
type Server struct {
	cfg     model.ServerConfig
	manager *session.Manager
	app     *echo.Echo
	address string
}

// New constructs the HTTP server wired with routing and middleware.
func New(cfg model.ServerConfig, manager *session.Manager) (*Server, error) {
	if manager == nil {
		return nil, errors.New("session manager must not be nil")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     allowedOrigins(cfg.AllowedOrigins),
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, adminTokenHeader},
		AllowCredentials: true,
	}))

	srv := &Server{
		cfg:     cfg,
		manager: manager,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	logx.Info().Str("addr", s.address).Msg("starting server")

	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		logx.Info().Msg("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/", s.handleHealth)

	authed := s.app.Group("", s.verifyToken)
	authed.POST("/verify-auth", s.handleVerifyAuth)
	authed.POST("/analyze", s.handleAnalyze)
	authed.POST("/chat/create", s.handleCreateChat)
	authed.POST("/chat/:chat_id/message", s.handleSendMessage)
	authed.DELETE("/chat/:chat_id", s.handleDeleteChat)
}

func allowedOrigins(configured string) []string {
	var origins []string
	for _, o := range strings.Split(configured, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 || strings.Contains(configured, "localhost") {
		origins = append(origins, localOrigins...)
	}
	return origins
}

// errorHandler maps the errx taxonomy onto HTTP statuses: validation 400,
// unknown session 404, upstream failures 502, everything else 500.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		// Streaming already started; the truncated body is the signal.
		logx.Error().Err(err).Str("path", c.Path()).Msg("error after response committed")
		return
	}

	status := errx.StatusOf(err)
	message := err.Error()

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		message = fmt.Sprintf("%v", httpErr.Message)
	}

	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}

	if err := c.JSON(status, map[string]string{"detail": message}); err != nil {
		logx.Error().Err(err).Msg("failed to write error response")
	}
}
