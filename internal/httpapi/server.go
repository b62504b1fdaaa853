// Package httpapi exposes the service layer over HTTP. Handlers stay
// thin: bind, delegate, translate the error code. There is no
// authentication; callers identify themselves with the X-User-ID header.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/collection"
	"github.com/manavgup/rag-modulo-sub005/internal/config"
	"github.com/manavgup/rag-modulo-sub005/internal/conversation"
	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/ingestion"
	"github.com/manavgup/rag-modulo-sub005/internal/search"
	"github.com/manavgup/rag-modulo-sub005/internal/suggestion"
)

// userHeader identifies the requester on every API call.
const userHeader = "X-User-ID"

// Services bundles the service layer the server fronts.
type Services struct {
	Collections  *collection.Service
	Ingestion    *ingestion.Service
	Search       *search.Service
	Conversation *conversation.Service
	Suggestions  *suggestion.Service
}

// Server is the echo HTTP server.
type Server struct {
	echo   *echo.Echo
	svcs   Services
	logger *zap.Logger
	config config.ServerConfig
}

// NewServer wires routes and middleware.
func NewServer(svcs Services, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))

	s := &Server{echo: e, svcs: svcs, logger: logger, config: cfg}
	s.registerRoutes()
	return s
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("duration", v.Latency),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		},
	})
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.POST("/search", s.handleSearch)

	v1.POST("/collections", s.handleCreateCollection)
	v1.GET("/collections", s.handleListCollections)
	v1.GET("/collections/:id", s.handleGetCollection)
	v1.DELETE("/collections/:id", s.handleDeleteCollection)
	v1.POST("/collections/:id/documents", s.handleUploadDocument)

	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.DELETE("/sessions/:id", s.handleDeleteSession)
	v1.POST("/sessions/:id/archive", s.handleArchiveSession)
	v1.POST("/sessions/:id/turns", s.handleTurn)
	v1.GET("/sessions/:id/export", s.handleExportSession)

	v1.GET("/suggestions", s.handleSuggestions)
}

// requester extracts the caller identity. Every API route requires it.
func requester(c echo.Context) (string, error) {
	uid := c.Request().Header.Get(userHeader)
	if uid == "" {
		return "", core.NewError(core.CodeInvalidInput, userHeader+" header is required")
	}
	return uid, nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleSearch(c echo.Context) error {
	uid, err := requester(c)
	if err != nil {
		return writeError(c, err)
	}
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, core.NewError(core.CodeInvalidInput, "invalid request body"))
	}

	out, err := s.svcs.Search.Search(c.Request().Context(), search.Request{
		UserID:       uid,
		CollectionID: req.CollectionID,
		Question:     req.Question,
		TopK:         req.TopK,
		Pipeline: search.PipelineSpec{
			Preset:     req.Preset,
			Techniques: req.Techniques,
			CoTEnabled: req.CoTEnabled,
		},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
