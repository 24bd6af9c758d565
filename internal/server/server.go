package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"beacon-chat/config"
	"beacon-chat/internal/handler"
	"beacon-chat/internal/middleware"
	"beacon-chat/internal/transport/httpdto"
	"beacon-chat/internal/websocket"
	"beacon-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
	hub        *websocket.Hub
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Conversation *handler.ConversationHandler
	Call         *handler.CallHandler
	Presence     *handler.PresenceHandler
	WebSocket    *websocket.Handler
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Dependencies are the cross-cutting pieces the router needs besides handlers.
type Dependencies struct {
	Auth         middleware.TokenVerifier
	MessageLimit middleware.RateCheck
	Health       map[string]HealthCheck
}

func New(cfg *config.Config, l *logger.Logger, hub *websocket.Hub) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if l == nil {
		l = logger.GetGlobalLogger()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
		hub:    hub,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) SetupRoutes(handlers *Handlers, deps Dependencies) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.CORSAllowedOrigins))
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		status := gin.H{}
		healthy := true
		for name, check := range deps.Health {
			if err := check(c.Request.Context()); err != nil {
				status[name] = err.Error()
				healthy = false
				continue
			}
			status[name] = "ok"
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, httpdto.Response[gin.H]{Data: status, Error: "unhealthy", Code: "UNHEALTHY"})
			return
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(status))
	})

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if handlers.WebSocket != nil {
		s.engine.GET("/ws", handlers.WebSocket.Connect)
	}

	v1 := s.engine.Group("/v1", middleware.AuthMiddleware(deps.Auth))

	conversations := v1.Group("/conversations")
	{
		conversations.GET("", handlers.Conversation.List)
		if deps.MessageLimit != nil {
			limited := conversations.Group("", middleware.RateLimitMiddleware(deps.MessageLimit, s.logger))
			limited.POST("/direct", handlers.Conversation.OpenDirect)
			limited.POST("/group", handlers.Conversation.CreateGroup)
		} else {
			conversations.POST("/direct", handlers.Conversation.OpenDirect)
			conversations.POST("/group", handlers.Conversation.CreateGroup)
		}
		conversations.GET("/:id/messages", handlers.Conversation.Messages)
		conversations.DELETE("/:id", handlers.Conversation.Delete)
		conversations.POST("/:id/clear", handlers.Conversation.Clear)
		conversations.POST("/:id/pin", handlers.Conversation.Pin)
		conversations.DELETE("/:id/pin", handlers.Conversation.Unpin)
		conversations.POST("/:id/archive", handlers.Conversation.Archive)
		conversations.DELETE("/:id/archive", handlers.Conversation.Unarchive)
	}

	v1.GET("/messages/:id/edits", handlers.Conversation.MessageEdits)
	v1.GET("/calls", handlers.Call.History)
	v1.GET("/presence/online", handlers.Presence.Online)
}

// Start serves until ctx is cancelled, then drains HTTP and closes every
// websocket so their disconnect cleanup runs.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.logger.Logger.Error("server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Infof("Quitting signal received.. Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.hub != nil {
		s.hub.CloseAll()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Logger.Warn("graceful shutdown failed", zap.Error(err))
		return err
	}

	s.logger.Infof("Server stopped gracefully")
	return nil
}
