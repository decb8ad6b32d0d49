package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chatdesk/admin"
	"chatdesk/auth"
	"chatdesk/chat"
	"chatdesk/config"
	"chatdesk/metrics"
	"chatdesk/web/handlers"
	"chatdesk/web/middleware"
	"chatdesk/web/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Dependencies are the application services the HTTP layer exposes.
type Dependencies struct {
	Manager  *chat.Manager
	Auth     *auth.Service
	Admin    *admin.Service
	Settings handlers.SettingsReader
	Metrics  *metrics.Recorder
}

type Server struct {
	router  *gin.Engine
	deps    Dependencies
	limiter *middleware.UserRateLimiter
	logger  *zap.Logger
	config  *config.Config
}

func NewServer(deps Dependencies, logger *zap.Logger, cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics(deps.Metrics))

	server := &Server{
		router: router,
		deps:   deps,
		limiter: middleware.NewUserRateLimiter(middleware.RateLimiterConfig{
			MessagesPerMinute: cfg.RateLimitMessagesPerMin,
			BurstSize:         cfg.RateLimitBurstSize,
		}, logger),
		logger: logger,
		config: cfg,
	}

	server.setupRoutes()
	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	if s.config.StaticDir != "" {
		s.router.Static("/static", s.config.StaticDir)
	}

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	streamService := services.NewStreamService(s.logger)
	sessionService := services.NewSessionService(s.deps.Manager, s.logger)
	chatService := services.NewChatService(s.deps.Manager, streamService, s.logger)

	chatHandler := handlers.NewChatHandler(chatService, sessionService, s.logger)
	sessionHandler := handlers.NewSessionHandler(sessionService, s.logger)
	accountHandler := handlers.NewAccountHandler(s.deps.Auth, s.deps.Settings, s.logger)
	adminHandler := handlers.NewAdminHandler(s.deps.Admin, s.logger)

	api := s.router.Group("/api")
	api.GET("/settings", accountHandler.Settings)

	user := api.Group("", middleware.PrincipalMiddleware(s.deps.Auth))
	user.GET("/me", accountHandler.Me)
	user.POST("/auth/login", accountHandler.Login)
	user.POST("/auth/register", accountHandler.Register)
	user.POST("/auth/logout", accountHandler.Logout)

	active := user.Group("", middleware.RequireActive())
	active.POST("/subscribe", accountHandler.Subscribe)
	active.GET("/sessions", sessionHandler.List)
	active.POST("/sessions", sessionHandler.Create)
	active.POST("/sessions/:id/select", sessionHandler.Select)
	active.DELETE("/sessions/:id", sessionHandler.Delete)
	active.POST("/sessions/:id/branch", sessionHandler.Branch)
	active.PUT("/mode", sessionHandler.SetMode)

	limited := active.Group("", middleware.RateLimitMiddleware(s.limiter))
	limited.POST("/chat", chatHandler.SendMessage)
	limited.POST("/chat/regenerate", chatHandler.Regenerate)

	adminGroup := user.Group("/admin", middleware.RequireAdmin())
	adminGroup.GET("/users", adminHandler.Users)
	adminGroup.POST("/users/:id/ban", adminHandler.ToggleBan)
	adminGroup.GET("/settings", adminHandler.Settings)
	adminGroup.PATCH("/settings", adminHandler.UpdateSettings)
	adminGroup.GET("/logs", adminHandler.Logs)
	adminGroup.GET("/payments", adminHandler.Payments)
	adminGroup.GET("/stats", adminHandler.Stats)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting web server", zap.String("address", addr))
	defer s.limiter.Stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error("Web server failed to start", zap.Error(err))
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}
