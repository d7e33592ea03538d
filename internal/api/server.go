package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexconsult/avaluo-api/internal/api/handlers"
	"github.com/nexconsult/avaluo-api/internal/api/middleware"
	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/nexconsult/avaluo-api/internal/services"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Server represents the HTTP server
type Server struct {
	Router   *gin.Engine
	config   *config.Config
	logger   *logrus.Logger
	services *services.Container
	cancel   context.CancelFunc
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, logger *logrus.Logger, services *services.Container) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		config:   cfg,
		logger:   logger,
		services: services,
		cancel:   cancel,
	}

	server.setupRouter(ctx)
	return server
}

// Close stops the background work of the middleware
func (s *Server) Close() {
	s.cancel()
}

// setupRouter configures the router with all routes and middleware
func (s *Server) setupRouter(ctx context.Context) {
	s.Router = gin.New()

	s.Router.Use(middleware.Logger(s.logger))
	s.Router.Use(middleware.Recovery(s.logger))
	s.Router.Use(middleware.CORS(s.config.Security.CORS))
	s.Router.Use(middleware.Security())
	s.Router.Use(middleware.RequestID())

	healthHandler := handlers.NewHealthHandler(s.services, s.logger)
	s.Router.GET("/health", healthHandler.GetHealth)
	s.Router.GET("/health/ready", healthHandler.GetReadiness)
	s.Router.GET("/health/live", healthHandler.GetLiveness)

	s.Router.GET("/metrics", handlers.NewMetricsHandler(s.services.GetRegistry()))

	if s.config.Server.Environment != "production" {
		s.Router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
		s.Router.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
		})
	}

	rateLimiter := middleware.NewRateLimiter(ctx, s.config.Security.RateLimit)

	v1 := s.Router.Group("/api/v1")
	{
		captchaHandler := handlers.NewCaptchaHandler(s.services.AvaluoService, s.logger)
		captcha := v1.Group("/captcha")
		captcha.Use(rateLimiter.Middleware())
		{
			captcha.POST("/submit", captchaHandler.Submit)
			captcha.GET("/session/:sessionId", captchaHandler.GetSession)
			captcha.POST("/resolve", captchaHandler.Resolve)
			captcha.POST("/auto", captchaHandler.Auto)
		}

		var browsers handlers.StatsProvider
		if s.services.Launcher != nil {
			browsers = s.services.Launcher
		}
		sessionsHandler := handlers.NewSessionsHandler(s.services.SessionStore, browsers, s.logger)
		v1.GET("/sessions/stats", sessionsHandler.GetStats)

		if s.services.CacheService != nil {
			cacheHandler := handlers.NewCacheHandler(s.services.CacheService, s.logger)
			cache := v1.Group("/cache")
			{
				cache.GET("/stats", cacheHandler.GetStats)
				cache.DELETE("/clear", cacheHandler.Clear)
				cache.DELETE("/:region/:comuna/:manzana/:predio", cacheHandler.Delete)
			}
		}
	}

	s.Router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     "Not Found",
			"message":   "The requested resource was not found",
			"timestamp": time.Now(),
			"path":      c.Request.URL.Path,
		})
	})

	s.Router.HandleMethodNotAllowed = true
	s.Router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error":     "Method Not Allowed",
			"message":   "The requested method is not allowed for this resource",
			"timestamp": time.Now(),
			"path":      c.Request.URL.Path,
			"method":    c.Request.Method,
		})
	})
}
