package services

import (
	"context"
	"fmt"
	"time"

	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Container holds all service dependencies
type Container struct {
	config      *config.Config
	logger      *logrus.Logger
	redisClient *redis.Client
	registry    *prometheus.Registry
	cancel      context.CancelFunc

	AvaluoService AvaluoServiceInterface
	CacheService  *CacheService
	SessionStore  *SessionStore
	Launcher      *ChromeLauncher
	Metrics       *Metrics
}

// NewContainer creates a new service container
func NewContainer(cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	return NewContainerWithLauncher(cfg, nil, logger)
}

// NewContainerWithLauncher wires the services around launcher. A nil
// launcher starts local Chrome processes through chromedp.
func NewContainerWithLauncher(cfg *config.Config, launcher BrowserLauncher, logger *logrus.Logger) (*Container, error) {
	ctx, cancel := context.WithCancel(context.Background())
	container := &Container{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		cancel:   cancel,
	}

	container.initRedis()

	if err := container.initServices(ctx, launcher); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return container, nil
}

// initRedis connects to Redis when enabled. Failure leaves the memory cache in charge.
func (c *Container) initRedis() {
	if !c.config.Redis.Enabled {
		c.logger.Info("Redis disabled, using memory cache")
		return
	}

	c.redisClient = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", c.config.Redis.Host, c.config.Redis.Port),
		Password:     c.config.Redis.Password,
		DB:           c.config.Redis.DB,
		PoolSize:     c.config.Redis.PoolSize,
		DialTimeout:  c.config.Redis.DialTimeout,
		ReadTimeout:  c.config.Redis.ReadTimeout,
		WriteTimeout: c.config.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Redis.DialTimeout)
	defer cancel()
	if err := c.redisClient.Ping(ctx).Err(); err != nil {
		c.logger.WithError(err).Warn("Redis connection failed, running with memory cache")
		_ = c.redisClient.Close()
		c.redisClient = nil
	} else {
		c.logger.Info("Redis connection established")
	}
}

// initServices initializes all services
func (c *Container) initServices(ctx context.Context, launcher BrowserLauncher) error {
	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = NewMetrics(c.registry)

	c.SessionStore = NewSessionStore(c.config.Session.TTL, c.Metrics, c.logger)
	c.SessionStore.StartSweeper(ctx, c.config.Session.SweepInterval)

	if launcher == nil {
		c.Launcher = NewChromeLauncher(c.config.Browser, c.logger)
		launcher = c.Launcher
	}

	form, err := NewFormStage(c.config.Site, c.config.Browser, launcher, c.SessionStore, c.logger)
	if err != nil {
		return err
	}
	extractor, err := NewExtractorService(c.config.Site, c.config.Browser, c.Metrics, c.logger)
	if err != nil {
		return err
	}
	stages := Stages{
		Form:      form,
		Submit:    NewSubmitStage(c.config.Site, c.config.Browser, c.logger),
		Extractor: extractor,
	}

	var oracle CaptchaOracle
	if c.config.Oracle.APIKey != "" {
		oracle = NewOpenAIOracle(c.config.Oracle, c.logger)
	} else {
		c.logger.Warn("OPENAI_API_KEY not set, automatic CAPTCHA resolution disabled")
	}

	documents := NewDocumentStore(c.config.Storage.OutputDir, c.config.Storage.DiagnosticsDir, c.logger)
	orchestrator := NewOrchestrator(stages, oracle, c.SessionStore, documents, c.config, c.Metrics, c.logger)

	var cache CacheServiceInterface
	if c.config.Storage.CacheTTL > 0 {
		c.CacheService = NewCacheService(c.redisClient, c.config.Storage.CacheTTL, c.logger)
		c.CacheService.StartEvictionRoutine(ctx, 5*time.Minute)
		cache = c.CacheService
	}

	c.AvaluoService = NewAvaluoService(orchestrator, c.SessionStore, cache, documents, c.logger)
	return nil
}

// Close closes all service connections
func (c *Container) Close() error {
	var errors []error

	c.cancel()

	if c.SessionStore != nil {
		c.SessionStore.Close()
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errors)
	}

	return nil
}

// Health checks the health of all services
func (c *Container) Health() map[string]interface{} {
	health := make(map[string]interface{})

	if c.CacheService != nil {
		health["cache"] = c.CacheService.Health()
	} else {
		health["cache"] = map[string]interface{}{
			"status": "disabled",
		}
	}

	if c.Launcher != nil {
		health["browser"] = map[string]interface{}{
			"status": "healthy",
			"stats":  c.Launcher.GetStats(),
		}
	}

	if c.AvaluoService != nil {
		health["avaluo"] = c.AvaluoService.Health()
	}

	return health
}

// GetRegistry returns the prometheus registry of the services
func (c *Container) GetRegistry() *prometheus.Registry {
	return c.registry
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logrus.Logger {
	return c.logger
}
