// Package main is the entry point for the SCIM provisioning service.
// It exposes a SCIM 2.0 API that identity providers push user and group
// lifecycle changes to.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/scimgate/scimgate/internal/common/config"
	"github.com/scimgate/scimgate/internal/common/database"
	"github.com/scimgate/scimgate/internal/common/logger"
	"github.com/scimgate/scimgate/internal/common/middleware"
	"github.com/scimgate/scimgate/internal/common/tracing"
	"github.com/scimgate/scimgate/internal/identity"
	"github.com/scimgate/scimgate/internal/scim"
	"github.com/scimgate/scimgate/pkg/journal"
)

var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "unknown"
)

func main() {
	log := logger.New()
	defer log.Sync()

	log.Info("Starting provisioning service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("commit", CommitHash),
	)

	cfg, err := config.Load("provisioning-service")
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	cfg.LogSecurityWarnings(log)

	// Initialize tracing
	tracingCfg := tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		SampleRate:  cfg.TraceSampling,
	}
	shutdownTracer, err := tracing.Init(context.Background(), tracingCfg, log)
	if err != nil {
		log.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// Identity stores: Postgres when configured, in-memory for development
	var (
		users  identity.UserStore
		groups identity.GroupStore
		db     *database.PostgresDB
	)
	if cfg.DatabaseURL != "" {
		db, err = database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		store := identity.NewPostgresStore(db.Pool)
		if err := store.EnsureSchema(context.Background()); err != nil {
			log.Fatal("Failed to ensure database schema", zap.Error(err))
		}
		users = store.Users()
		groups = store.Groups()
	} else {
		log.Warn("No database_url configured, using in-memory store")
		store := identity.NewMemoryStore()
		users = store.Users()
		groups = store.Groups()
	}

	// Redis backs the distributed rate limiter; optional
	var redisClient *database.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	router.Use(middleware.CORS(cfg.GetCORSOrigins()...))
	router.Use(logger.GinMiddleware(log))
	router.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	// The rate limiter mounts inside the SCIM group, behind bearer auth,
	// so limits apply per authenticated client rather than per IP.
	var scimMiddleware []gin.HandlerFunc
	if cfg.EnableRateLimit {
		var raw *redis.Client
		if redisClient != nil {
			raw = redisClient.Client
		}
		scimMiddleware = append(scimMiddleware, middleware.DistributedRateLimit(raw, middleware.RateLimitConfig{
			Requests:      cfg.RateLimitRequests,
			Window:        time.Duration(cfg.RateLimitWindow) * time.Second,
			WriteRequests: cfg.RateLimitWriteRequests,
			WriteWindow:   time.Duration(cfg.RateLimitWriteWindow) * time.Second,
			PerClient:     true,
		}, log))
	}

	// Metrics endpoint
	router.GET("/metrics", middleware.MetricsHandler())

	// SCIM API
	handlers := scim.NewHandlers(users, groups, cfg.ParseSCIMTokens(), log)
	if cfg.AuditJournalPath != "" {
		j, err := journal.NewFileJournal(cfg.AuditJournalPath)
		if err != nil {
			log.Fatal("Failed to open audit journal", zap.Error(err))
		}
		handlers.WithAuditJournal(j)
	}
	handlers.RegisterRoutes(router, scimMiddleware...)

	// Health endpoints
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
	})
	router.GET("/ready", func(c *gin.Context) {
		if db != nil {
			if err := db.Ping(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server listening", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if db != nil {
		db.Close()
	}
	if shutdownTracer != nil {
		if err := shutdownTracer(ctx); err != nil {
			log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}

	log.Info("Server exited")
}
