package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/statisfy-us/prismiq-sub001/internal/api/handlers"
	"github.com/statisfy-us/prismiq-sub001/internal/api/middleware"
	"github.com/statisfy-us/prismiq-sub001/internal/api/routes"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/dashboard"
	"github.com/statisfy-us/prismiq-sub001/internal/domain/orchestrator"
	"github.com/statisfy-us/prismiq-sub001/internal/infrastructure/cache"
	"github.com/statisfy-us/prismiq-sub001/internal/infrastructure/persistence/postgres/connection"
	"github.com/statisfy-us/prismiq-sub001/internal/infrastructure/persistence/postgres/migrations"
	"github.com/statisfy-us/prismiq-sub001/internal/infrastructure/queryengine"
	"github.com/statisfy-us/prismiq-sub001/internal/infrastructure/scheduler"
	"github.com/statisfy-us/prismiq-sub001/pkg/config"
	"github.com/statisfy-us/prismiq-sub001/pkg/logger"
)

// RequestLoggerMiddleware logs all incoming HTTP requests
func RequestLoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Info("Request completed",
			zap.String("path", path),
			zap.String("method", method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("") // Empty string will make it search in default locations
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Configuration loaded successfully")
	log.Info("Server mode: " + cfg.Server.Mode)

	// The orchestration layer logs through logrus.
	orchLogger := logrus.New()
	orchLogger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Server.Mode == "production" {
		orchLogger.SetLevel(logrus.InfoLevel)
	} else {
		orchLogger.SetLevel(logrus.DebugLevel)
	}

	// Set up Gin
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	gin.DefaultWriter = os.Stdout

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLoggerMiddleware(log))
	router.Use(middleware.NewMetricsMiddleware().CollectMetrics())
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: len(cfg.CORS.AllowedOrigins) == 0,
		AllowOrigins:    cfg.CORS.AllowedOrigins,
		AllowMethods:    cfg.CORS.AllowedMethods,
		AllowHeaders: append(cfg.CORS.AllowedHeaders,
			"Accept-Encoding",
			"Content-Type",
			"Authorization",
		),
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Encoding",
			"Content-Type",
		},
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}))

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Connect to database
	db, err := connection.NewDatabase(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if err := migrations.AutoMigrate(db, log.Logger); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Initialize Redis
	redisConfig := cache.NewConfigFromEnv(cfg)
	redisClient, err := cache.NewRedisClient(redisConfig)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Query engine client serves both widget execution and dynamic filter
	// option sampling.
	engineClient := queryengine.NewClient(cfg.QueryEngine, log.Logger)

	// Dashboard persistence and service
	dashboardRepo := dashboard.NewRepository(db)
	dashboardService := dashboard.NewService(dashboardRepo, engineClient, cfg.Orchestrator.SampleLimit, log.Logger)

	// Orchestration manager: one store per open dashboard, metadata behind
	// a TTL cache.
	metaCache := cache.NewTTLCache(cfg.Orchestrator.DashboardTTL, time.Now)

	// Periodic purge of expired metadata entries.
	cacheScheduler := scheduler.NewScheduler(metaCache, 2*cfg.Orchestrator.DashboardTTL, log)
	cacheScheduler.Start()
	defer cacheScheduler.Stop()
	manager := orchestrator.NewManager(dashboardService, engineClient, metaCache, orchestrator.StoreConfig{
		BatchSize:         cfg.Orchestrator.BatchSize,
		LazyLoad:          cfg.Orchestrator.LazyLoad,
		ObserverAvailable: true,
		Debounce:          cfg.Orchestrator.Debounce,
		SavedDuration:     cfg.Orchestrator.SavedDuration,
		StreamBacklog:     cfg.Orchestrator.StreamBacklog,
	}, orchLogger)

	// Handlers and routes
	dashboardHandler := handlers.NewDashboardHandler(dashboardService, manager, redisClient, log.Logger)
	streamHandler := handlers.NewStreamHandler(manager, log.Logger)
	cacheMiddleware := middleware.NewCacheMiddleware(redisClient, "responses", cfg.Orchestrator.ResponseTTL, log.Logger)

	dashboardRoutes := routes.NewDashboardRoutes(dashboardHandler, streamHandler, cacheMiddleware, log.Logger)
	dashboardRoutes.Register(router.Group("/api"))
	log.Info("Registered dashboard routes at /api/dashboards")

	// Health check routes (no /api prefix as these are system endpoints)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
		})
	})
	router.GET("/health/ready", func(c *gin.Context) {
		status := http.StatusOK
		components := gin.H{"database": "healthy", "cache": "healthy"}

		if sqlDB, err := db.DB.DB(); err != nil || sqlDB.Ping() != nil {
			components["database"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
		if !redisClient.IsHealthy() {
			components["cache"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"status":     http.StatusText(status),
			"components": components,
			"timestamp":  time.Now().UTC(),
		})
	})
	log.Info("Registered health check routes at /health and /health/ready")

	// Start server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Info(fmt.Sprintf("Server starting on port %d", cfg.Server.Port))
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Info("Shutting down server...")
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited properly")
}
