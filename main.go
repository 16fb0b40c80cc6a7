package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"cpls_refresh/config"
	"cpls_refresh/errors"
	"cpls_refresh/logger"
	"cpls_refresh/middleware"
	"cpls_refresh/models"
	"cpls_refresh/routes"
	"cpls_refresh/scheduler"
	"cpls_refresh/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// app holds what gracefulShutdown must release
type app struct {
	server      *http.Server
	scheduler   *scheduler.Scheduler
	trigger     *scheduler.GocronTrigger
	mongo       *services.MongoDBClient
	db          *gorm.DB
	stopCleanup chan struct{}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// logger is not initialized yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogJSON); err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Named("main")

	if !cfg.DotEnvLoaded {
		log.Infow("No .env file found, using environment variables")
	}

	log.Infow("Market indicator refresh service starting",
		"environment", cfg.Environment,
		logger.FieldTimezone, cfg.SchedulerTimezone,
	)

	// Set Gin mode based on environment
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Database is optional: without it run history is not kept
	db, err := config.InitDB()
	if err != nil {
		log.Warnw("Database unavailable, run history disabled", logger.FieldError, err)
		db = nil
	} else if err := models.MigrateRefreshModels(db); err != nil {
		log.Errorw("Migration failed, run history disabled", logger.FieldError, err)
		db = nil
	}
	history := services.NewRefreshHistory(db)

	// Payload archive is optional too
	mongoClient := services.NewMongoDBClient(cfg.MongoURI, cfg.MongoDatabase)
	var archive services.SnapshotArchiver
	if cfg.MongoURI == "" {
		log.Infow("MONGODB_URI not set, payload archive disabled")
	} else if err := mongoClient.Connect(context.Background()); err != nil {
		log.Warnw("MongoDB unavailable, payload archive disabled", logger.FieldError, err)
	} else {
		archive = mongoClient
	}

	// Key-value store; invalidation answers 503 without it
	var store services.KeyStore
	if !cfg.CacheConfigured() {
		log.Warnw("Cache store not configured, invalidation disabled",
			"hint", "set UPSTASH_REDIS_REST_URL and UPSTASH_REDIS_REST_TOKEN",
		)
	} else if upstash, err := services.NewUpstashClient(cfg.CacheURL, cfg.CacheToken); err != nil {
		log.Warnw("Cache store rejected, invalidation disabled",
			logger.FieldError, err,
			"hint", errors.FlattenHints(err),
		)
	} else {
		store = upstash
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := upstash.Ping(pingCtx); err != nil {
			log.Warnw("Cache store unreachable at startup", logger.FieldError, err)
		}
		cancel()
	}
	invalidator := services.NewCacheInvalidator(store, cfg.CacheDeleteConcurrency)

	refreshClient, err := services.NewIndicatorRefreshClient(cfg.RefreshURL(), cfg.RefreshTimeout)
	if err != nil {
		log.Fatalw("Invalid refresh endpoint", logger.FieldError, err)
	}
	refresh := services.NewIndicatorRefresh(refreshClient, history, archive)

	trigger, err := scheduler.NewGocronTrigger(cfg.SchedulerTimezone, cfg.SchedulerSingleton)
	if err != nil {
		log.Fatalw("Failed to create trigger runner", logger.FieldError, err)
	}
	jobScheduler := scheduler.New(trigger, refresh.Run,
		scheduler.DefaultDefinitions(cfg.MorningSchedule, cfg.AfternoonSchedule))

	if cfg.SchedulerAutostart {
		if _, err := jobScheduler.Start(); err != nil {
			log.Errorw("Scheduler autostart failed", logger.FieldError, err)
		}
	}

	rateLimiter := middleware.NewRateLimiter(cfg.ControlRatePerMin, 30*time.Minute)
	stopCleanup := make(chan struct{})
	rateLimiter.StartCleanup(10*time.Minute, stopCleanup)

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.CORSAllowedOrigins))
	router.Use(requestLogger())

	setupHealthEndpoints(router, db, mongoClient)
	routes.SetupRoutes(router, routes.Dependencies{
		Scheduler:   jobScheduler,
		Invalidator: invalidator,
		History:     history,
		CachePrefix: cfg.CachePrefix,
		Snapshots:   mongoClient,
		JWTSecret:   cfg.ControlJWTSecret,
		RateLimiter: rateLimiter,
	})
	if cfg.ControlJWTSecret == "" {
		log.Warnw("CONTROL_JWT_SECRET not set, control routes are unauthenticated")
	}

	// WriteTimeout leaves room for a synchronous test refresh
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RefreshTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Infow("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("Server error", logger.FieldError, err)
		}
	}()

	gracefulShutdown(&app{
		server:      server,
		scheduler:   jobScheduler,
		trigger:     trigger,
		mongo:       mongoClient,
		db:          db,
		stopCleanup: stopCleanup,
	})
}

// setupHealthEndpoints sets up liveness and readiness probes. The archive
// status is informational; only the database gates readiness.
func setupHealthEndpoints(router *gin.Engine, db *gorm.DB, mongo *services.MongoDBClient) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Market indicator refresh service",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - pings the database when one is configured
	router.GET("/ready", func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ready",
				"history": false,
				"archive": mongo.GetConnectionStatus(),
			})
			return
		}

		sqlDB, err := db.DB()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database connection error",
			})
			return
		}

		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not_ready",
				"message": "Database ping failed",
				"archive": mongo.GetConnectionStatus(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "ready",
			"history": true,
			"archive": mongo.GetConnectionStatus(),
		})
	})
}

// corsMiddleware lets the listed browser origins call the control API with
// credentials. Other origins get no CORS headers and their preflights are
// refused; requests without an Origin pass through.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}

		c.Header("Vary", "Origin")
		if !origins[origin] {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger logs failed and slow requests
func requestLogger() gin.HandlerFunc {
	log := logger.Named("http")

	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" || path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Infow("Request",
				logger.FieldMethod, c.Request.Method,
				logger.FieldPath, path,
				logger.FieldStatus, c.Writer.Status(),
				logger.FieldDurationMS, duration.Milliseconds(),
			)
		}
	}
}

// gracefulShutdown waits for SIGINT/SIGTERM, then destroys the job set and
// releases the server, trigger runner and stores.
func gracefulShutdown(a *app) {
	log := logger.Named("main")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Infow("Shutting down gracefully", "signal", sig.String())

	// Stop scheduler first so nothing new fires
	destroyed := a.scheduler.Stop()
	log.Infow("Scheduler stopped", logger.FieldCount, destroyed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		log.Warnw("Server forced to shutdown", logger.FieldError, err)
	}

	a.trigger.Shutdown()
	close(a.stopCleanup)

	if err := a.mongo.Close(ctx); err != nil {
		log.Warnw("MongoDB close failed", logger.FieldError, err)
	}

	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
			log.Infow("Database connection closed")
		}
	}

	log.Infow("Server shutdown completed")
}
