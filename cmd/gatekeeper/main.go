package main

import (
	"context"
	"time"

	"coursehall/api_video/internal/antipiracy"
	"coursehall/api_video/internal/audit"
	"coursehall/api_video/internal/enrollment"
	"coursehall/api_video/internal/handlers"
	"coursehall/api_video/internal/lifecycle"
	"coursehall/api_video/internal/models"
	"coursehall/api_video/internal/ratelimit"
	"coursehall/api_video/internal/store"
	"coursehall/api_video/pkg/auth"
	"coursehall/api_video/pkg/cache"
	"coursehall/api_video/pkg/config"
	"coursehall/api_video/pkg/database"
	"coursehall/api_video/pkg/logging"
	"coursehall/api_video/pkg/monitoring"
	"coursehall/api_video/pkg/redis"
	"coursehall/api_video/pkg/server"
	"coursehall/api_video/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("gatekeeper")

	// Load environment variables
	config.LoadEnv(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("Starting Gatekeeper (Video Access Control API)")

	// Access-control configuration is validated eagerly so a missing token
	// secret fails here, not on the first issuance request.
	accessConfig, err := models.LoadAccessConfig()
	if err != nil {
		logger.WithError(err).Fatal("Invalid video access configuration")
	}

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.GetEnv("DATABASE_URL", "")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.ApplySchema(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("gatekeeper", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("gatekeeper", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":       config.GetEnv("DATABASE_URL", ""),
		"VIDEO_TOKEN_SECRET": config.GetEnv("VIDEO_TOKEN_SECRET", ""),
		"SERVICE_TOKEN":      config.GetEnv("SERVICE_TOKEN", ""),
	}))

	tokensIssued, accessDenied, securityEvents, sessionsSwept := metricsCollector.CreateVideoAccessMetrics()

	// Shared rate-limit counters live in Redis so anti-piracy windows hold
	// across instances. Without Redis a process-local counter is used.
	var counter ratelimit.Counter
	if addr := config.GetEnv("REDIS_ADDR", ""); addr != "" {
		redisClient, err := redis.NewUniversalClient(context.Background(), redis.Config{
			Mode:     redis.ModeSingle,
			Addrs:    []string{addr},
			Password: config.GetEnv("REDIS_PASSWORD", ""),
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisClient.Close()
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
		counter = ratelimit.NewRedisCounter(redisClient, "gatekeeper")
	} else {
		logger.Warn("REDIS_ADDR not set, rate-limit counters are process-local")
		counter = ratelimit.NewMemoryCounter()
	}

	sessions := store.NewPostgresStore(db)
	auditLog := audit.NewDBRecorder(db, logger)

	enrollmentClient := enrollment.NewClient(enrollment.Config{
		BaseURL:      config.GetEnv("ENROLLMENT_SERVICE_URL", "http://localhost:18001"),
		ServiceToken: auth.GetServiceToken(),
		Logger:       logger,
		Cache: cache.New(cache.Options{
			TTL:                  time.Minute,
			StaleWhileRevalidate: 30 * time.Second,
			NegativeTTL:          15 * time.Second,
			MaxEntries:           4096,
		}, cache.MetricsHooks{}),
	})

	h := handlers.NewHandlers(accessConfig, sessions, enrollmentClient, auditLog, logger, tokensIssued, accessDenied)

	patterns := antipiracy.NewEngine([]antipiracy.Rule{
		antipiracy.NewRapidRequestRule(counter, accessConfig.RapidRequestLimit, accessConfig.RapidRequestWindow),
		antipiracy.NewSuspiciousClientRule(nil),
		antipiracy.NewMultiSessionRule(sessions, accessConfig.MaxSessionsPerIP),
	}, auditLog, logger, securityEvents)

	sweeper := lifecycle.NewSweeper(sessions, accessConfig.SweepInterval, logger, sessionsSwept)
	sweeper.Start(context.Background())

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "gatekeeper", healthChecker, metricsCollector)

	jwtSecret := []byte(config.GetEnv("JWT_SECRET", ""))

	// Authenticated platform routes (browser session)
	authed := router.Group("/api")
	authed.Use(auth.JWTAuthMiddleware(jwtSecret))
	{
		authed.POST("/videos/:id/token", h.IssueToken)
		authed.DELETE("/video-sessions/:id", h.TerminateSession)
	}

	// Content routes gated by the video token itself
	content := router.Group("/api")
	content.Use(patterns.Middleware(), h.VerifyToken())
	{
		content.GET("/videos/:id/stream", h.Playback)
	}

	// Service-to-service admin routes
	admin := router.Group("/api")
	admin.Use(auth.ServiceAuthMiddleware(auth.GetServiceToken()))
	{
		admin.GET("/users/:id/video-sessions", h.ListUserSessions)
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("gatekeeper", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}

	sweeper.Stop()
}
