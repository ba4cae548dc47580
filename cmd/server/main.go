package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"llmrelay/internal/config"
	"llmrelay/internal/handlers"
	"llmrelay/internal/health"
	"llmrelay/internal/jobs"
	"llmrelay/internal/logging"
	"llmrelay/internal/middleware"
	"llmrelay/internal/models"
	"llmrelay/internal/preflight"
	"llmrelay/internal/providers"
	"llmrelay/internal/services"
)

func main() {
	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting LLM relay...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Environment: %s, Backends: %d)",
		cfg.Port, cfg.Environment, len(cfg.Providers))
	if len(cfg.Providers) == 0 {
		log.Println("⚠️  No backends enabled; every chat request will fail with a configuration error")
	}

	limiter := services.NewRateLimiter(models.RateLimit{})
	metrics := services.NewMetrics(prometheus.DefaultRegisterer, func() float64 {
		return float64(limiter.TotalInFlight())
	})

	// Provider clients
	registry := providers.NewRegistry(nil, providers.WithParseErrorObserver(metrics.RecordParseError))
	healthService := health.NewService(10 * time.Second)

	for _, pc := range cfg.Providers {
		client, err := registry.GetOrCreate(pc.Name, pc)
		if err != nil {
			log.Fatalf("❌ Failed to initialize %s: %v", pc.Name, err)
		}
		healthService.Register(client)
		limiter.Register(pc.Name, pc.RateLimit)
	}

	// Request tracker
	var redisService *services.RedisService
	var store services.DedupStore
	switch cfg.TrackerStore {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisService, err = services.NewRedisService(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatalf("❌ Failed to connect to Redis for the request tracker: %v", err)
		}
		store = services.NewRedisDedupStore(redisService, cfg.TrackerTTL)
	default:
		store = services.NewMemoryDedupStore(cfg.TrackerCapacity, cfg.TrackerTTL)
	}
	tracker := services.NewRequestTracker(store)

	// Run preflight checks; this also takes the first health probe of every backend
	results := preflight.NewChecker(cfg.Providers, healthService, redisService).RunAll()
	if preflight.HasFailures(results) {
		log.Println("❌ Pre-flight checks failed. Please fix the issues above before starting the server.")
		os.Exit(1)
	}
	log.Println("✅ All pre-flight checks passed")

	log.Printf("🗂️  [TRACKER] Using %s store (capacity %d, ttl %v)", tracker.StoreName(), cfg.TrackerCapacity, cfg.TrackerTTL)

	relayOpts := []services.RelayOption{services.WithMetrics(metrics)}
	if cfg.RelayAcquireWait > 0 {
		relayOpts = append(relayOpts, services.WithAcquireWait(cfg.RelayAcquireWait))
		log.Printf("⏳ [RATE-LIMIT] Requests at capacity wait up to %v for a slot", cfg.RelayAcquireWait)
	}
	relay := services.NewStreamRelay(registry, limiter, tracker, relayOpts...)

	// Background jobs
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := jobScheduler.Register("provider-health", jobs.NewProviderHealthChecker(healthService, cfg.HealthProbeInterval)); err != nil {
		log.Fatalf("❌ %v", err)
	}
	if err := jobScheduler.Register("tracker-cleanup", jobs.NewTrackerCleanupJob(tracker, cfg.TrackerCleanupInterval)); err != nil {
		log.Fatalf("❌ %v", err)
	}
	jobScheduler.Start()

	// Providers file hot reload
	watchCtx, stopWatching := context.WithCancel(context.Background())
	if cfg.ProvidersFile != "" {
		go func() {
			err := config.WatchProvidersFile(watchCtx, cfg.ProvidersFile, func(file *models.ProvidersFile) {
				for name, limits := range config.RateLimitsFromFile(file) {
					if _, err := registry.Get(name); err == nil {
						limiter.Register(name, limits)
					}
				}
				log.Println("ℹ️  [PROVIDERS] Rate limits updated; other provider settings take effect after a restart")
			})
			if err != nil {
				log.Printf("⚠️  Failed to watch %s: %v", cfg.ProvidersFile, err)
			}
		}()
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "LLM Relay",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // long generations from local models
		IdleTimeout:  2 * time.Minute,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prom := fiberprometheus.New("llmrelay")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept",
		AllowCredentials: cfg.AllowedOrigins != "*",
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	rateLimitConfig := middleware.LoadRateLimitConfig(cfg.GlobalAPIRateLimit, !cfg.IsProduction())
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Stream=%d/min",
		rateLimitConfig.GlobalAPIMax, rateLimitConfig.StreamMax)
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))
	streamLimiter := middleware.StreamRateLimiter(rateLimitConfig)

	// Routes
	healthHandler := handlers.NewHealthHandler(healthService, limiter, redisService)
	providerHandler := handlers.NewProviderHandler(registry, limiter)
	chatHandler := handlers.NewChatHandler(relay)

	app.Get("/health", healthHandler.Handle)

	api := app.Group("/api")
	api.Get("/providers", providerHandler.List)
	api.Post("/chat", streamLimiter, chatHandler.Chat)
	api.Get("/chat/stream", streamLimiter, chatHandler.Stream)
	api.Get("/chat/multi", streamLimiter, chatHandler.Multi)

	log.Printf("💬 Chat endpoint: http://localhost:%s/api/chat", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		stopWatching()
		jobScheduler.Stop()

		// Shutdown Fiber; open streams are cut and their sessions release on write failure
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}

		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️ Error closing Redis: %v", err)
			}
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
