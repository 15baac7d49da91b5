package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentry "github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/niaga-platform/service-merchant/internal/clients"
	"github.com/niaga-platform/service-merchant/internal/config"
	"github.com/niaga-platform/service-merchant/internal/domain/merchant"
	"github.com/niaga-platform/service-merchant/internal/events"
	"github.com/niaga-platform/service-merchant/internal/handlers"
	"github.com/niaga-platform/service-merchant/internal/middleware"
	"github.com/niaga-platform/service-merchant/internal/models"
	"github.com/niaga-platform/service-merchant/internal/monitoring"
	provider "github.com/niaga-platform/service-merchant/internal/providers/merchant"
	"github.com/niaga-platform/service-merchant/internal/repository"
	"github.com/niaga-platform/service-merchant/internal/routes"
	"github.com/niaga-platform/service-merchant/internal/scheduler"
	"github.com/niaga-platform/service-merchant/internal/services"
)

func main() {
	// Load .env file in development
	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := newLogger(cfg.App.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize Sentry for error tracking
	sentryEnabled := cfg.Sentry.DSN != ""
	if sentryEnabled {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			Release:          cfg.Sentry.Release,
			TracesSampleRate: 0.1,
		})
		if err != nil {
			logger.Warn("Failed to initialize Sentry", zap.Error(err))
			sentryEnabled = false
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Connect to database
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Database, cfg.Database.SSLMode,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	if err := db.AutoMigrate(
		&models.SyncQueueDocument{},
		&models.QuotaCounterRecord{},
		&models.DailyBucketRecord{},
		&models.WeeklyBucketRecord{},
		&models.ImportProgressRecord{},
		&models.MappingOverrideRecord{},
		&models.EngineStateRecord{},
	); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Connect to Redis for the compiled-analytics cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("Redis unavailable, compiled analytics cache disabled", zap.Error(err))
		redisClient = nil
	}

	// Metrics
	metrics := monitoring.NewMetrics()

	// Initialize repositories
	queueRepo := repository.NewQueueRepository(db)
	quotaRepo := repository.NewQuotaRepository(db)
	analyticsRepo := repository.NewAnalyticsRepository(db)
	importRepo := repository.NewImportRepository(db)
	stateRepo := repository.NewStateRepository(db)
	mappingRepo := repository.NewMappingRepository(db)

	// Initialize service clients
	catalogClient := clients.NewCatalogClient(cfg.Services.CatalogURL, logger)
	licenseClient := clients.NewLicenseClient(cfg.Services.LicenseURL, cfg.Security.LicenseKey, logger)
	notificationClient := clients.NewNotificationClient(cfg.Services.NotificationURL, logger)

	// Quota gate, restored from the last persisted counter
	quotaGate := merchant.NewQuotaGate(merchant.Tier(cfg.Merchant.Tier), quotaRepo, nil)
	if err := quotaGate.Restore(context.Background()); err != nil {
		logger.Warn("Failed to restore quota counter", zap.Error(err))
	}

	// Remote merchant client
	merchantClient, err := provider.NewClient(&provider.ClientConfig{
		Endpoint:    cfg.Merchant.Endpoint,
		AccountID:   cfg.Merchant.AccountID,
		Credentials: licenseClient,
		Quota:       quotaGate,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Failed to initialize merchant client", zap.Error(err))
	}

	// Connect to NATS (optional - only if configured)
	var natsConn *nats.Conn
	var eventPublisher *events.Publisher
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL)
		if err != nil {
			logger.Warn("Failed to connect to NATS, event integration disabled", zap.Error(err))
		} else {
			logger.Info("Connected to NATS", zap.String("url", cfg.NATS.URL))
			eventPublisher = events.NewPublisher(natsConn, logger)
			defer natsConn.Close()
		}
	}

	// Sync queue and reconciler
	syncQueue := services.NewSyncQueue(queueRepo, logger)
	defer syncQueue.Stop()

	var publisher services.SyncEventPublisher
	if eventPublisher != nil {
		publisher = eventPublisher
	}
	reconciler := services.NewBatchReconciler(
		syncQueue, catalogClient, merchantClient, stateRepo,
		publisher, metrics, nil, logger,
	)
	syncQueue.SetDrain(func() {
		if err := reconciler.Run(context.Background()); err != nil {
			logger.Error("queue drain failed", zap.Error(err))
		}
	})

	// Unmapped tracker
	unmappedTracker, err := services.NewUnmappedTracker(stateRepo, notificationClient, metrics, nil, logger)
	if err != nil {
		logger.Fatal("Failed to initialize unmapped tracker", zap.Error(err))
	}
	if err := unmappedTracker.Restore(context.Background()); err != nil {
		logger.Warn("Failed to restore unmapped set", zap.Error(err))
	}

	// Analytics ingestion
	var compiledCache services.CompiledCache
	if redisClient != nil {
		compiledCache = services.NewAnalyticsCache(redisClient, cfg.Sync.CacheTTL, logger)
	}
	ingestService := services.NewAnalyticsIngestService(
		merchantClient, analyticsRepo, catalogClient, mappingRepo,
		stateRepo, unmappedTracker, compiledCache, metrics, nil, logger,
	)

	// Bulk backfill
	importService := services.NewBulkImportService(
		ingestService, importRepo, notificationClient, nil,
		cfg.Sync.ImportBatchDelay, logger,
	)
	go func() {
		if err := importService.RunIfNeeded(context.Background()); err != nil {
			logger.Error("startup backfill failed", zap.Error(err))
		}
	}()

	// Start NATS subscriber: product changes auto-enqueue for sync
	if natsConn != nil {
		eventHandler := services.NewProductEventHandler(syncQueue, logger)
		eventSubscriber := events.NewSubscriber(natsConn, eventHandler, logger)
		if err := eventSubscriber.Start(); err != nil {
			logger.Warn("Failed to start event subscriber", zap.Error(err))
		} else {
			defer eventSubscriber.Stop()
		}
	}

	// Scheduler: periodic drains plus the nightly analytics run
	sched := scheduler.New(logger)
	sched.Start(
		cfg.Sync.DrainInterval, func(ctx context.Context) error { return reconciler.Run(ctx) },
		cfg.Sync.AnalyticsTime, func(ctx context.Context) error { return ingestService.RunDaily(ctx) },
	)
	defer sched.Stop()

	// Initialize handlers
	syncHandler := handlers.NewSyncHandler(syncQueue, reconciler, quotaGate, stateRepo, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(ingestService, unmappedTracker, mappingRepo, logger)
	importHandler := handlers.NewImportHandler(importService, logger)

	// Set Gin mode
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize router
	router := gin.New()
	router.Use(gin.Recovery())
	if sentryEnabled {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	router.Use(middleware.RequestLogger(logger))

	// Setup routes using the routes package
	routes.SetupRoutes(router, &routes.RouteConfig{
		SyncHandler:      syncHandler,
		AnalyticsHandler: analyticsHandler,
		ImportHandler:    importHandler,
		AdminAPIKey:      cfg.Security.AdminAPIKey,
		MetricsRegistry:  metrics.Registry,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Merchant sync service starting on port " + cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newLogger builds the zap logger for the environment.
func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
