package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/alerts"
	"github.com/marketpulse/backend/internal/analytics"
	"github.com/marketpulse/backend/internal/api/handlers"
	archive "github.com/marketpulse/backend/internal/archive/zilliz"
	catalog "github.com/marketpulse/backend/internal/catalog/neo4j"
	cache "github.com/marketpulse/backend/internal/cache/redis"
	"github.com/marketpulse/backend/internal/delivery"
	"github.com/marketpulse/backend/internal/detector"
	"github.com/marketpulse/backend/internal/insight"
	"github.com/marketpulse/backend/internal/metrics"
	"github.com/marketpulse/backend/internal/metricsource"
	"github.com/marketpulse/backend/internal/middleware/ratelimit"
	"github.com/marketpulse/backend/internal/middleware/security"
	"github.com/marketpulse/backend/internal/middleware/validation"
	"github.com/marketpulse/backend/internal/observe"
	"github.com/marketpulse/backend/internal/registry"
	"github.com/marketpulse/backend/internal/rules"
	"github.com/marketpulse/backend/internal/scheduler"
	"github.com/marketpulse/backend/internal/snapshots"
	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/internal/storage/sqlite"
	"github.com/marketpulse/backend/pkg/config"
	appLogger "github.com/marketpulse/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting MarketPulse pipeline")
	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	redisClient, err := cache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, running without cache or rate caps", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	insightClient := insight.NewClient(
		cfg.Insight.APIKey,
		cfg.Insight.Model,
		cfg.Insight.EmbeddingModel,
		cfg.Insight.Temperature,
		cfg.Insight.MaxTokens,
		cfg.Insight.TimeoutSec,
	)
	var provider insight.Provider
	if cfg.Insight.APIKey != "" {
		provider = insightClient
	} else {
		appLogger.Warn("No insight API key configured, alerts will use fallback insights")
	}

	var changeArchive alerts.Archive
	var eventIndexer scheduler.EventIndexer
	if cfg.Zilliz.Enabled && provider != nil {
		archiveClient, err := archive.NewClient(cfg.Zilliz.Endpoint, cfg.Zilliz.CollectionName, cfg.Zilliz.VectorDim, provider)
		if err != nil {
			appLogger.Warn("Change archive unavailable", zap.Error(err))
		} else {
			defer archiveClient.Close()
			if err := archiveClient.CreateCollection(context.Background()); err != nil {
				appLogger.Warn("Failed to prepare archive collection", zap.Error(err))
			} else {
				changeArchive = archiveClient
				eventIndexer = archiveClient
			}
		}
	}

	var entityCatalog alerts.Catalog
	var graphRecorder scheduler.GraphRecorder
	if cfg.Neo4j.URI != "" {
		catalogClient, err := catalog.NewClient(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			appLogger.Warn("Entity catalog unavailable", zap.Error(err))
		} else {
			defer catalogClient.Close(context.Background())
			entityCatalog = catalogClient
			graphRecorder = catalogClient
		}
	}

	snapService := snapshots.NewService(store, cfg.Detection.MaxContentBytes)

	var hashCache detector.HashCache
	if redisClient != nil {
		hashCache = redisClient
	}
	det := detector.New(snapService, store, hashCache, detector.Config{
		ChangeThreshold:   cfg.Detection.ChangeThreshold,
		BaselineThreshold: cfg.Detection.BaselineThreshold,
		PricingConfidence: cfg.Detection.PricingConfidence,
		ContentConfidence: cfg.Detection.ContentConfidence,
	})

	reg := registry.New(store)
	source := observe.NewWebSource(cfg.Server.ReadTimeout)

	metricRouter := metricsource.NewRouter(metricsource.NewStoreAccessor(store))

	stats := analytics.NewAggregator()
	feedHub := handlers.NewFeedHub()

	factory := alerts.NewFactory(store, store, provider, changeArchive, entityCatalog,
		feedHub,
		alerts.NotifierFunc(func(alert *models.IntelligentAlert) {
			stats.RecordAlert(alert)
		}),
	)

	var limiter rules.RateLimiter
	if redisClient != nil {
		limiter = redisClient
	}
	engine := rules.NewEngine(store, store, metricRouter, factory, limiter)

	senders := map[models.Channel]delivery.Sender{
		models.ChannelEmail:   delivery.NewEmailSender(cfg.Channels.Email),
		models.ChannelSMS:     delivery.NewSMSSender(cfg.Channels.SMS),
		models.ChannelSlack:   delivery.NewSlackSender(cfg.Channels.Slack),
		models.ChannelWebhook: delivery.NewWebhookSender(cfg.Channels.Webhook),
	}
	dispatcher := delivery.NewDispatcher(store, store, senders, stats,
		cfg.Pipeline.DeliveryMaxAttempts, cfg.Pipeline.DispatchBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(reg, source, det, engine, dispatcher, stats, eventIndexer, graphRecorder, cfg.Pipeline)
	sched.Start(ctx)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	defer rateLimiter.Stop()
	app.Use(rateLimiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	targetHandler := handlers.NewTargetHandler(reg, store)
	ruleHandler := handlers.NewRuleHandler(store)
	alertHandler := handlers.NewAlertHandler(store, stats)
	sampleHandler := handlers.NewSampleHandler(store)

	api := app.Group("/api/v1")

	api.Post("/targets", targetHandler.CreateTarget)
	api.Get("/targets", targetHandler.ListTargets)
	api.Delete("/targets/:id", targetHandler.DeactivateTarget)

	api.Post("/rules", ruleHandler.CreateRule)
	api.Get("/rules", ruleHandler.ListRules)
	api.Put("/rules/:id", ruleHandler.UpdateRule)

	api.Get("/alerts", alertHandler.ListAlerts)
	api.Get("/alerts/:id", alertHandler.GetAlert)
	api.Post("/alerts/:id/ack", alertHandler.AcknowledgeAlert)

	api.Post("/samples", sampleHandler.RecordSample)

	api.Get("/stats", alertHandler.GetStats)

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := store.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/alerts", websocket.New(feedHub.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down gracefully...")
	cancel()
	sched.Wait()
	app.Shutdown()
	appLogger.Info("Pipeline stopped")
}
