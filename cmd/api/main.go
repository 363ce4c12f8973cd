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
	"go.uber.org/zap"

	"github.com/cnbv-agent/backend/internal/api/handlers"
	"github.com/cnbv-agent/backend/internal/cache/redis"
	"github.com/cnbv-agent/backend/internal/catalog"
	"github.com/cnbv-agent/backend/internal/feedback"
	"github.com/cnbv-agent/backend/internal/llm"
	"github.com/cnbv-agent/backend/internal/metrics"
	"github.com/cnbv-agent/backend/internal/middleware/ratelimit"
	"github.com/cnbv-agent/backend/internal/nlparse"
	"github.com/cnbv-agent/backend/internal/pipeline"
	"github.com/cnbv-agent/backend/internal/rag"
	"github.com/cnbv-agent/backend/internal/results"
	"github.com/cnbv-agent/backend/internal/sqlcheck"
	"github.com/cnbv-agent/backend/internal/sqlgen"
	"github.com/cnbv-agent/backend/internal/storage/sqlite"
	"github.com/cnbv-agent/backend/internal/vector/milvus"
	"github.com/cnbv-agent/backend/pkg/config"
	appLogger "github.com/cnbv-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting banking indicators NL2SQL service")
	metrics.Init()

	db, err := sqlite.NewClient(cfg.Analytics.Path)
	if err != nil {
		appLogger.Fatal("Failed to open analytical store", zap.Error(err))
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize query log schema", zap.Error(err))
	}

	vectorDB, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.SchemaCollection,
		cfg.Milvus.MetricCollection,
		cfg.Milvus.ExampleCollection,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create similarity index client", zap.Error(err))
	}
	defer vectorDB.Close()

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	var embeddingCache rag.EmbeddingCache
	if cache, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
	} else {
		embeddingCache = cache
		defer cache.Close()
	}

	cat := catalog.New(cfg.Analytics.Table)

	seeder := rag.NewSeeder(cat, llmClient, vectorDB)
	seedCtx, seedCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := seeder.Seed(seedCtx); err != nil {
		appLogger.Warn("Retrieval index seeding incomplete, running degraded", zap.Error(err))
	}
	seedCancel()

	parser := nlparse.NewParser(cat, llmClient, nlparse.Config{
		ConfidenceThreshold: cfg.Parser.ConfidenceThreshold,
		MaxMetricCandidates: cfg.Parser.MaxMetricCandidates,
		DefaultTopN:         cfg.Parser.DefaultTopN,
	})

	retriever := rag.NewService(cat, llmClient, vectorDB, embeddingCache, rag.Config{
		TopK:         cfg.RAG.TopK,
		ScoreFloor:   cfg.RAG.ScoreFloor,
		LearnedBoost: cfg.RAG.LearnedBoost,
		CacheTTL:     time.Duration(cfg.RAG.CacheTTLMin) * time.Minute,
	})

	validator := sqlcheck.NewValidator(cfg.Analytics.MaxRows)
	generator := sqlgen.NewGenerator(cat, validator, llmClient)
	executor := results.NewExecutor(db, cfg.Analytics.QueryTimeoutSec)
	recorder := feedback.NewRecorder(db)

	engine := pipeline.NewEngine(cat, parser, retriever, generator, executor, recorder)

	promotionJob := feedback.NewJob(db, llmClient, vectorDB, feedback.JobConfig{
		Interval:            time.Duration(cfg.Feedback.IntervalMin) * time.Minute,
		BatchSize:           cfg.Feedback.BatchSize,
		MinAge:              time.Duration(cfg.Feedback.MinAgeHours) * time.Hour,
		Retention:           time.Duration(cfg.Feedback.RetentionDays) * 24 * time.Hour,
		ConfidenceThreshold: cfg.Feedback.ConfidenceThreshold,
		Confidence: feedback.ConfidenceConfig{
			LatencyFloorMS: cfg.Feedback.LatencyFloorMS,
			AgeCapHours:    cfg.Feedback.AgeCapHours,
		},
	})
	promotionJob.Start()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 60,
		Logger:               appLogger.GetLogger(),
	})
	app.Use(limiter.Middleware())

	queryHandler := handlers.NewQueryHandler(engine)

	api := app.Group("/api/v1")
	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

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

	appLogger.Info("Server shutting down gracefully...")
	promotionJob.Stop()
	app.Shutdown()
	appLogger.Info("Server stopped")
}
