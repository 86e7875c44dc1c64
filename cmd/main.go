package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/citynews/pulse/internal/api"
	"github.com/citynews/pulse/internal/cache"
	"github.com/citynews/pulse/internal/cluster"
	"github.com/citynews/pulse/internal/config"
	"github.com/citynews/pulse/internal/dedup"
	"github.com/citynews/pulse/internal/enrich"
	"github.com/citynews/pulse/internal/feed"
	"github.com/citynews/pulse/internal/gate"
	"github.com/citynews/pulse/internal/logger"
	"github.com/citynews/pulse/internal/middleware"
	"github.com/citynews/pulse/internal/models"
	"github.com/citynews/pulse/internal/pipeline"
	"github.com/citynews/pulse/internal/sources"
	"github.com/citynews/pulse/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// Load and validate configuration
	cfg := config.Load()

	// Initialize logger
	logOutput := "stdout"
	if cfg.LogFile != "" {
		logOutput = cfg.LogFile
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.LogLevel,
		Output: logOutput,
		Pretty: cfg.Env == "development",
	}); err != nil {
		panic(err)
	}

	log := logger.Get()
	log.Info().Msg("Starting pipeline service...")

	// Postgres store (owns schema creation)
	st, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Postgres store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Postgres store")
		}
	}()

	// Redis run state
	var runState cache.RunState
	runState, err = cache.NewRedisClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Redis client")
	}
	defer func() {
		if err := runState.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Redis client")
		}
	}()

	// Gemini client for the enrichment stage
	llm, err := enrich.NewGeminiClient(context.Background(), cfg.AIApiKey, cfg.AIModel, cfg.AITimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Gemini client")
	}
	defer llm.Close()

	// Pipeline wiring
	fetcher := feed.NewFetcher(cfg.FeedTimeout, cfg.FetchRetries)
	inserter := dedup.NewInserter(st, runState, cfg.InsertBatchSize, cfg.DedupTTL)
	engine := cluster.NewEngine(cfg.ClusterWindow, cfg.ClusterThreshold)
	enricher := enrich.NewOrchestrator(st, llm, enrich.Options{
		Concurrency:      cfg.EnrichConcurrency,
		TaskRetries:      cfg.TaskRetries,
		BreakerThreshold: cfg.BreakerThreshold,
		PublishTTL:       cfg.PublishTTL,
		Model:            cfg.AIModel,
	})
	g := gate.New(runState, fetcher, st, cfg.MinRunInterval)

	registry := func() ([]models.Source, error) {
		return sources.Load(cfg.SourcesPath)
	}

	pipe := pipeline.New(st, runState, registry, fetcher, inserter, engine, enricher, g, pipeline.Options{
		LockName:         cfg.LockName,
		LockTTL:          cfg.LockTTL,
		RunBudget:        cfg.RunBudget,
		ArticleCeiling:   cfg.ArticleCeiling,
		FetchConcurrency: cfg.FetchConcurrency,
		ClusterWindow:    cfg.ClusterWindow,
		WatermarkTTL:     cfg.DedupTTL,
	})

	// Create Fiber app with custom config
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPTimeout,
		WriteTimeout: cfg.RunBudget + time.Minute, // trigger runs synchronously
		IdleTimeout:  120 * time.Second,
		ErrorHandler: middleware.ErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(middleware.RequestLogger())

	// Setup API routes
	handlers := api.NewHandlers(st, pipe)
	api.Register(app, handlers, cfg.TriggerSecret)

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
