// inkwelld is the retrieval service daemon: HTTP API, ingestion adapters,
// background embedding workers, and the answer stream orchestrator.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/db"
	"github.com/inkwell-ai/inkwell/internal/embeddings"
	"github.com/inkwell-ai/inkwell/internal/health"
	"github.com/inkwell-ai/inkwell/internal/httpapi"
	"github.com/inkwell-ai/inkwell/internal/ingest"
	"github.com/inkwell-ai/inkwell/internal/jobs"
	"github.com/inkwell-ai/inkwell/internal/pipeline"
	"github.com/inkwell-ai/inkwell/internal/qa"
	"github.com/inkwell-ai/inkwell/internal/rerank"
	"github.com/inkwell-ai/inkwell/internal/search"
	"github.com/inkwell-ai/inkwell/internal/server"
	"github.com/inkwell-ai/inkwell/internal/streaming"
	"github.com/inkwell-ai/inkwell/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err))
	}
	logger := buildLogger(cfg.Logging)
	defer logger.Sync()

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	}

	client, err := db.NewClient(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer client.Close()

	// Shared cache tier is optional; the service runs on the local LRU
	// alone when Redis is absent.
	var shared embeddings.Cache
	var redisCache *embeddings.RedisCache
	if cfg.Redis.Enabled {
		redisCache, err = embeddings.NewRedisCache(cfg.Redis.Addr, logger)
		if err != nil {
			logger.Warn("Redis unavailable, using local cache only", zap.Error(err))
		} else {
			shared = redisCache
		}
	}

	provider := embeddings.NewHTTPProvider(
		cfg.Embeddings.BaseURL,
		cfg.Embeddings.Timeout,
		cfg.Embeddings.RatePerSecond,
		cfg.Embeddings.RateBurst,
	)
	registry := embeddings.NewRegistry(nil)
	embeddings.Initialize(embeddings.Config{
		DefaultModel: cfg.Embeddings.DefaultModel,
		CacheTTL:     cfg.Embeddings.CacheTTL,
		MaxLRU:       cfg.Embeddings.MaxLRU,
	}, provider, registry, client, shared, logger)
	embedder := embeddings.Get()

	var reranker pipeline.RerankPass
	if cfg.Reranker.BaseURL != "" {
		scorer := rerank.NewHTTPScorer(cfg.Reranker.BaseURL, cfg.Reranker.Model, cfg.Reranker.Timeout)
		reranker = rerank.New(scorer, logger)
	}

	pipe := pipeline.New(embedder, reranker, cfg.Pipeline, search.MetricCosine, logger)

	registerAdapters(client, embedder, cfg.Ingest, logger)

	configPath := os.Getenv("INKWELL_CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/inkwell.yaml"
	}
	watcher, err := config.NewWatcher(configPath, cfg.Pipeline, logger)
	if err != nil {
		logger.Warn("Config hot reload disabled", zap.Error(err))
	} else {
		watcher.OnChange(pipe.UpdateTuning)
		defer watcher.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := jobs.NewQueue(client, logger)
	pool := jobs.NewPool(client, embedder, cfg.Jobs, logger)
	pool.Start(ctx)
	defer pool.Stop()

	specialists, err := qa.LoadSpecialists(cfg.Ingest.SpecialistsDir)
	if err != nil {
		logger.Fatal("Failed to load specialists", zap.Error(err))
	}
	llm := qa.NewOpenAIClient(cfg.LLM)
	orchestrator := qa.NewOrchestrator(
		client, pipe, llm, specialists, streaming.Get(),
		cfg.Session.HistoryWindow, logger,
	)

	api := httpapi.New(client, orchestrator, pipe, queue, streaming.Get(), embedder.DefaultModel(), logger)

	checks := health.NewManager(logger)
	checks.Register(health.NewDatabaseChecker(client))
	if redisCache != nil {
		checks.Register(health.NewRedisChecker(redisCache.Wrapper()))
	}
	checks.Register(health.NewHTTPChecker("embeddings", cfg.Embeddings.BaseURL))
	if cfg.Reranker.BaseURL != "" {
		checks.Register(health.NewHTTPChecker("reranker", cfg.Reranker.BaseURL))
	}

	janitor := server.NewJanitor(client, cfg.Session.TTL, logger)
	janitor.Start(ctx)
	defer janitor.Stop()

	srv := server.New(cfg.Server, api, checks, logger)
	errs := srv.Start()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errs:
		logger.Error("Server failed", zap.Error(err))
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Warn("Shutdown incomplete", zap.Error(err))
	}
}

func registerAdapters(client *db.Client, embedder *embeddings.Service, cfg config.IngestConfig, logger *zap.Logger) {
	pdfWorker := &ingest.PDFWorker{
		Client:    client,
		Dir:       cfg.PDFDir,
		Embedder:  embedder,
		AutoEmbed: cfg.AutoEmbed,
		Logger:    logger,
	}
	pipeline.RegisterAdapter(&pipeline.PDFAdapter{
		Client:   client,
		Model:    embedder.DefaultModel(),
		Ingestor: pdfWorker,
	})

	for _, kind := range cfg.Ontologies {
		worker := &ingest.OntologyWorker{
			Client:    client,
			Kind:      kind,
			Dir:       cfg.OntologyDir,
			Embedder:  embedder,
			AutoEmbed: cfg.AutoEmbed,
			Logger:    logger,
		}
		pipeline.RegisterAdapter(&pipeline.OntologyAdapter{
			Kind:     kind,
			Client:   client,
			Ingestor: worker,
		})
	}
}

func buildLogger(cfg config.LoggingConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		logger = zap.NewExample()
	}
	return logger
}
