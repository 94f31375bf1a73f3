package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/learnpath/internal/config"
	"github.com/knoguchi/learnpath/internal/embedder"
	"github.com/knoguchi/learnpath/internal/llm"
	"github.com/knoguchi/learnpath/internal/metrics"
	"github.com/knoguchi/learnpath/internal/repository/postgres"
	"github.com/knoguchi/learnpath/internal/repository/redis"
	"github.com/knoguchi/learnpath/internal/reranker"
	"github.com/knoguchi/learnpath/internal/server"
	"github.com/knoguchi/learnpath/internal/service"
	"github.com/knoguchi/learnpath/internal/vectorstore"
)

func main() {
	// Info-level logging until the configured level is known
	setupLogging(slog.LevelInfo)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg.SlogLevel())

	slog.Info("starting learnpath retrieval service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"collection", cfg.QdrantCollection,
		"rerank_enabled", cfg.RerankEnabled,
	)

	// Initialize Qdrant vector store
	vectorStore, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
		Dimension:  cfg.VectorDimension,
		Logger:     slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	if err := vectorStore.Ping(ctx); err != nil {
		slog.Warn("Qdrant health check failed", "error", err)
	} else {
		slog.Info("connected to Qdrant", "url", cfg.QdrantURL)
	}

	// Initialize embedding backend, optionally behind the Redis cache
	backend, closeCache, err := newEmbeddingBackend(cfg)
	if err != nil {
		return err
	}
	defer closeCache()
	encoder := embedder.NewEncoder(backend, cfg.VectorDimension, slog.Default())
	slog.Info("initialized embedder", "provider", cfg.EmbedderProvider, "model", backend.ModelName())

	// Initialize Ollama LLM, used by the LLM reranker and summaries
	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)

	tracker := service.NewReadinessTracker(cfg.RerankEnabled)
	var opts []service.SearchServiceOption
	var rerankLoader service.Loadable

	if cfg.RerankEnabled {
		crossEncoder := reranker.NewCrossEncoder(newScorer(cfg, llmClient), slog.Default())
		opts = append(opts, service.WithReranker(crossEncoder))
		rerankLoader = crossEncoder
		slog.Info("initialized reranker", "provider", cfg.RerankerProvider, "model", crossEncoder.ModelName())
	}

	// Optional PostgreSQL search log
	if cfg.DatabaseURL != "" {
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		searchLog := postgres.NewSearchLogRepo(db)
		if err := searchLog.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, service.WithSearchLogger(searchLog))
		slog.Info("search log enabled")
	}

	searchSvc := service.NewSearchService(encoder, vectorStore, tracker, service.SearchServiceConfig{
		RerankEnabled: cfg.RerankEnabled,
		DefaultTopK:   cfg.DefaultTopK,
		ResultLimit:   cfg.ResultLimit,
		Logger:        slog.Default(),
	}, opts...)

	summarizer := service.NewSummarizer(llmClient, cfg.SummarizeEnabled, slog.Default())

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: cfg.AllowedOrigins,
		Search:         searchSvc,
		Summarizer:     summarizer,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)

	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Models load once in the background; /readyz reports progress and
	// searches fail with not-ready until loading completes.
	loader := service.NewLoader(vectorStore, encoder, rerankLoader, tracker, slog.Default())
	go func() {
		if err := loader.Run(ctx); err != nil {
			slog.Error("model loading failed; affected capabilities stay unavailable", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// setupLogging installs the JSON slog handler as the process default.
func setupLogging(level slog.Level) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

func newEmbeddingBackend(cfg *config.Config) (embedder.Backend, func(), error) {
	var backend embedder.Backend
	switch cfg.EmbedderProvider {
	case config.ProviderOpenAI:
		backend = embedder.NewOpenAIBackend(embedder.OpenAIConfig{
			BaseURL: cfg.EmbedderURL,
			APIKey:  cfg.EmbedderAPIKey,
			Model:   cfg.EmbedderModel,
		})
	case config.ProviderOllama:
		backend = embedder.NewOllamaBackend(embedder.OllamaConfig{
			BaseURL:          cfg.EmbedderBaseURL(),
			Model:            cfg.EmbedderModel,
			BatchConcurrency: cfg.EmbedderConcurrency,
		})
	default:
		return nil, nil, fmt.Errorf("unknown embedder provider %q", cfg.EmbedderProvider)
	}

	if cfg.RedisAddr == "" {
		return backend, func() {}, nil
	}

	store, err := redis.NewStore(redis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		slog.Warn("Redis ping failed; cache misses will fall through to the model", "error", err)
	}

	slog.Info("embedding cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.EmbeddingCacheTTL)
	cached := embedder.NewCachedBackend(backend, store, cfg.EmbeddingCacheTTL, metrics.EmbeddingCacheTotal, slog.Default())
	return cached, store.Close, nil
}

func newScorer(cfg *config.Config, llmClient llm.LLM) reranker.Scorer {
	if cfg.RerankerProvider == config.ProviderLLM {
		var opts []reranker.LLMScorerOption
		if cfg.RerankerModel != "" {
			opts = append(opts, reranker.WithModel(cfg.RerankerModel))
		}
		return reranker.NewLLMScorer(llmClient, opts...)
	}
	return reranker.NewHTTPScorer(reranker.HTTPConfig{
		BaseURL: cfg.RerankerURL,
		Model:   cfg.RerankerModel,
	})
}

// Ensure interfaces are satisfied at compile time
var (
	_ vectorstore.Index       = (*vectorstore.QdrantStore)(nil)
	_ vectorstore.Provisioner = (*vectorstore.QdrantStore)(nil)
	_ embedder.KVStore        = (*redis.Store)(nil)
	_ service.Encoder         = (*embedder.Encoder)(nil)
	_ service.Reranker        = (*reranker.CrossEncoder)(nil)
	_ service.SearchLogger    = (*postgres.SearchLogRepo)(nil)
	_ llm.LLM                 = (*llm.OllamaClient)(nil)
)
