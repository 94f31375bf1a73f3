// Package config loads configuration from environment variables and .env files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Embedding and reranking backends.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderHTTP   = "http"
	ProviderLLM    = "llm"
)

// Config holds all configuration for the retrieval service
type Config struct {
	// Server
	HTTPPort       int      `env:"HTTP_PORT" envDefault:"8080"`
	Environment    string   `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Qdrant
	QdrantURL        string `env:"QDRANT_URL" envDefault:"localhost:6334"`
	QdrantAPIKey     string `env:"QDRANT_API_KEY"`
	QdrantCollection string `env:"QDRANT_COLLECTION" envDefault:"learning_resources"`
	VectorDimension  int    `env:"VECTOR_DIMENSION" envDefault:"768"`

	// Embedder
	EmbedderProvider    string `env:"EMBEDDER_PROVIDER" envDefault:"ollama"`
	EmbedderURL         string `env:"EMBEDDER_URL"`
	EmbedderModel       string `env:"EMBEDDER_MODEL" envDefault:"nomic-embed-text"`
	EmbedderAPIKey      string `env:"EMBEDDER_API_KEY"`
	EmbedderConcurrency int    `env:"EMBEDDER_CONCURRENCY" envDefault:"4"`

	// Reranker
	RerankEnabled    bool   `env:"RERANK_ENABLED" envDefault:"true"`
	RerankerProvider string `env:"RERANKER_PROVIDER" envDefault:"http"`
	RerankerURL      string `env:"RERANKER_URL" envDefault:"http://localhost:8081"`
	RerankerModel    string `env:"RERANKER_MODEL"`

	// Ollama LLM
	OllamaURL        string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaLLMModel   string `env:"OLLAMA_LLM_MODEL" envDefault:"llama3.2"`
	SummarizeEnabled bool   `env:"SUMMARIZE_ENABLED" envDefault:"false"`

	// Redis embedding cache; empty address disables it
	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB" envDefault:"0"`
	EmbeddingCacheTTL time.Duration `env:"EMBEDDING_CACHE_TTL" envDefault:"24h"`

	// PostgreSQL search log; empty URL disables it
	DatabaseURL string `env:"DATABASE_URL"`

	// Search
	DefaultTopK int `env:"DEFAULT_TOP_K" envDefault:"20"`
	ResultLimit int `env:"RESULT_LIMIT" envDefault:"5"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT %d out of range", c.HTTPPort))
	}
	if c.QdrantCollection == "" {
		errs = append(errs, errors.New("QDRANT_COLLECTION must not be empty"))
	}
	if c.VectorDimension <= 0 {
		errs = append(errs, fmt.Errorf("VECTOR_DIMENSION must be positive, got %d", c.VectorDimension))
	}
	if c.DefaultTopK < 1 {
		errs = append(errs, fmt.Errorf("DEFAULT_TOP_K must be at least 1, got %d", c.DefaultTopK))
	}
	if c.ResultLimit < 1 {
		errs = append(errs, fmt.Errorf("RESULT_LIMIT must be at least 1, got %d", c.ResultLimit))
	}
	if c.EmbedderConcurrency < 1 {
		errs = append(errs, fmt.Errorf("EMBEDDER_CONCURRENCY must be at least 1, got %d", c.EmbedderConcurrency))
	}

	switch c.EmbedderProvider {
	case ProviderOllama:
	case ProviderOpenAI:
		if c.EmbedderURL == "" && c.EmbedderAPIKey == "" {
			errs = append(errs, errors.New("EMBEDDER_URL or EMBEDDER_API_KEY is required for the openai embedder"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDER_PROVIDER %q", c.EmbedderProvider))
	}

	if c.RerankEnabled {
		switch c.RerankerProvider {
		case ProviderHTTP:
			if c.RerankerURL == "" {
				errs = append(errs, errors.New("RERANKER_URL is required for the http reranker"))
			}
		case ProviderLLM:
		default:
			errs = append(errs, fmt.Errorf("unknown RERANKER_PROVIDER %q", c.RerankerProvider))
		}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// EmbedderBaseURL returns the embedder endpoint, defaulting to the Ollama URL.
func (c *Config) EmbedderBaseURL() string {
	if c.EmbedderURL != "" {
		return c.EmbedderURL
	}
	if c.EmbedderProvider == ProviderOllama {
		return c.OllamaURL
	}
	return ""
}

// SlogLevel returns the configured log level. Validate has already rejected unknown names.
func (c *Config) SlogLevel() slog.Level {
	level, _ := ParseLogLevel(c.LogLevel)
	return level
}

// ParseLogLevel maps LOG_LEVEL onto a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown LOG_LEVEL %q", level)
	}
}
