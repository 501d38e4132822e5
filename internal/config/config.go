// Package config loads the service configuration from YAML with environment
// overrides, and hot-reloads retrieval tuning knobs at runtime.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/inkwell-ai/inkwell/internal/tracing"
)

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds Postgres settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

// RedisConfig holds Redis cache settings
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// EmbeddingsConfig holds embedding provider settings
type EmbeddingsConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	MaxLRU       int           `mapstructure:"max_lru"`
	// RatePerSecond bounds provider submissions; 0 disables the limiter.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`
}

// RerankerConfig holds cross-encoder provider settings
type RerankerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LLMConfig holds chat completion provider settings
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// PipelineConfig holds the global retrieval defaults. These are the base of
// the pipeline's resolution order (globals -> per-source -> request).
type PipelineConfig struct {
	VectorTopK   int     `mapstructure:"vector_top_k"`
	LexicalTopK  int     `mapstructure:"lexical_top_k"`
	MaxResults   int     `mapstructure:"max_results"`
	VectorWeight float64 `mapstructure:"vector_weight"`
	RerankTopK   int     `mapstructure:"rerank_top_k"`
	ApplyMMR     bool    `mapstructure:"apply_mmr"`
	MMRLambda    float64 `mapstructure:"mmr_lambda"`
	ContextBoost float64 `mapstructure:"context_boost"`

	// Per-source overrides keyed by source_type.
	SourceOverrides map[string]map[string]interface{} `mapstructure:"source_overrides"`
}

// JobsConfig holds embedding job worker settings
type JobsConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxRetries   int           `mapstructure:"max_retries"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff"`
}

// SessionConfig holds chat session settings
type SessionConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	HistoryWindow  int           `mapstructure:"history_window"`
	MaxHistorySize int           `mapstructure:"max_history_size"`
}

// IngestConfig holds ingestion worker settings
type IngestConfig struct {
	AutoEmbed      bool   `mapstructure:"auto_embed"`
	SpecialistsDir string `mapstructure:"specialists_dir"`
	PDFDir         string `mapstructure:"pdf_dir"`
	OntologyDir    string `mapstructure:"ontology_dir"`
	// Ontologies maps a source type suffix to enabled kinds, e.g.
	// ["disease", "phenotype"] registers ontology_disease and
	// ontology_phenotype adapters.
	Ontologies []string `mapstructure:"ontologies"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the process-wide configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Reranker   RerankerConfig   `mapstructure:"reranker"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Session    SessionConfig    `mapstructure:"session"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Tracing    tracing.Config   `mapstructure:"tracing"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// Load reads configuration from INKWELL_CONFIG_PATH (default
// ./configs/inkwell.yaml) with INKWELL_* env overrides.
func Load() (*Config, error) {
	path := os.Getenv("INKWELL_CONFIG_PATH")
	if path == "" {
		path = "./configs/inkwell.yaml"
	}
	return LoadFile(path)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("INKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing file is fine; defaults plus env cover local runs.
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("config: server.port must be positive, got %d", c.Server.Port)
	}
	if c.Pipeline.VectorWeight < 0 || c.Pipeline.VectorWeight > 1 {
		return fmt.Errorf("config: pipeline.vector_weight must be in [0,1], got %g", c.Pipeline.VectorWeight)
	}
	if c.Pipeline.MMRLambda < 0 || c.Pipeline.MMRLambda > 1 {
		return fmt.Errorf("config: pipeline.mmr_lambda must be in [0,1], got %g", c.Pipeline.MMRLambda)
	}
	if c.Jobs.Workers < 0 {
		return fmt.Errorf("config: jobs.workers must be non-negative, got %d", c.Jobs.Workers)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 2112)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "300s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "inkwell")
	v.SetDefault("database.database", "inkwell")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", "5m")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("embeddings.base_url", "http://localhost:8090")
	v.SetDefault("embeddings.default_model", "text-embedding-3-small")
	v.SetDefault("embeddings.timeout", "30s")
	v.SetDefault("embeddings.cache_ttl", "1h")
	v.SetDefault("embeddings.max_lru", 2048)
	v.SetDefault("embeddings.rate_per_second", 10)
	v.SetDefault("embeddings.rate_burst", 20)

	v.SetDefault("reranker.base_url", "http://localhost:8091")
	v.SetDefault("reranker.model", "cross-encoder/ms-marco-MiniLM-L-6-v2")
	v.SetDefault("reranker.timeout", "30s")

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "120s")

	v.SetDefault("pipeline.vector_top_k", 20)
	v.SetDefault("pipeline.lexical_top_k", 20)
	v.SetDefault("pipeline.max_results", 20)
	v.SetDefault("pipeline.vector_weight", 0.6)
	v.SetDefault("pipeline.rerank_top_k", 8)
	v.SetDefault("pipeline.apply_mmr", true)
	v.SetDefault("pipeline.mmr_lambda", 0.7)
	v.SetDefault("pipeline.context_boost", 1.0)

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.poll_interval", "2s")
	v.SetDefault("jobs.max_retries", 3)
	v.SetDefault("jobs.base_backoff", "5s")

	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.history_window", 10)
	v.SetDefault("session.max_history_size", 200)

	v.SetDefault("ingest.auto_embed", true)
	v.SetDefault("ingest.specialists_dir", "./configs/specialists")
	v.SetDefault("ingest.pdf_dir", "./data/pdf_extracts")
	v.SetDefault("ingest.ontology_dir", "./data/ontologies")
	v.SetDefault("ingest.ontologies", []string{"disease", "phenotype"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
