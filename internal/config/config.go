package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for the gateway and ingest worker.
type Config struct {
	// Server
	Port       int    `env:"PORT" envDefault:"8080"`
	HealthPort int    `env:"HEALTH_PORT" envDefault:"8090"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// Upload limits
	MaxUploadSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10MB in bytes

	// Store
	DBURL string `env:"DB_URL"`

	// Queue
	QueueURL string `env:"QUEUE_URL"`

	// Cache
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	// LLM & Embeddings
	OpenAIKey      string        `env:"OPENAI_API_KEY"`
	LLMModel       string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDim   int           `env:"EMBEDDING_DIM" envDefault:"1536"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`

	// Chunking
	ChunkSize    int `env:"CHUNK_SIZE" envDefault:"1000"`
	ChunkOverlap int `env:"CHUNK_OVERLAP" envDefault:"200"`

	// Retrieval
	TopK            int `env:"TOP_K" envDefault:"5"`
	HistoryWindow   int `env:"HISTORY_WINDOW" envDefault:"6"`
	MaxContextChars int `env:"MAX_CONTEXT_CHARS" envDefault:"6000"`

	// Ingestion resilience
	MaxTransientRetries int           `env:"MAX_TRANSIENT_RETRIES" envDefault:"1"`
	ProcessingTimeout   time.Duration `env:"PROCESSING_TIMEOUT" envDefault:"10m"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
