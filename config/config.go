// Package config provides the three-layer configuration (defaults → env
// vars → functional options) shared by every coordinator subsystem.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration object: one sub-struct per concern,
// each with its own defaults and env var names.
type Config struct {
	ServiceName string
	Port        int

	HTTP       HTTPConfig
	LLM        LLMConfig
	VectorDB   VectorStoreConfig
	Relational RelationalConfig
	KV         KVConfig
	Resilience ResilienceConfig
	Cache      CacheConfig
	Session    SessionConfig
	Ralph      RalphConfig
	Learning   LearningConfig
	Logging    LoggingConfig
	Telemetry  TelemetryConfig
}

type HTTPConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	APIKey          string
	APIKeyFile      string
}

type LLMConfig struct {
	BaseURL string // LLAMA_CPP_URL
	Model   string
}

type VectorStoreConfig struct {
	BaseURL          string // QDRANT_URL
	EmbeddingDim     int
	EmbeddingBaseURL string // EMBEDDING_SERVICE_URL
}

type RelationalConfig struct {
	DSN string // POSTGRES_DSN
}

type KVConfig struct {
	RedisURL string // REDIS_URL
}

type ResilienceConfig struct {
	// The inference engine uses a lower threshold and longer recovery
	// timeout than a generic HTTP service because loading the model is
	// expensive; generic HTTP services default to (5, 60s).
	InferenceFailureThreshold int
	InferenceRecoveryTimeout  time.Duration
	DefaultFailureThreshold   int
	DefaultRecoveryTimeout    time.Duration

	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RetryBackoffFactor float64
	RetryJitter        bool

	RateLimitWindow       time.Duration
	RateLimitRequestsPerW int
}

type CacheConfig struct {
	SimilarityThreshold float64
	DefaultTTL          time.Duration
}

type SessionConfig struct {
	TTL time.Duration
}

type RalphConfig struct {
	MinIterations     int
	MaxIterationsCap  int
	BlockedExitCode   int
	ApprovalTimeout   time.Duration
	HistoryCapPerKey  int
}

type LearningConfig struct {
	DataRoot             string
	CheckpointEveryN     int
	BackpressureMB       int64
	BackpressureInterval time.Duration
}

type LoggingConfig struct {
	Level string
}

type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/gRPC collector address (host:port).
	// Empty means spans are written to stdout instead of exported.
	OTLPEndpoint string // OTEL_EXPORTER_OTLP_ENDPOINT
}

// Default returns the baseline configuration before env vars or options
// are applied.
func Default() *Config {
	return &Config{
		ServiceName: "hybrid-coordinator",
		Port:        8080,
		HTTP: HTTPConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL: "http://localhost:8081",
			Model:   "local-default",
		},
		VectorDB: VectorStoreConfig{
			BaseURL:      "http://localhost:6333",
			EmbeddingDim: 384,
		},
		Resilience: ResilienceConfig{
			InferenceFailureThreshold: 3,
			InferenceRecoveryTimeout:  120 * time.Second,
			DefaultFailureThreshold:   5,
			DefaultRecoveryTimeout:    60 * time.Second,
			RetryMaxAttempts:          3,
			RetryBaseDelay:            200 * time.Millisecond,
			RetryMaxDelay:             5 * time.Second,
			RetryBackoffFactor:        2.0,
			RetryJitter:               true,
			RateLimitWindow:           60 * time.Second,
			RateLimitRequestsPerW:     120,
		},
		Cache: CacheConfig{
			SimilarityThreshold: 0.95,
			DefaultTTL:          24 * time.Hour,
		},
		Session: SessionConfig{
			TTL: time.Hour,
		},
		Ralph: RalphConfig{
			MinIterations:    1,
			MaxIterationsCap: 50,
			BlockedExitCode:  99,
			ApprovalTimeout:  5 * time.Minute,
			HistoryCapPerKey: 100,
		},
		Learning: LearningConfig{
			DataRoot:             "./data",
			CheckpointEveryN:     100,
			BackpressureMB:       100,
			BackpressureInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Option mutates a Config; applied after env vars
// (defaults < env < functional options).
type Option func(*Config)

func WithPort(port int) Option          { return func(c *Config) { c.Port = port } }
func WithServiceName(name string) Option { return func(c *Config) { c.ServiceName = name } }
func WithLLMBaseURL(url string) Option  { return func(c *Config) { c.LLM.BaseURL = url } }
func WithVectorDBURL(url string) Option { return func(c *Config) { c.VectorDB.BaseURL = url } }

// Load builds a Config from defaults, then environment variables, then
// the supplied options, in that priority order.
func Load(opts ...Option) (*Config, error) {
	cfg := Default()
	cfg.loadEnv()

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("LLAMA_CPP_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("EMBEDDING_SERVICE_URL"); v != "" {
		c.VectorDB.EmbeddingBaseURL = v
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		c.VectorDB.BaseURL = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Relational.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.KV.RedisURL = v
	}
	if v := os.Getenv("HYBRID_COORDINATOR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("HYBRID_COORDINATOR_DATA_DIR"); v != "" {
		c.Learning.DataRoot = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}

	// When both API_KEY and API_KEY_FILE are set, the file's contents
	// take precedence — it's assumed to be the fresher value, mounted by
	// an orchestrator secret rather than typed into the environment.
	c.HTTP.APIKey = os.Getenv("API_KEY")
	c.HTTP.APIKeyFile = os.Getenv("API_KEY_FILE")
	if c.HTTP.APIKeyFile != "" {
		if b, err := os.ReadFile(c.HTTP.APIKeyFile); err == nil {
			if key := strings.TrimSpace(string(b)); key != "" {
				c.HTTP.APIKey = key
			}
		}
	}
}

// Validate enforces the structural invariants the rest of the system
// assumes hold (e.g. a positive embedding dimension).
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.VectorDB.EmbeddingDim <= 0 {
		return fmt.Errorf("vector db embedding dimension must be positive")
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache similarity threshold must be in (0, 1]")
	}
	if c.Ralph.MinIterations < 1 || c.Ralph.MinIterations > c.Ralph.MaxIterationsCap {
		return fmt.Errorf("ralph min/max iterations misconfigured")
	}
	return nil
}
