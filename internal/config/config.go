// Package config provides configuration management for memcore. Settings are
// loaded from an optional YAML file first, then overridden by environment
// variables with the MEMCORE_ prefix. Every option has a sensible default so
// the engine starts with no configuration at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the memcore daemon.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Provider ProviderConfig `yaml:"provider"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Tasks    TasksConfig    `yaml:"tasks"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // default 7171
	Host string `yaml:"host"` // default 127.0.0.1
}

// StorageConfig contains backend selection and connection settings.
type StorageConfig struct {
	// Engine selects the storage backend: postgres or memory.
	Engine string `yaml:"engine"`

	// PostgresDSN is the connection string for the postgres engine.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDim is the dimension of stored vectors. Must match the
	// embedding model in use.
	EmbeddingDim int `yaml:"embedding_dim"`
}

// ProviderConfig selects and configures the model providers used for
// embeddings, entity extraction and relation inference.
type ProviderConfig struct {
	// Provider is the backend: ollama, openai or mock.
	Provider string `yaml:"provider"`

	OllamaURL            string `yaml:"ollama_url"`
	OllamaModel          string `yaml:"ollama_model"`
	OllamaEmbeddingModel string `yaml:"ollama_embedding_model"`

	OpenAIAPIKey         string `yaml:"openai_api_key"`
	OpenAIModel          string `yaml:"openai_model"`
	OpenAIEmbeddingModel string `yaml:"openai_embedding_model"`

	// Timeout bounds every provider call.
	Timeout time.Duration `yaml:"timeout"`
}

// ScoringConfig tunes the scoring engine.
type ScoringConfig struct {
	// ReputationFeedback enables the ±10% producer-reputation nudge.
	ReputationFeedback bool `yaml:"reputation_feedback"`
}

// JobsConfig carries the cron schedules of the background jobs. Schedules use
// the standard 5-field cron syntax; an empty string disables the job.
type JobsConfig struct {
	DecaySchedule     string `yaml:"decay_schedule"`     // default hourly
	RetentionSchedule string `yaml:"retention_schedule"` // default daily
	SemanticSchedule  string `yaml:"semantic_schedule"`  // default every 6 hours
	PromotionSchedule string `yaml:"promotion_schedule"` // default hourly
}

// TasksConfig configures the durable background task queue.
type TasksConfig struct {
	// QueuePath is the sqlite file backing the durable queue. Empty selects
	// the in-memory queue (tasks lost on restart).
	QueuePath string `yaml:"queue_path"`

	// Workers is the number of task consumers.
	Workers int `yaml:"workers"`

	// MaxRetries is the retry budget per task.
	MaxRetries int `yaml:"max_retries"`
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then MEMCORE_ environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires a DSN")
	}
	if c.Storage.EmbeddingDim < 1 {
		return fmt.Errorf("config: embedding dimension must be positive")
	}
	switch c.Provider.Provider {
	case "ollama", "openai", "mock":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider.Provider)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 7171,
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			Engine:       "memory",
			EmbeddingDim: 768,
		},
		Provider: ProviderConfig{
			Provider:             "ollama",
			OllamaURL:            "http://localhost:11434",
			OllamaModel:          "qwen2.5:7b",
			OllamaEmbeddingModel: "nomic-embed-text",
			OpenAIModel:          "gpt-4o-mini",
			OpenAIEmbeddingModel: "text-embedding-3-small",
			Timeout:              60 * time.Second,
		},
		Jobs: JobsConfig{
			DecaySchedule:     "0 * * * *",
			RetentionSchedule: "30 3 * * *",
			SemanticSchedule:  "15 */6 * * *",
			PromotionSchedule: "45 * * * *",
		},
		Tasks: TasksConfig{
			Workers:    4,
			MaxRetries: 3,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("MEMCORE_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("MEMCORE_HOST", cfg.Server.Host)

	cfg.Storage.Engine = getEnv("MEMCORE_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.PostgresDSN = getEnv("MEMCORE_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.EmbeddingDim = getEnvInt("MEMCORE_EMBEDDING_DIM", cfg.Storage.EmbeddingDim)

	cfg.Provider.Provider = getEnv("MEMCORE_PROVIDER", cfg.Provider.Provider)
	cfg.Provider.OllamaURL = getEnv("MEMCORE_OLLAMA_URL", cfg.Provider.OllamaURL)
	cfg.Provider.OllamaModel = getEnv("MEMCORE_OLLAMA_MODEL", cfg.Provider.OllamaModel)
	cfg.Provider.OllamaEmbeddingModel = getEnv("MEMCORE_OLLAMA_EMBEDDING_MODEL", cfg.Provider.OllamaEmbeddingModel)
	cfg.Provider.OpenAIAPIKey = getEnv("MEMCORE_OPENAI_API_KEY", cfg.Provider.OpenAIAPIKey)
	cfg.Provider.OpenAIModel = getEnv("MEMCORE_OPENAI_MODEL", cfg.Provider.OpenAIModel)
	cfg.Provider.OpenAIEmbeddingModel = getEnv("MEMCORE_OPENAI_EMBEDDING_MODEL", cfg.Provider.OpenAIEmbeddingModel)
	cfg.Provider.Timeout = getEnvDuration("MEMCORE_PROVIDER_TIMEOUT", cfg.Provider.Timeout)

	cfg.Scoring.ReputationFeedback = getEnvBool("MEMCORE_REPUTATION_FEEDBACK", cfg.Scoring.ReputationFeedback)

	cfg.Jobs.DecaySchedule = getEnv("MEMCORE_DECAY_SCHEDULE", cfg.Jobs.DecaySchedule)
	cfg.Jobs.RetentionSchedule = getEnv("MEMCORE_RETENTION_SCHEDULE", cfg.Jobs.RetentionSchedule)
	cfg.Jobs.SemanticSchedule = getEnv("MEMCORE_SEMANTIC_SCHEDULE", cfg.Jobs.SemanticSchedule)
	cfg.Jobs.PromotionSchedule = getEnv("MEMCORE_PROMOTION_SCHEDULE", cfg.Jobs.PromotionSchedule)

	cfg.Tasks.QueuePath = getEnv("MEMCORE_TASK_QUEUE_PATH", cfg.Tasks.QueuePath)
	cfg.Tasks.Workers = getEnvInt("MEMCORE_TASK_WORKERS", cfg.Tasks.Workers)
	cfg.Tasks.MaxRetries = getEnvInt("MEMCORE_TASK_MAX_RETRIES", cfg.Tasks.MaxRetries)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" and their negations.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (e.g. "30s").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
