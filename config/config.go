// Package config provides configuration management for storyloom.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for storyloom.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Storage is the persistence configuration shared by the memory index
	// and the story repository.
	Storage StorageConfig `mapstructure:"storage"`

	// Redis is the Redis connection used by the distributed story lock.
	Redis RedisConfig `mapstructure:"redis"`

	// Lock selects how concurrent generations on one story are serialized.
	Lock LockConfig `mapstructure:"lock"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Provider configures the embedding and generative services.
	Provider ProviderConfig `mapstructure:"provider"`

	// Timeouts bounds calls to external services.
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`

	// Memory configures the semantic memory tier.
	Memory MemoryConfig `mapstructure:"memory"`

	// Ranking holds the relevance fusion weights.
	Ranking RankingConfig `mapstructure:"ranking"`

	// Retrieval configures semantic candidate retrieval.
	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	// Assembly configures context bundle construction.
	Assembly AssemblyConfig `mapstructure:"assembly"`

	// Coherence holds scorer weights and thresholds.
	Coherence CoherenceConfig `mapstructure:"coherence"`

	// Generation configures the regeneration and retry policy.
	Generation GenerationConfig `mapstructure:"generation"`

	// Extraction configures memory extraction after accepted content.
	Extraction ExtractionConfig `mapstructure:"extraction"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger).
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size" validate:"min=0"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep" validate:"min=0"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// KeyPrefix namespaces lock keys.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LockConfig holds per-story lock settings.
type LockConfig struct {
	// Backend is local (single process) or redis (multi-process).
	Backend string `mapstructure:"backend" validate:"oneof=local redis"`

	// TTL bounds how long a crashed holder can keep a story locked.
	TTL time.Duration `mapstructure:"ttl" validate:"min=0"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the trace exporter (otlp).
	Exporter string `mapstructure:"exporter" validate:"oneof=otlp"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Headers are attached to every export request.
	Headers map[string]string `mapstructure:"headers"`

	// Timeout bounds a single export.
	Timeout time.Duration `mapstructure:"timeout"`

	// Sampler is the sampling strategy (always_on, always_off, parentbased_traceidratio, traceidratio).
	Sampler string `mapstructure:"sampler" validate:"oneof=always_on always_off parentbased_traceidratio traceidratio"`

	// SamplerRatio is the fraction of traces to sample (0.0-1.0).
	SamplerRatio float64 `mapstructure:"sampler_ratio" validate:"min=0,max=1"`
}

// ProviderConfig holds the embedding and generative service settings.
type ProviderConfig struct {
	// Type is openai (any OpenAI-compatible endpoint) or static (offline).
	Type string `mapstructure:"type" validate:"oneof=openai static"`

	// BaseURL overrides the API endpoint.
	BaseURL string `mapstructure:"base_url"`

	// APIKey authenticates against the endpoint.
	APIKey string `mapstructure:"api_key"`

	// Model is the chat completion model.
	Model string `mapstructure:"model"`

	// EmbeddingModel is the embedding model.
	EmbeddingModel string `mapstructure:"embedding_model"`

	// Temperature is the sampling temperature for generation.
	Temperature float64 `mapstructure:"temperature" validate:"min=0,max=2"`

	// MaxTokens caps a single completion.
	MaxTokens int `mapstructure:"max_tokens" validate:"min=0"`

	// RateLimit is the sustained generative call rate per second.
	RateLimit float64 `mapstructure:"rate_limit" validate:"min=0"`

	// Burst is the token bucket size.
	Burst int `mapstructure:"burst" validate:"min=1"`
}

// TimeoutsConfig bounds calls to the external services.
type TimeoutsConfig struct {
	// Embedding bounds an embedding or index call.
	Embedding time.Duration `mapstructure:"embedding" validate:"min=0"`

	// Generation bounds a single generative call.
	Generation time.Duration `mapstructure:"generation" validate:"min=0"`
}

// MemoryConfig holds semantic memory settings.
type MemoryConfig struct {
	// VectorDimension is the fixed embedding dimension.
	VectorDimension int `mapstructure:"vector_dimension" validate:"min=1"`

	// L1CacheSize is the number of hot entries kept in the LRU tier.
	L1CacheSize int `mapstructure:"l1_cache_size" validate:"min=1"`

	// MaxEntriesPerStory triggers pruning after extraction when exceeded.
	// Zero disables pruning.
	MaxEntriesPerStory int `mapstructure:"max_entries_per_story" validate:"min=0"`
}

// RankingConfig holds the relevance fusion weights.
type RankingConfig struct {
	SimilarityWeight float64 `mapstructure:"similarity_weight" validate:"min=0,max=1"`
	ImportanceWeight float64 `mapstructure:"importance_weight" validate:"min=0,max=1"`
	RecencyWeight    float64 `mapstructure:"recency_weight" validate:"min=0,max=1"`

	// Limit truncates the ranked list; zero keeps everything.
	Limit int `mapstructure:"limit" validate:"min=0"`
}

// RetrievalConfig holds semantic retrieval settings.
type RetrievalConfig struct {
	// TopK is the number of nearest neighbors requested.
	TopK int `mapstructure:"top_k" validate:"min=1"`

	// MinImportance filters out low-importance entries.
	MinImportance float64 `mapstructure:"min_importance" validate:"min=0,max=1"`
}

// AssemblyConfig holds context assembly settings.
type AssemblyConfig struct {
	// RecentWindow is the number of most recent chapters included.
	RecentWindow int `mapstructure:"recent_window" validate:"min=0"`

	// BudgetUnit is chars (runes) or tokens (runes/4, rounded up).
	BudgetUnit string `mapstructure:"budget_unit" validate:"oneof=chars tokens"`

	// DefaultBudget is used when a caller passes no budget.
	DefaultBudget int `mapstructure:"default_budget" validate:"min=1"`

	// ImplicatingMemories is how many top-ranked memories select core facts.
	ImplicatingMemories int `mapstructure:"implicating_memories" validate:"min=1"`
}

// CoherenceConfig holds coherence scorer settings.
type CoherenceConfig struct {
	CharacterWeight float64 `mapstructure:"character_weight" validate:"min=0,max=1"`
	PlotWeight      float64 `mapstructure:"plot_weight" validate:"min=0,max=1"`
	WorldWeight     float64 `mapstructure:"world_weight" validate:"min=0,max=1"`
	TemporalWeight  float64 `mapstructure:"temporal_weight" validate:"min=0,max=1"`

	// AxisThreshold is the per-axis score below which an issue is raised.
	AxisThreshold float64 `mapstructure:"axis_threshold" validate:"min=0,max=1"`

	// AcceptThreshold is the overall score required for acceptance.
	AcceptThreshold float64 `mapstructure:"accept_threshold" validate:"min=0,max=1"`
}

// GenerationConfig holds the regeneration and retry policy.
type GenerationConfig struct {
	// MaxRegenerations is the number of additional attempts after the first.
	MaxRegenerations int `mapstructure:"max_regenerations" validate:"min=0,max=10"`

	// MaxRetries is the number of tries per generative call.
	MaxRetries int `mapstructure:"max_retries" validate:"min=1"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"min=0"`

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `mapstructure:"max_backoff" validate:"min=0"`

	// BackoffMultiplier grows the delay between retries.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" validate:"min=1"`

	// PersistChapters stores accepted chapters in the story repository.
	PersistChapters bool `mapstructure:"persist_chapters"`
}

// ExtractionConfig holds memory extraction settings.
type ExtractionConfig struct {
	// Strategy is heuristic (rule-based) or model (generative service).
	Strategy string `mapstructure:"strategy" validate:"oneof=heuristic model"`

	// RetryWorkers is the size of the async retry pool.
	RetryWorkers int `mapstructure:"retry_workers" validate:"min=1"`

	// RetryQueueSize bounds pending retries.
	RetryQueueSize int `mapstructure:"retry_queue_size" validate:"min=1"`

	// MaxAttempts is the number of async retries per failed extraction.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1"`

	// RetryDelay is the pause before each async retry.
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"min=0"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Env: %s, Storage: %s, Provider: %s}",
		c.App.Name, c.App.Environment, c.Storage.Type, c.Provider.Type)
}
