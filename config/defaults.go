package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "storyloom",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  1 << 28, // 256MB
				NumVersionsToKeep: 1,
			},
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			Password:  "",
			DB:        0,
			KeyPrefix: "storyloom:",
		},
		Lock: LockConfig{
			Backend: "local",
			TTL:     2 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "otlp",
			Endpoint:     "localhost:4317",
			Timeout:      10 * time.Second,
			Sampler:      "parentbased_traceidratio",
			SamplerRatio: 0.1,
		},
		Provider: ProviderConfig{
			Type:           "static",
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Temperature:    0.8,
			MaxTokens:      4096,
			RateLimit:      2,
			Burst:          4,
		},
		Timeouts: TimeoutsConfig{
			Embedding:  800 * time.Millisecond,
			Generation: 45 * time.Second,
		},
		Memory: MemoryConfig{
			VectorDimension:    256,
			L1CacheSize:        1000,
			MaxEntriesPerStory: 0,
		},
		Ranking: RankingConfig{
			SimilarityWeight: 0.6,
			ImportanceWeight: 0.3,
			RecencyWeight:    0.1,
		},
		Retrieval: RetrievalConfig{
			TopK:          10,
			MinImportance: 0,
		},
		Assembly: AssemblyConfig{
			RecentWindow:        5,
			BudgetUnit:          "chars",
			DefaultBudget:       12000,
			ImplicatingMemories: 3,
		},
		Coherence: CoherenceConfig{
			CharacterWeight: 0.3,
			PlotWeight:      0.4,
			WorldWeight:     0.2,
			TemporalWeight:  0.1,
			AxisThreshold:   0.7,
			AcceptThreshold: 0.8,
		},
		Generation: GenerationConfig{
			MaxRegenerations:  2,
			MaxRetries:        3,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        8 * time.Second,
			BackoffMultiplier: 2.0,
			PersistChapters:   true,
		},
		Extraction: ExtractionConfig{
			Strategy:       "heuristic",
			RetryWorkers:   2,
			RetryQueueSize: 64,
			MaxAttempts:    3,
			RetryDelay:     2 * time.Second,
		},
	}
}
