package config

import (
	"time"

	"github.com/hyperjump/contaluz/internal/embedding"
	"github.com/hyperjump/contaluz/internal/ingest"
	"github.com/hyperjump/contaluz/internal/search"
	"github.com/hyperjump/contaluz/internal/vector"
)

const dataRoot = "/usr/local/var/contaluz/data"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = dataRoot + "/db/records.db"
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = dataRoot + "/indices"
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = dataRoot + "/cache"
	}
	if cfg.Storage.RegistryPath == "" {
		cfg.Storage.RegistryPath = dataRoot + "/indices/registry.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderOpenAI
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case ProviderONNX:
			cfg.Embedding.Model = "all-MiniLM-L6-v2"
		case ProviderMock:
			cfg.Embedding.Model = "mock"
		default:
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		switch cfg.Embedding.Provider {
		case ProviderOpenAI:
			cfg.Embedding.Dimensions = 1536
		default:
			cfg.Embedding.Dimensions = 384
		}
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = embedding.DefaultTimeout
	}
	if cfg.Embedding.MaxBatchSize == 0 {
		cfg.Embedding.MaxBatchSize = embedding.DefaultMaxBatchSize
	}
	if cfg.Embedding.FlushEvery == 0 {
		cfg.Embedding.FlushEvery = embedding.DefaultFlushEvery
	}
	if cfg.Embedding.FailurePolicy == "" {
		cfg.Embedding.FailurePolicy = string(embedding.FailurePolicyDegrade)
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Index.DefaultID == "" {
		cfg.Index.DefaultID = search.DefaultIndexID
	}
	if cfg.Index.Kind == "" {
		cfg.Index.Kind = string(vector.KindFlat)
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = string(vector.BackendNative)
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 5
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Ingest.Patterns == nil {
		if cfg.Ingest.RecursiveOrDefault() {
			cfg.Ingest.Patterns = append([]string(nil), ingest.DefaultPatterns...)
		} else {
			cfg.Ingest.Patterns = []string{"*.json"}
		}
	}
	if cfg.Ingest.EnvFiles == nil {
		cfg.Ingest.EnvFiles = []string{"./.env"}
	}
}
