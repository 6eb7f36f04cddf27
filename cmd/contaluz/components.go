package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/contaluz/internal/config"
	"github.com/hyperjump/contaluz/internal/embedding"
	"github.com/hyperjump/contaluz/internal/indexstore"
	"github.com/hyperjump/contaluz/internal/ingest"
	"github.com/hyperjump/contaluz/internal/search"
	"github.com/hyperjump/contaluz/internal/storage"
	"github.com/hyperjump/contaluz/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Config   *config.Config
	Logger   *zap.Logger
	Cache    *embedding.EmbeddingCache
	Provider *embedding.Provider
	Indices  *indexstore.Store
	Docs     *storage.SQLiteStore
	Search   *search.Orchestrator
}

// Close persists indices rebuilt during this run, flushes the embedding cache and releases
// the stores.
func (c *Components) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if c.Indices != nil {
		if failed := c.Indices.PersistBuilt(ctx); len(failed) > 0 {
			c.Logger.Warn("indices not persisted", zap.Strings("index_ids", failed))
		}
		_ = c.Indices.Close()
	}
	if c.Provider != nil {
		if err := c.Provider.Close(); err != nil {
			c.Logger.Warn("embedding cache flush failed", zap.Error(err))
		}
	}
	if c.Docs != nil {
		_ = c.Docs.Close()
	}
}

// NewIngester builds an ingester over the components' store and orchestrator.
func (c *Components) NewIngester(opts ...ingest.IngesterOption) *ingest.Ingester {
	patterns := c.Config.Ingest.Patterns
	opts = append([]ingest.IngesterOption{
		ingest.WithLogger(c.Logger),
		ingest.WithPatterns(patterns...),
	}, opts...)
	return ingest.NewIngester(c.Docs, c.Search, opts...)
}

func newEmbeddingClient(cfg config.EmbeddingConfig) (embedding.Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return embedding.NewOpenAIClient(embedding.OpenAIConfig{
			APIKey:     cfg.APIKey(),
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case config.ProviderONNX:
		return embedding.NewONNXClient(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case config.ProviderMock:
		return embedding.NewMockClient(cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, err := range errs {
			logger.Error("invalid config", zap.Error(err))
		}
		return nil, fmt.Errorf("invalid config: %w", errs[0])
	}
	c := &Components{Config: cfg, Logger: logger}

	client, err := newEmbeddingClient(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	policy, err := embedding.ParseFailurePolicy(cfg.Embedding.FailurePolicy)
	if err != nil {
		return nil, err
	}
	c.Cache = embedding.NewEmbeddingCache(cfg.Storage.CacheDir, embedding.WithCacheLogger(logger))
	loaded := c.Cache.Load()
	c.Provider, err = embedding.NewProvider(client, c.Cache, cfg.Embedding.Model, cfg.Embedding.Dimensions,
		embedding.WithLogger(logger),
		embedding.WithMaxBatchSize(cfg.Embedding.MaxBatchSize),
		embedding.WithTimeout(cfg.Embedding.Timeout),
		embedding.WithFlushEvery(cfg.Embedding.FlushEvery),
		embedding.WithFailurePolicy(policy),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Int("cached", loaded))

	backend, err := vector.ParseBackend(cfg.Index.Backend)
	if err != nil {
		c.Close()
		return nil, err
	}
	kind, err := vector.ParseKind(cfg.Index.Kind)
	if err != nil {
		c.Close()
		return nil, err
	}
	registry, err := indexstore.OpenRegistry(cfg.Storage.RegistryPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open index registry: %w", err)
	}
	c.Indices, err = indexstore.New(cfg.Storage.IndexDir, registry,
		indexstore.WithLogger(logger),
		indexstore.WithDefaultBackend(backend),
	)
	if err != nil {
		_ = registry.Close()
		c.Close()
		return nil, fmt.Errorf("failed to initialize index store: %w", err)
	}
	restored := c.Indices.LoadAll(context.Background())
	logger.Info("vector indices restored", zap.Int("count", restored), zap.Bool("faiss_available", vector.IsFAISSAvailable()))

	c.Docs, err = storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	c.Search = search.New(c.Provider, c.Indices, c.Docs,
		search.WithLogger(logger),
		search.WithDefaultIndex(cfg.Index.DefaultID, kind, cfg.Index.Params),
		search.WithLimits(cfg.Search.DefaultLimit, cfg.Search.MaxLimit),
		search.WithExactMatch(cfg.Search.ExactMatchOrDefault()),
	)
	return c, nil
}
