// Package config loads the contaluz YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/contaluz/internal/embedding"
	"github.com/hyperjump/contaluz/internal/vector"
	cerr "github.com/hyperjump/contaluz/pkg/errors"
)

// Embedding provider names.
const (
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Watch runs the ingest directory watcher alongside the server.
	Watch bool `yaml:"watch"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the on-disk locations.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexDir     string `yaml:"index_dir"`
	CacheDir     string `yaml:"cache_dir"`
	RegistryPath string `yaml:"registry_path"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	Dimensions    int           `yaml:"dimensions"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
	FlushEvery    int           `yaml:"flush_every"`
	FailurePolicy string        `yaml:"failure_policy"`
	// ModelPath and MaxTokens apply to the onnx provider.
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`
}

// APIKey reads the provider key from the configured environment variable.
func (e EmbeddingConfig) APIKey() string {
	return os.Getenv(e.APIKeyEnv)
}

// IndexConfig describes the default vector index.
type IndexConfig struct {
	DefaultID string        `yaml:"default_id"`
	Kind      string        `yaml:"kind"`
	Backend   string        `yaml:"backend"`
	Params    vector.Params `yaml:"params"`
}

// SearchConfig holds result limits and the exact lookup switch.
type SearchConfig struct {
	DefaultLimit int   `yaml:"default_limit"`
	MaxLimit     int   `yaml:"max_limit"`
	ExactMatch   *bool `yaml:"exact_match"`
}

// ExactMatchOrDefault returns whether exact lookups run; defaults to true when unset.
func (s *SearchConfig) ExactMatchOrDefault() bool {
	if s.ExactMatch != nil {
		return *s.ExactMatch
	}
	return true
}

// IngestConfig holds the bill directories and file selection.
type IngestConfig struct {
	Directories []string `yaml:"directories"`
	Patterns    []string `yaml:"patterns"`
	Recursive   *bool    `yaml:"recursive"`
	EnvFiles    []string `yaml:"env_files"`
}

// RecursiveOrDefault returns whether to descend into subdirectories; defaults to true when unset.
func (i *IngestConfig) RecursiveOrDefault() bool {
	if i.Recursive != nil {
		return *i.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, expands paths and loads
// the configured .env files. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.Wrap(err, cerr.CodeConfigLoadReadFailure, "failed to read config", cerr.Field("path", path))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cerr.Wrap(err, cerr.CodeConfigParseInvalidFormat, "failed to parse config", cerr.Field("path", path))
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	cfg.Storage.CacheDir = expandPath(cfg.Storage.CacheDir, configDir)
	cfg.Storage.RegistryPath = expandPath(cfg.Storage.RegistryPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Ingest.Directories {
		cfg.Ingest.Directories[i] = expandPath(cfg.Ingest.Directories[i], configDir)
	}
	for i := range cfg.Ingest.EnvFiles {
		cfg.Ingest.EnvFiles[i] = expandPath(cfg.Ingest.EnvFiles[i], configDir)
	}

	if err := LoadEnv(cfg.Ingest.EnvFiles); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv loads the given .env files into the process environment. Variables already set are
// kept, and missing files are skipped.
func LoadEnv(files []string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return cerr.Wrap(err, cerr.CodeConfigParseInvalidFormat, "failed to load env files")
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() []error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, cerr.Errorf(cerr.CodeConfigValidateInvalidValue, format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		invalid("server.port %d out of range", c.Server.Port)
	}
	switch c.Embedding.Provider {
	case ProviderOpenAI:
		if c.Embedding.APIKey() == "" {
			invalid("embedding.api_key_env: %s is not set", c.Embedding.APIKeyEnv)
		}
	case ProviderONNX:
		if c.Embedding.ModelPath == "" {
			invalid("embedding.model_path is required for the onnx provider")
		}
	case ProviderMock:
	default:
		invalid("embedding.provider %q unknown (supported: openai, onnx, mock)", c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		invalid("embedding.model is required")
	}
	if c.Embedding.Dimensions <= 0 {
		invalid("embedding.dimensions must be positive")
	}
	if c.Embedding.Timeout <= 0 {
		invalid("embedding.timeout must be positive")
	}
	if c.Embedding.MaxBatchSize <= 0 {
		invalid("embedding.max_batch_size must be positive")
	}
	if _, err := embedding.ParseFailurePolicy(c.Embedding.FailurePolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := vector.ParseKind(c.Index.Kind); err != nil {
		errs = append(errs, err)
	}
	if _, err := vector.ParseBackend(c.Index.Backend); err != nil {
		errs = append(errs, err)
	}
	if c.Search.DefaultLimit > c.Search.MaxLimit {
		invalid("search.default_limit %d exceeds search.max_limit %d", c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	for _, p := range c.Ingest.Patterns {
		if strings.TrimSpace(p) == "" {
			invalid("ingest.patterns contains an empty pattern")
		}
	}
	return errs
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
