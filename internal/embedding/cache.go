package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	cerr "github.com/hyperjump/contaluz/pkg/errors"
	"github.com/hyperjump/contaluz/pkg/utils"
	"go.uber.org/zap"
)

const (
	cacheFilePrefix  = "embeddings_cache_"
	cacheFilePattern = cacheFilePrefix + "*.json"
)

// CacheEntry is one cached embedding as written to a snapshot file.
type CacheEntry struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// EmbeddingCache is a content-addressed, persistent map from (text, model) to embedding.
// Entries are only ever added. New entries stay pending until Flush writes them to a fresh
// snapshot file in dir; Load merges every snapshot file found there. With an empty dir the
// cache lives in memory only.
type EmbeddingCache struct {
	dir     string
	logger  *zap.Logger
	entries map[string]CacheEntry
	pending map[string]struct{}
	mu      sync.RWMutex
	flushMu sync.Mutex
}

// CacheOption configures an EmbeddingCache.
type CacheOption func(*EmbeddingCache)

// WithCacheLogger sets the logger used for flush and load failures.
func WithCacheLogger(l *zap.Logger) CacheOption {
	return func(c *EmbeddingCache) { c.logger = l }
}

// NewEmbeddingCache creates an empty cache backed by dir. Call Load to read existing snapshots.
func NewEmbeddingCache(dir string, opts ...CacheOption) *EmbeddingCache {
	c := &EmbeddingCache{
		dir:     dir,
		entries: make(map[string]CacheEntry),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrNop(c.logger)
	return c
}

// CacheKey returns hex(sha256(text)) + "_" + model. Callers normalize text beforehand.
func CacheKey(text, model string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]) + "_" + model
}

// Get returns a copy of the cached embedding for text under model.
func (c *EmbeddingCache) Get(text, model string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[CacheKey(text, model)]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(e.Embedding))
	copy(out, e.Embedding)
	return out, true
}

// Put stores vec for text under model and reports whether the key was new. Zero vectors are
// never stored, and an existing key keeps its first value.
func (c *EmbeddingCache) Put(text, model string, vec []float32) bool {
	if len(vec) == 0 || utils.IsZeroVector(vec) {
		return false
	}
	key := CacheKey(text, model)
	stored := make([]float32, len(vec))
	copy(stored, vec)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = CacheEntry{Embedding: stored, Model: model, Timestamp: time.Now().UTC()}
	if c.dir != "" {
		c.pending[key] = struct{}{}
	}
	return true
}

// Len returns the number of cached embeddings.
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Pending returns the number of entries not yet written to disk.
func (c *EmbeddingCache) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// Flush writes all pending entries to a new snapshot file. On failure the entries stay
// pending for the next flush; the error is logged and returned for information only.
func (c *EmbeddingCache) Flush() error {
	if c.dir == "" {
		return nil
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.RLock()
	batch := make(map[string]CacheEntry, len(c.pending))
	for key := range c.pending {
		batch[key] = c.entries[key]
	}
	c.mu.RUnlock()
	if len(batch) == 0 {
		return nil
	}

	path := filepath.Join(c.dir, cacheFilePrefix+uuid.New().String()+".json")
	if err := writeCacheFile(path, batch); err != nil {
		c.logger.Warn("embedding cache flush failed",
			zap.String("path", path), zap.Int("entries", len(batch)), zap.Error(err))
		return cerr.Wrap(err, cerr.CodeCacheIOFailure, "flush embedding cache",
			cerr.FieldOperation("flush"), cerr.Field("path", path))
	}

	c.mu.Lock()
	for key := range batch {
		delete(c.pending, key)
	}
	c.mu.Unlock()
	c.logger.Debug("embedding cache flushed", zap.String("path", path), zap.Int("entries", len(batch)))
	return nil
}

func writeCacheFile(path string, batch map[string]CacheEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Load merges every snapshot file in the cache directory and returns the number of entries
// added. Unreadable or malformed files are logged and skipped. Loaded entries are already
// durable and are not marked pending.
func (c *EmbeddingCache) Load() int {
	if c.dir == "" {
		return 0
	}
	matches, err := doublestar.Glob(os.DirFS(c.dir), cacheFilePattern)
	if err != nil {
		c.logger.Warn("embedding cache glob failed", zap.String("dir", c.dir), zap.Error(err))
		return 0
	}
	added := 0
	for _, name := range matches {
		path := filepath.Join(c.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("skipping unreadable cache file", zap.String("path", path), zap.Error(err))
			continue
		}
		var batch map[string]CacheEntry
		if err := json.Unmarshal(data, &batch); err != nil {
			c.logger.Warn("skipping malformed cache file", zap.String("path", path), zap.Error(err))
			continue
		}
		added += c.merge(batch)
	}
	c.logger.Debug("embedding cache loaded",
		zap.String("dir", c.dir), zap.Int("files", len(matches)), zap.Int("added", added))
	return added
}

func (c *EmbeddingCache) merge(batch map[string]CacheEntry) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := 0
	for key, e := range batch {
		if len(e.Embedding) == 0 || utils.IsZeroVector(e.Embedding) {
			continue
		}
		if _, exists := c.entries[key]; exists {
			continue
		}
		c.entries[key] = e
		added++
	}
	return added
}
