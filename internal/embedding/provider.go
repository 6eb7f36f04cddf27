package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	cerr "github.com/hyperjump/contaluz/pkg/errors"
	"github.com/hyperjump/contaluz/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxBatchSize = 100
	DefaultTimeout      = 30 * time.Second
	DefaultFlushEvery   = 10
)

// FailurePolicy decides what happens to texts the provider could not embed.
type FailurePolicy string

const (
	// FailurePolicyDegrade substitutes zero vectors and logs a warning.
	FailurePolicyDegrade FailurePolicy = "degrade"
	// FailurePolicyStrict returns the provider error to the caller.
	FailurePolicyStrict FailurePolicy = "strict"
)

// ParseFailurePolicy accepts "degrade", "strict", or "" (degrade).
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailurePolicyDegrade:
		return FailurePolicyDegrade, nil
	case FailurePolicyStrict:
		return FailurePolicyStrict, nil
	}
	return "", cerr.Errorf(cerr.CodeProviderConfigInvalid, "unknown failure policy %q", s)
}

// BatchResult is the outcome of EmbedBatchResult. Degraded lists, in ascending order, the
// positions that hold zero vectors because the provider failed for them.
type BatchResult struct {
	Vectors  [][]float32
	Degraded []int
}

// IsDegraded reports whether position i holds a substituted zero vector.
func (r *BatchResult) IsDegraded(i int) bool {
	for _, d := range r.Degraded {
		if d == i {
			return true
		}
	}
	return false
}

// Provider embeds text cache-first. Misses are de-duplicated and sent to the client in chunks,
// each chunk bounded by a timeout. New cache entries are flushed in the background every
// flushEvery additions.
type Provider struct {
	client       Client
	cache        *EmbeddingCache
	model        string
	dimensions   int
	maxBatchSize int
	timeout      time.Duration
	flushEvery   int
	policy       FailurePolicy
	logger       *zap.Logger

	group      singleflight.Group
	mu         sync.Mutex
	sinceFlush int
	flushing   bool
	flushWG    sync.WaitGroup
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the logger for degraded batches and flush activity.
func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// WithMaxBatchSize caps the number of texts per provider request.
func WithMaxBatchSize(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.maxBatchSize = n
		}
	}
}

// WithTimeout bounds every provider request.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithFlushEvery sets how many new cache entries trigger a background flush.
func WithFlushEvery(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.flushEvery = n
		}
	}
}

// WithFailurePolicy selects degrade or strict handling of provider failures.
func WithFailurePolicy(policy FailurePolicy) ProviderOption {
	return func(p *Provider) {
		if policy != "" {
			p.policy = policy
		}
	}
}

// NewProvider creates a provider for model producing vectors of the given dimensions. cache may
// be nil, in which case a memory-only cache is used.
func NewProvider(client Client, cache *EmbeddingCache, model string, dimensions int, opts ...ProviderOption) (*Provider, error) {
	if client == nil {
		return nil, cerr.New(cerr.CodeProviderConfigInvalid, "embedding client is required")
	}
	if model == "" {
		return nil, cerr.New(cerr.CodeProviderConfigInvalid, "embedding model is required")
	}
	if dimensions <= 0 {
		return nil, cerr.Errorf(cerr.CodeProviderConfigInvalid, "embedding dimensions must be positive, got %d", dimensions)
	}
	p := &Provider{
		client:       client,
		cache:        cache,
		model:        model,
		dimensions:   dimensions,
		maxBatchSize: DefaultMaxBatchSize,
		timeout:      DefaultTimeout,
		flushEvery:   DefaultFlushEvery,
		policy:       FailurePolicyDegrade,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = NewEmbeddingCache("")
	}
	if _, err := ParseFailurePolicy(string(p.policy)); err != nil {
		return nil, err
	}
	p.logger = utils.OrNop(p.logger)
	return p, nil
}

func (p *Provider) Model() string          { return p.model }
func (p *Provider) Dimensions() int        { return p.dimensions }
func (p *Provider) Policy() FailurePolicy  { return p.policy }
func (p *Provider) Cache() *EmbeddingCache { return p.cache }

// Embed returns the embedding of one text. Concurrent calls for the same text share a single
// provider request. Under the degrade policy a failed request yields a zero vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := p.cache.Get(text, p.model); ok {
		return vec, nil
	}
	v, err, _ := p.group.Do(CacheKey(text, p.model), func() (interface{}, error) {
		res, err := p.EmbedBatchResult(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return res.Vectors[0], nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]float32)
	out := make([]float32, len(shared))
	copy(out, shared)
	return out, nil
}

// EmbedBatch returns one vector per text in input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	res, err := p.EmbedBatchResult(ctx, texts)
	if err != nil {
		return nil, err
	}
	return res.Vectors, nil
}

// EmbedBatchResult is EmbedBatch that also reports which positions were degraded.
func (p *Provider) EmbedBatchResult(ctx context.Context, texts []string) (*BatchResult, error) {
	res := &BatchResult{Vectors: make([][]float32, len(texts))}
	positions := make(map[string][]int)
	var misses []string
	for i, text := range texts {
		if vec, ok := p.cache.Get(text, p.model); ok {
			res.Vectors[i] = vec
			continue
		}
		if _, seen := positions[text]; !seen {
			misses = append(misses, text)
		}
		positions[text] = append(positions[text], i)
	}

	added := 0
	for start := 0; start < len(misses); start += p.maxBatchSize {
		end := start + p.maxBatchSize
		if end > len(misses) {
			end = len(misses)
		}
		chunk := misses[start:end]
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vecs, err := p.request(ctx, chunk)
		if err != nil {
			if p.policy == FailurePolicyStrict {
				return nil, err
			}
			p.logger.Warn("embedding provider failed, substituting zero vectors",
				zap.String("model", p.model), zap.Int("texts", len(chunk)), zap.Error(err))
			for _, text := range chunk {
				for _, i := range positions[text] {
					res.Vectors[i] = make([]float32, p.dimensions)
					res.Degraded = append(res.Degraded, i)
				}
			}
			continue
		}
		for j, text := range chunk {
			if p.cache.Put(text, p.model, vecs[j]) {
				added++
			}
			for n, i := range positions[text] {
				if n == 0 {
					res.Vectors[i] = vecs[j]
					continue
				}
				dup := make([]float32, len(vecs[j]))
				copy(dup, vecs[j])
				res.Vectors[i] = dup
			}
		}
	}
	sort.Ints(res.Degraded)
	p.noteAdded(added)
	return res, nil
}

// request sends one chunk and validates the response shape.
func (p *Provider) request(ctx context.Context, chunk []string) ([][]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vecs, err := p.client.Embed(cctx, p.model, chunk)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded):
			return nil, cerr.Wrap(err, cerr.CodeProviderTimeout, fmt.Sprintf("embedding request exceeded %s", p.timeout),
				cerr.FieldModel(p.model))
		case cerr.IsProviderFailure(err):
			return nil, err
		default:
			return nil, cerr.Wrap(err, cerr.CodeProviderUnavailable, "embedding request failed", cerr.FieldModel(p.model))
		}
	}
	if len(vecs) != len(chunk) {
		return nil, cerr.Errorf(cerr.CodeProviderResponseInvalid,
			"provider returned %d vectors for %d texts", len(vecs), len(chunk))
	}
	for _, v := range vecs {
		if len(v) != p.dimensions {
			return nil, cerr.Errorf(cerr.CodeProviderResponseInvalid,
				"provider returned a %d-dimensional vector, expected %d", len(v), p.dimensions)
		}
	}
	return vecs, nil
}

// noteAdded counts new cache entries and starts a background flush once flushEvery is reached.
// At most one background flush runs at a time.
func (p *Provider) noteAdded(n int) {
	if n == 0 {
		return
	}
	p.mu.Lock()
	p.sinceFlush += n
	if p.sinceFlush < p.flushEvery || p.flushing {
		p.mu.Unlock()
		return
	}
	p.sinceFlush = 0
	p.flushing = true
	p.flushWG.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.flushWG.Done()
		_ = p.cache.Flush()
		p.mu.Lock()
		p.flushing = false
		p.mu.Unlock()
	}()
}

// Close waits for a running flush, flushes what is left, and closes the client.
func (p *Provider) Close() error {
	p.flushWG.Wait()
	if err := p.cache.Flush(); err != nil {
		p.logger.Warn("final embedding cache flush failed", zap.Error(err))
	}
	return p.client.Close()
}
