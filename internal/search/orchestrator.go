// Package search answers retrieval queries: an exact structured lookup when the query is an
// identifier, otherwise embedding similarity over the default index with equality filters.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/contaluz/internal/embedding"
	"github.com/hyperjump/contaluz/internal/indexstore"
	"github.com/hyperjump/contaluz/internal/models"
	"github.com/hyperjump/contaluz/internal/storage"
	"github.com/hyperjump/contaluz/internal/vector"
	cerr "github.com/hyperjump/contaluz/pkg/errors"
	"github.com/hyperjump/contaluz/pkg/utils"
)

const (
	DefaultIndexID = "default"

	clientFallbackK  = 5
	invoiceFallbackK = 20
)

// Embedder is the part of embedding.Provider the orchestrator uses.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatchResult(ctx context.Context, texts []string) (*embedding.BatchResult, error)
	Model() string
	Dimensions() int
}

// ProgressFunc reports how many of total records have been embedded.
type ProgressFunc func(done, total int)

// Orchestrator composes the embedding provider, the index store and the document store.
type Orchestrator struct {
	embedder     Embedder
	indices      *indexstore.Store
	docs         storage.DocumentStore
	logger       *zap.Logger
	indexID      string
	kind         vector.Kind
	params       vector.Params
	defaultLimit int
	maxLimit     int
	exactMatch   bool
	rules        []ExactRule
	embedChunk   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithDefaultIndex sets the index searched when a query names none, and the kind and params
// used when RebuildIndex or IndexRecords has to create it.
func WithDefaultIndex(id string, kind vector.Kind, params vector.Params) Option {
	return func(o *Orchestrator) {
		if id != "" {
			o.indexID = id
		}
		o.kind = kind
		o.params = params
	}
}

// WithLimits sets the result count used when a query gives none and the upper bound.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(o *Orchestrator) {
		if defaultLimit > 0 {
			o.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			o.maxLimit = maxLimit
		}
	}
}

// WithExactMatch enables or disables the exact lookup tier.
func WithExactMatch(enabled bool) Option {
	return func(o *Orchestrator) { o.exactMatch = enabled }
}

// WithExactRules replaces the default exact lookup rules.
func WithExactRules(rules []ExactRule) Option {
	return func(o *Orchestrator) { o.rules = rules }
}

// New creates an orchestrator.
func New(embedder Embedder, indices *indexstore.Store, docs storage.DocumentStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		embedder:     embedder,
		indices:      indices,
		docs:         docs,
		indexID:      DefaultIndexID,
		kind:         vector.KindFlat,
		defaultLimit: models.DefaultSearchLimit,
		maxLimit:     models.MaxSearchLimit,
		exactMatch:   true,
		rules:        DefaultExactRules(),
		embedChunk:   256,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = utils.OrNop(o.logger)
	if o.defaultLimit > o.maxLimit {
		o.defaultLimit = o.maxLimit
	}
	return o
}

// DefaultIndexID returns the id of the index searched by default.
func (o *Orchestrator) DefaultIndexID() string { return o.indexID }

// EmbeddingModel returns the model name of the embedder.
func (o *Orchestrator) EmbeddingModel() string { return o.embedder.Model() }

// Search runs the two-tier lookup. Semantic hits keep the index ranking; filtering drops hits
// but never reorders them, and a record reached through several slots is reported once.
func (o *Orchestrator) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	q.Query = strings.TrimSpace(q.Query)
	if q.K <= 0 {
		q.K = o.defaultLimit
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.K > o.maxLimit {
		q.K = o.maxLimit
	}
	indexID := q.IndexID
	if indexID == "" {
		indexID = o.indexID
	}
	resp := &models.SearchResponse{Query: q.Query, IndexID: indexID, Hits: []*models.SearchHit{}}
	defer func() { resp.QueryTime = time.Since(start).Milliseconds() }()

	if o.exactMatch && !q.SkipExact {
		if hit, ok := o.exactLookup(ctx, q); ok {
			resp.Hits = append(resp.Hits, hit)
			resp.Total = 1
			resp.Exact = true
			return resp, nil
		}
	}

	vec, err := o.embedder.Embed(ctx, utils.NormalizeText(q.Query))
	if err != nil {
		return nil, err
	}
	if utils.IsZeroVector(vec) {
		o.logger.Warn("query embedding degraded, returning no semantic results", zap.String("index_id", indexID))
		resp.Degraded = true
		return resp, nil
	}

	matches, err := o.indices.SearchDocuments(ctx, indexID, vec, q.K)
	if err != nil {
		if cerr.IsNotFound(err) {
			o.logger.Debug("search on missing index", zap.String("index_id", indexID))
			return resp, nil
		}
		return nil, err
	}

	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if m.Record == nil || !q.Filter.Matches(m.Record) {
			continue
		}
		id := m.Record.RecordID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		resp.Hits = append(resp.Hits, &models.SearchHit{
			Record:     m.Record,
			Similarity: vector.Similarity(m.Distance),
			Distance:   m.Distance,
			Slot:       m.Slot,
			Rank:       len(resp.Hits) + 1,
			Source:     models.SourceSemantic,
		})
	}
	resp.Total = len(resp.Hits)
	return resp, nil
}

// exactLookup tries each rule in order. Store errors are logged and treated as a miss, since
// the semantic tier can still answer.
func (o *Orchestrator) exactLookup(ctx context.Context, q *models.SearchQuery) (*models.SearchHit, bool) {
	for _, rule := range o.rules {
		value, ok := rule.Match(q.Query)
		if !ok {
			continue
		}
		rec, found, err := o.docs.FindExact(ctx, rule.Type, rule.Field, value)
		if err != nil {
			o.logger.Warn("exact lookup failed",
				zap.String("rule", rule.Name), zap.String("field", rule.Field), zap.Error(err))
			continue
		}
		if !found || !q.Filter.Matches(rec) {
			continue
		}
		o.logger.Debug("exact lookup hit", zap.String("rule", rule.Name), zap.String("record_id", rec.RecordID()))
		return &models.SearchHit{
			Record:     rec,
			Similarity: 1,
			Slot:       -1,
			Rank:       1,
			Source:     models.SourceExact,
		}, true
	}
	return nil, false
}

// Embed returns the embedding of text after normalization.
func (o *Orchestrator) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, cerr.New(cerr.CodeSearchQueryInvalid, "text cannot be empty")
	}
	return o.embedder.Embed(ctx, utils.NormalizeText(text))
}

// RebuildResult summarizes an index rebuild or an incremental append.
type RebuildResult struct {
	IndexID  string        `json:"index_id"`
	Indexed  int           `json:"indexed"`
	Degraded int           `json:"degraded"`
	Duration time.Duration `json:"duration"`
}

// RebuildIndex empties the default index (creating it if needed) and fills it with records.
// Records whose embedding degraded to a zero vector are left out so they cannot pollute the
// ranking; they are counted in the result.
func (o *Orchestrator) RebuildIndex(ctx context.Context, records []models.Record, progress ProgressFunc) (*RebuildResult, error) {
	return o.RebuildNamedIndex(ctx, o.indexID, records, progress)
}

// RebuildNamedIndex is RebuildIndex for an arbitrary index id.
func (o *Orchestrator) RebuildNamedIndex(ctx context.Context, indexID string, records []models.Record, progress ProgressFunc) (*RebuildResult, error) {
	start := time.Now()
	if err := o.ensureIndex(indexID); err != nil {
		return nil, err
	}
	vectors, mapping, degraded, err := o.embedRecords(ctx, records, progress)
	if err != nil {
		return nil, err
	}
	if err := o.indices.Replace(ctx, indexID, vectors, mapping); err != nil {
		return nil, err
	}
	res := &RebuildResult{IndexID: indexID, Indexed: len(vectors), Degraded: degraded, Duration: time.Since(start)}
	o.logger.Info("index rebuilt",
		zap.String("index_id", indexID), zap.Int("indexed", res.Indexed),
		zap.Int("degraded", degraded), zap.Duration("duration", res.Duration))
	return res, nil
}

// RebuildFromStore rebuilds indexID (the default index when empty) from every record in the
// document store.
func (o *Orchestrator) RebuildFromStore(ctx context.Context, indexID string, progress ProgressFunc) (*RebuildResult, error) {
	if indexID == "" {
		indexID = o.indexID
	}
	records, err := o.docs.All(ctx)
	if err != nil {
		return nil, err
	}
	return o.RebuildNamedIndex(ctx, indexID, records, progress)
}

// IndexRecords appends records to the default index, creating it if needed.
func (o *Orchestrator) IndexRecords(ctx context.Context, records []models.Record) (*RebuildResult, error) {
	start := time.Now()
	if err := o.ensureIndex(o.indexID); err != nil {
		return nil, err
	}
	vectors, mapping, degraded, err := o.embedRecords(ctx, records, nil)
	if err != nil {
		return nil, err
	}
	if err := o.indices.Add(ctx, o.indexID, vectors, mapping); err != nil {
		return nil, err
	}
	return &RebuildResult{IndexID: o.indexID, Indexed: len(vectors), Degraded: degraded, Duration: time.Since(start)}, nil
}

// UnindexRecords drops the default index slots of recordIDs so they stop resolving. A missing
// index has nothing to drop.
func (o *Orchestrator) UnindexRecords(ctx context.Context, recordIDs []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := o.indices.Unmap(o.indexID, recordIDs...)
	if cerr.IsNotFound(err) {
		return 0, nil
	}
	return n, err
}

func (o *Orchestrator) ensureIndex(id string) error {
	if _, ok := o.indices.Info(id); ok {
		return nil
	}
	_, err := o.indices.Create(id, indexstore.CreateOptions{
		Dimension:      o.embedder.Dimensions(),
		Kind:           o.kind,
		Params:         o.params,
		EmbeddingModel: o.embedder.Model(),
	})
	if cerr.IsConflict(err) {
		return nil
	}
	return err
}

// embedRecords embeds record texts in chunks and returns the vectors of the records that did
// not degrade, with a mapping from batch position to record.
func (o *Orchestrator) embedRecords(ctx context.Context, records []models.Record, progress ProgressFunc) ([][]float32, map[int]models.Record, int, error) {
	vectors := make([][]float32, 0, len(records))
	mapping := make(map[int]models.Record, len(records))
	degraded := 0
	for start := 0; start < len(records); start += o.embedChunk {
		end := start + o.embedChunk
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]
		texts := make([]string, len(chunk))
		for i, rec := range chunk {
			texts[i] = utils.NormalizeText(rec.Text())
		}
		res, err := o.embedder.EmbedBatchResult(ctx, texts)
		if err != nil {
			return nil, nil, 0, err
		}
		for i, rec := range chunk {
			if res.IsDegraded(i) || utils.IsZeroVector(res.Vectors[i]) {
				degraded++
				continue
			}
			mapping[len(vectors)] = rec
			vectors = append(vectors, res.Vectors[i])
		}
		if progress != nil {
			progress(end, len(records))
		}
	}
	if degraded > 0 {
		o.logger.Warn("records left out of the index after degraded embeddings", zap.Int("count", degraded))
	}
	return vectors, mapping, degraded, nil
}

// FindClientByNumber looks a client up by matricula in the document store, falling back to a
// filtered semantic search.
func (o *Orchestrator) FindClientByNumber(ctx context.Context, number string) (models.Record, bool, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, false, cerr.New(cerr.CodeSearchQueryInvalid, "client number cannot be empty")
	}
	rec, ok, err := o.docs.FindExact(ctx, models.RecordTypeClient, "matricula", number)
	if err != nil {
		o.logger.Warn("client lookup failed, trying semantic search", zap.Error(err))
	} else if ok {
		return rec, true, nil
	}

	resp, err := o.Search(ctx, &models.SearchQuery{
		Query:     fmt.Sprintf("Informações do cliente com matrícula %s", number),
		K:         clientFallbackK,
		Filter:    models.Filter{"tipo": string(models.RecordTypeClient), "matricula": number},
		SkipExact: true,
	})
	if err != nil {
		return nil, false, err
	}
	if len(resp.Hits) == 0 {
		return nil, false, nil
	}
	return resp.Hits[0].Record, true, nil
}

// InvoicesForClient lists a client's invoices from the document store, falling back to a
// filtered semantic search.
func (o *Orchestrator) InvoicesForClient(ctx context.Context, clientID string) ([]models.Record, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, cerr.New(cerr.CodeSearchQueryInvalid, "client id cannot be empty")
	}
	invoices, err := o.docs.ListByField(ctx, models.RecordTypeInvoice, "cliente_id", clientID)
	if err != nil {
		o.logger.Warn("invoice listing failed, trying semantic search", zap.Error(err))
	} else if len(invoices) > 0 {
		return invoices, nil
	}

	resp, err := o.Search(ctx, &models.SearchQuery{
		Query:     fmt.Sprintf("Faturas do cliente %s", clientID),
		K:         invoiceFallbackK,
		Filter:    models.Filter{"tipo": string(models.RecordTypeInvoice), "cliente_id": clientID},
		SkipExact: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		out = append(out, h.Record)
	}
	return out, nil
}
