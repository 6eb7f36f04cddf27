package indexstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/contaluz/internal/docmap"
	"github.com/hyperjump/contaluz/internal/models"
	"github.com/hyperjump/contaluz/internal/vector"
	cerr "github.com/hyperjump/contaluz/pkg/errors"
	"github.com/hyperjump/contaluz/pkg/utils"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{0,63}$`)

// Match is a search neighbour together with the record mapped to its slot, if any.
type Match struct {
	vector.Neighbor
	Record models.Record
}

// entry is one live index. Its lock guards engine, mapper and handle; removed is set when the
// index is unloaded so that callers holding a stale pointer see NotFound.
type entry struct {
	mu      sync.RWMutex
	handle  IndexHandle
	engine  vector.VectorIndex
	mapper  *docmap.Mapper
	removed bool
}

// Store owns the named indices of one process and their snapshot directory.
type Store struct {
	dir            string
	registry       *Registry
	defaultBackend vector.Backend
	logger         *zap.Logger

	mu      sync.Mutex
	indices map[string]*entry
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithDefaultBackend sets the backend used when CreateOptions.Backend is empty.
func WithDefaultBackend(b vector.Backend) Option {
	return func(s *Store) { s.defaultBackend = b }
}

// New creates a store writing snapshots under dir and versioning them in registry.
func New(dir string, registry *Registry, opts ...Option) (*Store, error) {
	if registry == nil {
		return nil, cerr.New(cerr.CodeIndexInvalidInput, "index registry is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, cerr.Wrap(err, cerr.CodeIndexPersistFailure, "create index directory", cerr.Field("dir", dir))
	}
	s := &Store{
		dir:            dir,
		registry:       registry,
		defaultBackend: vector.BackendNative,
		indices:        make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = utils.OrNop(s.logger)
	return s, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

// Registry returns the version registry.
func (s *Store) Registry() *Registry { return s.registry }

func (s *Store) get(id string) (*entry, error) {
	s.mu.Lock()
	e, ok := s.indices[id]
	s.mu.Unlock()
	if !ok {
		return nil, notFound(id)
	}
	return e, nil
}

func notFound(id string) error {
	return cerr.New(cerr.CodeIndexNotFound, "index not found", cerr.FieldIndexID(id))
}

// Create registers a new empty index.
func (s *Store) Create(id string, opts CreateOptions) (IndexHandle, error) {
	if !validID.MatchString(id) {
		return IndexHandle{}, cerr.Errorf(cerr.CodeIndexInvalidInput,
			"invalid index id %q: use letters, digits and '-'", id)
	}
	kind, err := vector.ParseKind(string(opts.Kind))
	if err != nil {
		return IndexHandle{}, err
	}
	backend := opts.Backend
	if backend == "" {
		backend = s.defaultBackend
	}
	if backend, err = vector.ParseBackend(string(backend)); err != nil {
		return IndexHandle{}, err
	}
	params := opts.Params.WithDefaults(kind)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.indices[id]; exists {
		return IndexHandle{}, cerr.New(cerr.CodeIndexAlreadyExists, "index already exists", cerr.FieldIndexID(id))
	}
	engine, err := vector.NewVectorIndex(backend, kind, opts.Dimension, params)
	if err != nil {
		return IndexHandle{}, err
	}
	name := opts.Name
	if name == "" {
		name = id
	}
	now := time.Now().UTC()
	e := &entry{
		handle: IndexHandle{
			ID:             id,
			Name:           name,
			Dimension:      opts.Dimension,
			Kind:           kind,
			Backend:        backend,
			Params:         params,
			EmbeddingModel: opts.EmbeddingModel,
			State:          StateEmpty,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		engine: engine,
		mapper: docmap.New(docmap.WithLogger(s.logger)),
	}
	s.indices[id] = e
	s.logger.Info("index created",
		zap.String("index_id", id), zap.String("kind", string(kind)),
		zap.String("backend", string(backend)), zap.Int("dimension", opts.Dimension))
	return e.handle, nil
}

// Add appends vectors to the index. mapping is keyed by position within vectors and is shifted
// by the current vector count before being merged. Slots already mapped to a record id present
// in mapping are unmapped first, so a re-added record resolves only through its new slot. The
// whole batch is rejected, leaving the index unchanged, if any vector has the wrong dimension
// or any mapping key falls outside the batch.
func (s *Store) Add(ctx context.Context, id string, vectors [][]float32, mapping map[int]models.Record) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	if err := checkMapping(vectors, mapping); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return notFound(id)
	}
	if err := e.checkDimensions(vectors); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	offset := e.engine.Size()
	if err := e.engine.Add(ctx, vectors); err != nil {
		return err
	}
	stale := e.mapper.Unmap(recordIDs(mapping)...)
	e.mapper.Merge(offset, mapping)
	e.touch(StateBuilt)
	s.logger.Debug("vectors added",
		zap.String("index_id", id), zap.Int("offset", offset),
		zap.Int("count", len(vectors)), zap.Int("unmapped", stale))
	return nil
}

// Replace swaps the contents of index id for vectors and mapping under one write lock, so
// concurrent searches see either the old index or the new one. mapping is keyed by slot. The
// same validation as Add applies and a rejected batch leaves the index unchanged.
func (s *Store) Replace(ctx context.Context, id string, vectors [][]float32, mapping map[int]models.Record) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	if err := checkMapping(vectors, mapping); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return notFound(id)
	}
	if err := e.checkDimensions(vectors); err != nil {
		return err
	}
	e.engine.Reset()
	e.mapper.Reset()
	state := StateEmpty
	if len(vectors) > 0 {
		if err := e.engine.Add(ctx, vectors); err != nil {
			e.touch(StateEmpty)
			return err
		}
		e.mapper.Merge(0, mapping)
		state = StateBuilt
	}
	e.touch(state)
	s.logger.Info("index replaced", zap.String("index_id", id), zap.Int("count", len(vectors)))
	return nil
}

// Unmap drops the slots of index id that resolve to one of recordIDs and returns how many
// were dropped. The vectors stay in the index until the next rebuild.
func (s *Store) Unmap(id string, recordIDs ...string) (int, error) {
	e, err := s.get(id)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return 0, notFound(id)
	}
	n := e.mapper.Unmap(recordIDs...)
	if n > 0 {
		e.touch(StateBuilt)
	}
	return n, nil
}

func checkMapping(vectors [][]float32, mapping map[int]models.Record) error {
	for local := range mapping {
		if local < 0 || local >= len(vectors) {
			return cerr.Errorf(cerr.CodeIndexInvalidInput,
				"mapping slot %d outside batch of %d vectors", local, len(vectors))
		}
	}
	return nil
}

func (e *entry) checkDimensions(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != e.handle.Dimension {
			return cerr.New(cerr.CodeIndexDimensionMismatch, "vector dimension mismatch",
				cerr.FieldIndexID(e.handle.ID), cerr.Field("position", i),
				cerr.Field("got", len(v)), cerr.Field("expected", e.handle.Dimension))
		}
	}
	return nil
}

// touch refreshes the handle counters after a mutation. Callers hold e.mu.
func (e *entry) touch(state State) {
	e.handle.VectorCount = e.engine.Size()
	e.handle.MappedCount = e.mapper.Len()
	e.handle.State = state
	e.handle.UpdatedAt = time.Now().UTC()
}

func recordIDs(mapping map[int]models.Record) []string {
	ids := make([]string, 0, len(mapping))
	for _, rec := range mapping {
		ids = append(ids, rec.RecordID())
	}
	return ids
}

// trainer is implemented by engines that need explicit training.
type trainer interface {
	Train(ctx context.Context, samples [][]float32) error
}

// Train trains an ivf index on samples ahead of its first Add. Other kinds need no training
// and return nil.
func (s *Store) Train(ctx context.Context, id string, samples [][]float32) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return notFound(id)
	}
	t, ok := e.engine.(trainer)
	if !ok {
		return nil
	}
	if err := t.Train(ctx, samples); err != nil {
		if cerr.CodeOf(err) != "" {
			return err
		}
		return cerr.Wrap(err, cerr.CodeIndexInvalidInput, "train index", cerr.FieldIndexID(id))
	}
	return nil
}

// Search returns up to k neighbours of query by ascending squared L2 distance.
func (s *Store) Search(ctx context.Context, id string, query []float32, k int) ([]vector.Neighbor, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.removed {
		return nil, notFound(id)
	}
	return e.engine.Search(ctx, query, k)
}

// SearchDocuments is Search with every neighbour resolved through the slot mapping under the
// same read lock. Unmapped slots carry a nil Record.
func (s *Store) SearchDocuments(ctx context.Context, id string, query []float32, k int) ([]Match, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.removed {
		return nil, notFound(id)
	}
	neighbors, err := e.engine.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Match, len(neighbors))
	for i, n := range neighbors {
		out[i].Neighbor = n
		out[i].Record, _ = e.mapper.Resolve(n.Slot)
	}
	return out, nil
}

// Resolve returns the record mapped to slot of index id.
func (s *Store) Resolve(id string, slot int) (models.Record, bool) {
	e, err := s.get(id)
	if err != nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.removed {
		return nil, false
	}
	return e.mapper.Resolve(slot)
}

// Info returns the handle of index id.
func (s *Store) Info(id string) (IndexHandle, bool) {
	e, err := s.get(id)
	if err != nil {
		return IndexHandle{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.removed {
		return IndexHandle{}, false
	}
	return e.handle, true
}

// List returns the handles of all live indices sorted by id.
func (s *Store) List() []IndexHandle {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.indices))
	for _, e := range s.indices {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]IndexHandle, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		if !e.removed {
			out = append(out, e.handle)
		}
		e.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove unloads index id from memory. Snapshots on disk are kept.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	e, ok := s.indices[id]
	delete(s.indices, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.removed = true
	_ = e.engine.Close()
	e.mu.Unlock()
	s.logger.Info("index removed", zap.String("index_id", id))
	return true
}

// Reset empties index id. Persisted snapshots are untouched.
func (s *Store) Reset(id string) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return notFound(id)
	}
	e.engine.Reset()
	e.mapper.Reset()
	e.touch(StateEmpty)
	s.logger.Info("index reset", zap.String("index_id", id))
	return nil
}

// Persist writes a new snapshot version of index id and returns it. The triple is written
// file by file (temporary file plus rename) and only then marked complete in the registry, so
// a crash mid-way leaves at most an incomplete version that Load ignores. On failure the
// in-memory index is unchanged.
func (s *Store) Persist(ctx context.Context, id string) (uint64, error) {
	e, err := s.get(id)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return 0, notFound(id)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if highest, size := e.mapper.MaxSlot(), e.engine.Size(); highest >= size {
		return 0, cerr.New(cerr.CodeIndexPersistFailure, "slot mapping points past the last vector",
			cerr.FieldIndexID(id), cerr.Field("max_slot", highest), cerr.Field("vector_count", size))
	}

	v, err := s.registry.NextVersion(id)
	if err != nil {
		return 0, err
	}
	fail := func(err error, step string) (uint64, error) {
		s.logger.Error("persist failed",
			zap.String("index_id", id), zap.Uint64("version", v), zap.String("step", step), zap.Error(err))
		return 0, cerr.Wrap(err, cerr.CodeIndexPersistFailure, "persist index",
			cerr.FieldIndexID(id), cerr.FieldOperation(step), cerr.Field("version", v))
	}

	now := time.Now().UTC()
	meta := snapshotMeta{
		ID:             id,
		Name:           e.handle.Name,
		Dimension:      e.handle.Dimension,
		Kind:           e.handle.Kind,
		Backend:        e.handle.Backend,
		Params:         e.handle.Params,
		EmbeddingModel: e.handle.EmbeddingModel,
		VectorCount:    e.engine.Size(),
		Version:        v,
		CreatedAt:      e.handle.CreatedAt,
		UpdatedAt:      now,
		HasMapping:     e.mapper.Len() > 0,
	}
	if err := saveBlobAtomic(e.engine, blobPath(s.dir, id, v)); err != nil {
		return fail(err, "write_blob")
	}
	if err := writeJSONAtomic(mappingPath(s.dir, id, v), e.mapper); err != nil {
		return fail(err, "write_mapping")
	}
	if err := writeJSONAtomic(metadataPath(s.dir, id, v), meta); err != nil {
		return fail(err, "write_metadata")
	}
	if err := s.registry.MarkComplete(id, v); err != nil {
		return fail(err, "mark_complete")
	}

	e.handle.Version = v
	e.handle.State = StatePersisted
	e.handle.UpdatedAt = now
	s.logger.Info("index persisted",
		zap.String("index_id", id), zap.Uint64("version", v), zap.Int("vectors", meta.VectorCount))
	return v, nil
}

// Load replaces index id (creating it in memory if needed) with snapshot version v, or the
// latest complete version when v is 0. Nothing is adopted unless the whole triple validates.
func (s *Store) Load(ctx context.Context, id string, v uint64) error {
	if !validID.MatchString(id) {
		return cerr.Errorf(cerr.CodeIndexInvalidInput, "invalid index id %q", id)
	}
	if v == 0 {
		latest, ok, err := s.registry.Latest(id)
		if err != nil {
			return err
		}
		if !ok {
			return cerr.New(cerr.CodeIndexSnapshotNotFound, "no complete snapshot", cerr.FieldIndexID(id))
		}
		v = latest
	} else {
		info, ok, err := s.registry.Version(id, v)
		if err != nil {
			return err
		}
		if !ok {
			return cerr.New(cerr.CodeIndexSnapshotNotFound, "snapshot version not found",
				cerr.FieldIndexID(id), cerr.Field("version", v))
		}
		if !info.Complete {
			return cerr.New(cerr.CodeIndexLoadCorrupt, "snapshot version is incomplete",
				cerr.FieldIndexID(id), cerr.Field("version", v))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	loaded, err := s.readSnapshot(id, v)
	if err != nil {
		s.logger.Warn("snapshot load refused",
			zap.String("index_id", id), zap.Uint64("version", v), zap.Error(err))
		return err
	}

	s.mu.Lock()
	old := s.indices[id]
	s.indices[id] = loaded
	s.mu.Unlock()
	if old != nil {
		old.mu.Lock()
		old.removed = true
		_ = old.engine.Close()
		old.mu.Unlock()
	}
	s.logger.Info("index loaded",
		zap.String("index_id", id), zap.Uint64("version", v), zap.Int("vectors", loaded.handle.VectorCount))
	return nil
}

func (s *Store) readSnapshot(id string, v uint64) (*entry, error) {
	corrupt := func(err error, msg string) error {
		return cerr.Wrap(err, cerr.CodeIndexLoadCorrupt, msg, cerr.FieldIndexID(id), cerr.Field("version", v))
	}
	paths := []string{blobPath(s.dir, id, v), mappingPath(s.dir, id, v), metadataPath(s.dir, id, v)}
	missing := 0
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			missing++
		}
	}
	switch missing {
	case 0:
	case len(paths):
		return nil, cerr.New(cerr.CodeIndexSnapshotNotFound, "snapshot files not found",
			cerr.FieldIndexID(id), cerr.Field("version", v))
	default:
		return nil, corrupt(errors.New("partial snapshot"), "snapshot is missing files")
	}

	raw, err := os.ReadFile(metadataPath(s.dir, id, v))
	if err != nil {
		return nil, corrupt(err, "read snapshot metadata")
	}
	var meta snapshotMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, corrupt(err, "parse snapshot metadata")
	}
	if meta.ID != id {
		return nil, corrupt(errors.New("metadata id "+meta.ID), "snapshot belongs to another index")
	}
	engine, err := vector.NewVectorIndex(meta.Backend, meta.Kind, meta.Dimension, meta.Params)
	if err != nil {
		if cerr.HasCode(err, cerr.CodeIndexBackendUnavailable) {
			return nil, err
		}
		return nil, corrupt(err, "snapshot metadata describes an invalid index")
	}
	if err := engine.Load(blobPath(s.dir, id, v)); err != nil {
		_ = engine.Close()
		return nil, corrupt(err, "read index blob")
	}
	if engine.Dimensions() != meta.Dimension || engine.Kind() != meta.Kind {
		_ = engine.Close()
		return nil, corrupt(errors.New("blob and metadata disagree"), "index blob does not match metadata")
	}
	if engine.Size() != meta.VectorCount {
		_ = engine.Close()
		return nil, corrupt(errors.New("vector count differs"), "index blob does not match metadata")
	}

	rawMapping, err := os.ReadFile(mappingPath(s.dir, id, v))
	if err != nil {
		_ = engine.Close()
		return nil, corrupt(err, "read slot mapping")
	}
	mapper, err := docmap.Decode(rawMapping, meta.VectorCount, docmap.WithLogger(s.logger))
	if err != nil {
		_ = engine.Close()
		return nil, corrupt(err, "parse slot mapping")
	}

	state := StateLoaded
	if meta.VectorCount == 0 {
		state = StateEmpty
	}
	return &entry{
		handle: IndexHandle{
			ID:             id,
			Name:           meta.Name,
			Dimension:      meta.Dimension,
			Kind:           meta.Kind,
			Backend:        meta.Backend,
			Params:         meta.Params,
			EmbeddingModel: meta.EmbeddingModel,
			VectorCount:    meta.VectorCount,
			MappedCount:    mapper.Len(),
			Version:        v,
			State:          state,
			CreatedAt:      meta.CreatedAt,
			UpdatedAt:      meta.UpdatedAt,
		},
		engine: engine,
		mapper: mapper,
	}, nil
}

// LoadAll loads the latest complete snapshot of every index in the registry and returns how
// many were loaded. Failures are logged per index and do not stop the others.
func (s *Store) LoadAll(ctx context.Context) int {
	ids, err := s.registry.IDs()
	if err != nil {
		s.logger.Error("list registry failed", zap.Error(err))
		return 0
	}
	loaded := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := s.Load(ctx, id, 0); err != nil {
			if cerr.IsNotFound(err) {
				continue
			}
			s.logger.Warn("index not restored", zap.String("index_id", id), zap.Error(err))
			continue
		}
		loaded++
	}
	return loaded
}

// PersistBuilt persists every index in state Built and returns the ids that failed.
func (s *Store) PersistBuilt(ctx context.Context) []string {
	var failed []string
	for _, h := range s.List() {
		if h.State != StateBuilt {
			continue
		}
		if _, err := s.Persist(ctx, h.ID); err != nil {
			failed = append(failed, h.ID)
		}
	}
	return failed
}

// DiskUsage returns the total size of all snapshot files of index id.
func (s *Store) DiskUsage(id string) (int64, error) {
	files, err := snapshotFiles(s.dir, id)
	if err != nil {
		return 0, cerr.Wrap(err, cerr.CodeIndexPersistFailure, "list snapshot files", cerr.FieldIndexID(id))
	}
	n, err := diskUsage(files)
	if err != nil {
		return 0, cerr.Wrap(err, cerr.CodeIndexPersistFailure, "stat snapshot files", cerr.FieldIndexID(id))
	}
	return n, nil
}

// Close releases every engine and the registry.
func (s *Store) Close() error {
	s.mu.Lock()
	entries := s.indices
	s.indices = make(map[string]*entry)
	s.mu.Unlock()
	var errs []error
	for _, e := range entries {
		e.mu.Lock()
		e.removed = true
		if err := e.engine.Close(); err != nil {
			errs = append(errs, err)
		}
		e.mu.Unlock()
	}
	if err := s.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	return cerr.Join(errs...)
}
