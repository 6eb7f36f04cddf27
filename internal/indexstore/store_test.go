package indexstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/contaluz/internal/models"
	"github.com/hyperjump/contaluz/internal/vector"
	cerr "github.com/hyperjump/contaluz/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	reg, err := OpenRegistry(filepath.Join(dir, "registry.db"))
	require.NoError(t, err)
	s, err := New(filepath.Join(dir, "indices"), reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func client(id string) models.Record {
	return &models.ClientRecord{ID: models.ClientRecordID(id), ClientID: id, Name: "Cliente " + id, Number: id}
}

func unitBasis() [][]float32 {
	return [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func TestStore_Create(t *testing.T) {
	s := newTestStore(t)
	h, err := s.Create("default", CreateOptions{Dimension: 3, EmbeddingModel: "m"})
	require.NoError(t, err)
	assert.Equal(t, vector.KindFlat, h.Kind)
	assert.Equal(t, vector.BackendNative, h.Backend)
	assert.Equal(t, StateEmpty, h.State)
	assert.Equal(t, "default", h.Name)

	_, err = s.Create("default", CreateOptions{Dimension: 3})
	assert.True(t, cerr.IsConflict(err))

	_, err = s.Create("bad_id", CreateOptions{Dimension: 3})
	assert.True(t, cerr.IsInvalidInput(err))
	_, err = s.Create("", CreateOptions{Dimension: 3})
	assert.True(t, cerr.IsInvalidInput(err))
	_, err = s.Create("zero", CreateOptions{Dimension: 0})
	assert.True(t, cerr.IsInvalidInput(err))
	_, err = s.Create("lsh", CreateOptions{Dimension: 3, Kind: "lsh"})
	assert.True(t, cerr.IsInvalidInput(err))

	hnsw, err := s.Create("graph", CreateOptions{Dimension: 3, Kind: vector.KindHNSW})
	require.NoError(t, err)
	assert.Equal(t, vector.DefaultHNSWM, hnsw.Params.M)

	if !vector.IsFAISSAvailable() {
		_, err = s.Create("faiss", CreateOptions{Dimension: 3, Backend: vector.BackendFAISS})
		assert.True(t, cerr.HasCode(err, cerr.CodeIndexBackendUnavailable))
		_, ok := s.Info("faiss")
		assert.False(t, ok)
	}
}

func TestStore_UnitBasisScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create("default", CreateOptions{Dimension: 3})
	require.NoError(t, err)
	records := map[int]models.Record{0: client("a"), 1: client("b"), 2: client("c")}
	require.NoError(t, s.Add(ctx, "default", unitBasis(), records))

	matches, err := s.SearchDocuments(ctx, "default", []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 0, matches[0].Slot)
	assert.InDelta(t, 1.0, vector.Similarity(matches[0].Distance), 1e-6)
	assert.Equal(t, "cliente_a", matches[0].Record.RecordID())

	all, err := s.Search(ctx, "default", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3, "k larger than the index returns every vector")
	assert.Equal(t, 0, all[0].Slot)
}

func TestStore_AddShiftsMappingByOffset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create("default", CreateOptions{Dimension: 2})
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, "default", [][]float32{{1, 0}, {0, 1}}, map[int]models.Record{0: client("a"), 1: client("b")}))
	require.NoError(t, s.Add(ctx, "default", [][]float32{{1, 1}, {2, 2}}, map[int]models.Record{1: client("d")}))

	for slot, want := range map[int]string{0: "cliente_a", 1: "cliente_b", 3: "cliente_d"} {
		rec, ok := s.Resolve("default", slot)
		require.True(t, ok, "slot %d", slot)
		assert.Equal(t, want, rec.RecordID())
	}
	_, ok := s.Resolve("default", 2)
	assert.False(t, ok, "unmapped slot resolves to nothing")

	h, _ := s.Info("default")
	assert.Equal(t, 4, h.VectorCount)
	assert.Equal(t, 3, h.MappedCount)
	assert.Equal(t, StateBuilt, h.State)

	matches, err := s.SearchDocuments(ctx, "default", []float32{2, 2}, 1)
	require.NoError(t, err)
	assert.Equal(t, "cliente_d", matches[0].Record.RecordID())
}

func TestStore_AddRemapsReaddedRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create("default", CreateOptions{Dimension: 2})
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "default", [][]float32{{1, 0}, {0, 1}}, map[int]models.Record{0: client("a"), 1: client("b")}))

	updated := &models.ClientRecord{ID: models.ClientRecordID("a"), ClientID: "a", Name: "Cliente a atualizado", Number: "a"}
	require.NoError(t, s.Add(ctx, "default", [][]float32{{1, 0.1}}, map[int]models.Record{0: updated}))

	_, ok := s.Resolve("default", 0)
	assert.False(t, ok, "stale slot no longer resolves")
	rec, ok := s.Resolve("default", 2)
	require.True(t, ok)
	assert.Equal(t, "Cliente a atualizado", rec.(*models.ClientRecord).Name)

	matches, err := s.SearchDocuments(ctx, "default", []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Nil(t, matches[0].Record, "the old vector is still nearest but unmapped")

	h, _ := s.Info("default")
	assert.Equal(t, 3, h.VectorCount)
	assert.Equal(t, 2, h.MappedCount)
}

func TestStore_Unmap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	persistFixture(t, s)

	n, err := s.Unmap("default", "cliente_a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h, _ := s.Info("default")
	assert.Equal(t, 0, h.MappedCount)
	assert.Equal(t, 3, h.VectorCount)
	assert.Equal(t, StateBuilt, h.State, "unmapping marks the index dirty")

	n, err = s.Unmap("default", "cliente_a")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = s.Unmap("nope", "cliente_a")
	assert.True(t, cerr.IsNotFound(err))

	_, err = s.Persist(ctx, "default")
	require.NoError(t, err)
	require.NoError(t, s.Load(ctx, "default", 0))
	_, ok := s.Resolve("default", 0)
	assert.False(t, ok)
}

func TestStore_Replace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	persistFixture(t, s)

	err := s.Replace(ctx, "default", [][]float32{{1, 0}}, nil)
	assert.True(t, cerr.IsDimensionMismatch(err))
	err = s.Replace(ctx, "default", [][]float32{{1, 0, 0}}, map[int]models.Record{3: client("x")})
	assert.True(t, cerr.IsInvalidInput(err))
	h, _ := s.Info("default")
	assert.Equal(t, 3, h.VectorCount, "rejected replacement keeps the index")

	require.NoError(t, s.Replace(ctx, "default", [][]float32{{0, 1, 0}, {0, 0, 1}}, map[int]models.Record{1: client("z")}))
	h, _ = s.Info("default")
	assert.Equal(t, 2, h.VectorCount)
	assert.Equal(t, 1, h.MappedCount)
	assert.Equal(t, StateBuilt, h.State)
	_, ok := s.Resolve("default", 0)
	assert.False(t, ok)
	rec, ok := s.Resolve("default", 1)
	require.True(t, ok)
	assert.Equal(t, "cliente_z", rec.RecordID())

	require.NoError(t, s.Replace(ctx, "default", nil, nil))
	h, _ = s.Info("default")
	assert.Equal(t, StateEmpty, h.State)
	assert.Zero(t, h.VectorCount)
	assert.True(t, cerr.IsNotFound(s.Replace(ctx, "nope", nil, nil)))
}

func TestStore_ReplaceIsAtomicForReaders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create("default", CreateOptions{Dimension: 2})
	require.NoError(t, err)
	batch := [][]float32{{1, 0}, {0, 1}, {1, 1}}
	mapping := map[int]models.Record{0: client("a"), 1: client("b"), 2: client("c")}
	require.NoError(t, s.Replace(ctx, "default", batch, mapping))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			assert.NoError(t, s.Replace(ctx, "default", batch, mapping))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			matches, err := s.SearchDocuments(ctx, "default", []float32{1, 1}, 3)
			assert.NoError(t, err)
			assert.Len(t, matches, 3, "readers never see a half-rebuilt index")
		}
	}()
	wg.Wait()
}

func TestStore_AddRejectsWholeBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create("default", CreateOptions{Dimension: 2})
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "default", [][]float32{{1, 0}}, nil))

	err = s.Add(ctx, "default", [][]float32{{1, 0}, {1, 0, 0}}, nil)
	assert.True(t, cerr.IsDimensionMismatch(err))
	err = s.Add(ctx, "default", [][]float32{{1, 0}}, map[int]models.Record{1: client("x")})
	assert.True(t, cerr.IsInvalidInput(err))

	h, _ := s.Info("default")
	assert.Equal(t, 1, h.VectorCount)
	assert.Equal(t, 0, h.MappedCount)

	_, err = s.Search(ctx, "default", []float32{1, 0, 0}, 1)
	assert.True(t, cerr.IsDimensionMismatch(err))
}

func TestStore_UnknownIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	assert.True(t, cerr.IsNotFound(s.Add(ctx, "nope", [][]float32{{1}}, nil)))
	_, err := s.Search(ctx, "nope", []float32{1}, 1)
	assert.True(t, cerr.IsNotFound(err))
	_, err = s.Persist(ctx, "nope")
	assert.True(t, cerr.IsNotFound(err))
	assert.True(t, cerr.IsNotFound(s.Reset("nope")))
	_, ok := s.Info("nope")
	assert.False(t, ok)
	_, ok = s.Resolve("nope", 0)
	assert.False(t, ok)
	assert.False(t, s.Remove("nope"))
}

func TestStore_PersistLoadRoundTrip(t *testing.T) {
	for _, kind := range []vector.Kind{vector.KindFlat, vector.KindIVF, vector.KindHNSW} {
		t.Run(string(kind), func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()
			_, err := s.Create("bills", CreateOptions{Dimension: 3, Kind: kind, Params: vector.Params{NList: 2, M: 4}})
			require.NoError(t, err)
			vecs := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 0}, {0, 1, 1}}
			mapping := map[int]models.Record{0: client("a"), 2: client("c"), 4: client("e")}
			require.NoError(t, s.Add(ctx, "bills", vecs, mapping))
			before, err := s.SearchDocuments(ctx, "bills", []float32{0, 1, 1}, 5)
			require.NoError(t, err)

			v, err := s.Persist(ctx, "bills")
			require.NoError(t, err)
			assert.Equal(t, uint64(1), v)
			h, _ := s.Info("bills")
			assert.Equal(t, StatePersisted, h.State)

			require.True(t, s.Remove("bills"))
			require.NoError(t, s.Load(ctx, "bills", 0))
			h, ok := s.Info("bills")
			require.True(t, ok)
			assert.Equal(t, StateLoaded, h.State)
			assert.Equal(t, uint64(1), h.Version)
			assert.Equal(t, 5, h.VectorCount)
			assert.Equal(t, 3, h.MappedCount)
			assert.Equal(t, kind, h.Kind)

			after, err := s.SearchDocuments(ctx, "bills", []float32{0, 1, 1}, 5)
			require.NoError(t, err)
			require.Len(t, after, len(before))
			for i := range before {
				assert.Equal(t, before[i].Neighbor, after[i].Neighbor)
				if before[i].Record == nil {
					assert.Nil(t, after[i].Record)
					continue
				}
				assert.Equal(t, before[i].Record.RecordID(), after[i].Record.RecordID())
			}
		})
	}
}

func TestStore_VersionsAreMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create("default", CreateOptions{Dimension: 2})
	require.NoError(t, err)

	require.NoError(t, s.Add(ctx, "default", [][]float32{{1, 0}}, nil))
	v1, err := s.Persist(ctx, "default")
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "default", [][]float32{{0, 1}}, nil))
	h, _ := s.Info("default")
	assert.Equal(t, StateBuilt, h.State, "adding after persist makes the index dirty again")
	v2, err := s.Persist(ctx, "default")
	require.NoError(t, err)
	assert.Greater(t, v2, v1)

	// An allocated but never completed version is ignored.
	_, err = s.Registry().NextVersion("default")
	require.NoError(t, err)

	require.NoError(t, s.Load(ctx, "default", 0))
	h, _ = s.Info("default")
	assert.Equal(t, v2, h.Version)
	assert.Equal(t, 2, h.VectorCount)

	require.NoError(t, s.Load(ctx, "default", v1))
	h, _ = s.Info("default")
	assert.Equal(t, v1, h.Version)
	assert.Equal(t, 1, h.VectorCount)

	versions, err := s.Registry().Versions("default")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.True(t, versions[0].Complete)
	assert.False(t, versions[2].Complete)

	err = s.Load(ctx, "default", versions[2].Version)
	assert.True(t, cerr.IsCorrupt(err))
}

func TestStore_LoadWithoutSnapshot(t *testing.T) {
	s := newTestStore(t)
	err := s.Load(context.Background(), "default", 0)
	assert.True(t, cerr.IsNotFound(err))
	err = s.Load(context.Background(), "default", 7)
	assert.True(t, cerr.IsNotFound(err))
}

// persistFixture persists a 3-vector flat index and returns the snapshot version.
func persistFixture(t *testing.T, s *Store) uint64 {
	t.Helper()
	ctx := context.Background()
	_, err := s.Create("default", CreateOptions{Dimension: 3})
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "default", unitBasis(), map[int]models.Record{0: client("a")}))
	v, err := s.Persist(ctx, "default")
	require.NoError(t, err)
	return v
}

func editMetadata(t *testing.T, path string, edit func(map[string]any)) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(raw, &meta))
	edit(meta)
	raw, err = json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0644))
}

func TestStore_LoadRefusesCorruptSnapshots(t *testing.T) {
	cases := map[string]func(t *testing.T, s *Store, v uint64){
		"dimension differs from blob": func(t *testing.T, s *Store, v uint64) {
			editMetadata(t, metadataPath(s.Dir(), "default", v), func(m map[string]any) { m["dimension"] = 4 })
		},
		"vector count differs from blob": func(t *testing.T, s *Store, v uint64) {
			editMetadata(t, metadataPath(s.Dir(), "default", v), func(m map[string]any) { m["vectorCount"] = 9 })
		},
		"metadata of another index": func(t *testing.T, s *Store, v uint64) {
			editMetadata(t, metadataPath(s.Dir(), "default", v), func(m map[string]any) { m["id"] = "other" })
		},
		"kind differs from blob": func(t *testing.T, s *Store, v uint64) {
			editMetadata(t, metadataPath(s.Dir(), "default", v), func(m map[string]any) { m["kind"] = "hnsw" })
		},
		"missing mapping": func(t *testing.T, s *Store, v uint64) {
			require.NoError(t, os.Remove(mappingPath(s.Dir(), "default", v)))
		},
		"unparseable metadata": func(t *testing.T, s *Store, v uint64) {
			require.NoError(t, os.WriteFile(metadataPath(s.Dir(), "default", v), []byte("{"), 0644))
		},
		"unparseable mapping": func(t *testing.T, s *Store, v uint64) {
			require.NoError(t, os.WriteFile(mappingPath(s.Dir(), "default", v), []byte("[1,2]"), 0644))
		},
		"blob header count exceeds file size": func(t *testing.T, s *Store, v uint64) {
			path := blobPath(s.Dir(), "default", v)
			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			copy(raw[11:15], []byte{0xFF, 0xFF, 0xFF, 0xFF})
			require.NoError(t, os.WriteFile(path, raw, 0644))
		},
		"truncated blob": func(t *testing.T, s *Store, v uint64) {
			path := blobPath(s.Dir(), "default", v)
			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, raw[:len(raw)-4], 0644))
		},
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()
			v := persistFixture(t, s)
			require.NoError(t, s.Add(ctx, "default", [][]float32{{1, 1, 1}}, nil))
			corrupt(t, s, v)

			err := s.Load(ctx, "default", 0)
			require.Error(t, err)
			assert.True(t, cerr.IsCorrupt(err), "got %v", err)

			h, ok := s.Info("default")
			require.True(t, ok)
			assert.Equal(t, 4, h.VectorCount, "in-memory index is kept")
			assert.Equal(t, StateBuilt, h.State)
		})
	}
}

func TestStore_PersistRejectsMappingPastVectors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	persistFixture(t, s)
	e, err := s.get("default")
	require.NoError(t, err)
	e.mapper.Merge(5, map[int]models.Record{0: client("ghost")})

	_, err = s.Persist(ctx, "default")
	assert.True(t, cerr.HasCode(err, cerr.CodeIndexPersistFailure), "got %v", err)
	v, _, _ := s.Registry().Latest("default")
	assert.Equal(t, uint64(1), v, "no version is written")
}

func TestStore_LoadSkipsOutOfRangeMappingEntries(t *testing.T) {
	s := newTestStore(t)
	v := persistFixture(t, s)
	raw, _ := json.Marshal(map[string]any{
		"0":  client("a"),
		"2":  client("c"),
		"99": client("z"),
		"x":  client("y"),
	})
	require.NoError(t, os.WriteFile(mappingPath(s.Dir(), "default", v), raw, 0644))

	require.NoError(t, s.Load(context.Background(), "default", 0))
	h, _ := s.Info("default")
	assert.Equal(t, 2, h.MappedCount)
	rec, ok := s.Resolve("default", 2)
	require.True(t, ok)
	assert.Equal(t, "cliente_c", rec.RecordID())
}

func TestStore_Reset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	persistFixture(t, s)

	require.NoError(t, s.Reset("default"))
	h, _ := s.Info("default")
	assert.Equal(t, StateEmpty, h.State)
	assert.Equal(t, 0, h.VectorCount)
	_, ok := s.Resolve("default", 0)
	assert.False(t, ok)

	require.NoError(t, s.Add(ctx, "default", [][]float32{{0, 0, 1}}, map[int]models.Record{0: client("z")}))
	rec, ok := s.Resolve("default", 0)
	require.True(t, ok)
	assert.Equal(t, "cliente_z", rec.RecordID())

	require.NoError(t, s.Load(ctx, "default", 0), "snapshots survive a reset")
	h, _ = s.Info("default")
	assert.Equal(t, 3, h.VectorCount)
}

func TestStore_RemoveKeepsSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	persistFixture(t, s)
	_, err := s.Create("other", CreateOptions{Dimension: 2})
	require.NoError(t, err)

	require.True(t, s.Remove("default"))
	_, ok := s.Info("default")
	assert.False(t, ok)
	_, err = s.Search(ctx, "default", []float32{1, 0, 0}, 1)
	assert.True(t, cerr.IsNotFound(err))
	assert.Len(t, s.List(), 1)

	usage, err := s.DiskUsage("default")
	require.NoError(t, err)
	assert.Greater(t, usage, int64(0))

	assert.Equal(t, 1, s.LoadAll(ctx))
	ids := []string{}
	for _, h := range s.List() {
		ids = append(ids, h.ID)
	}
	assert.Equal(t, []string{"default", "other"}, ids)
}

func TestStore_LoadAllSkipsBrokenIndices(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := persistFixture(t, s)
	_, err := s.Create("second", CreateOptions{Dimension: 2})
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "second", [][]float32{{1, 0}}, nil))
	_, err = s.Persist(ctx, "second")
	require.NoError(t, err)
	require.NoError(t, os.Remove(blobPath(s.Dir(), "default", v)))

	s.Remove("default")
	s.Remove("second")
	assert.Equal(t, 1, s.LoadAll(ctx))
	_, ok := s.Info("second")
	assert.True(t, ok)
	_, ok = s.Info("default")
	assert.False(t, ok)
}

func TestStore_PersistBuilt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	persistFixture(t, s)
	_, err := s.Create("dirty", CreateOptions{Dimension: 2})
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, "dirty", [][]float32{{1, 0}}, nil))
	_, err = s.Create("empty", CreateOptions{Dimension: 2})
	require.NoError(t, err)

	assert.Empty(t, s.PersistBuilt(ctx))
	for _, h := range s.List() {
		switch h.ID {
		case "dirty", "default":
			assert.Equal(t, StatePersisted, h.State, h.ID)
		case "empty":
			assert.Equal(t, StateEmpty, h.State)
		}
	}
	v, _, _ := s.Registry().Latest("default")
	assert.Equal(t, uint64(1), v, "clean index is not persisted again")
}

func TestStore_DiskUsage(t *testing.T) {
	s := newTestStore(t)
	usage, err := s.DiskUsage("default")
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage)

	v := persistFixture(t, s)
	var want int64
	for _, p := range []string{blobPath(s.Dir(), "default", v), mappingPath(s.Dir(), "default", v), metadataPath(s.Dir(), "default", v)} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		want += info.Size()
	}
	usage, err = s.DiskUsage("default")
	require.NoError(t, err)
	assert.Equal(t, want, usage)

	// An id sharing the prefix does not count toward this index.
	_, err = s.Create("default-2", CreateOptions{Dimension: 2})
	require.NoError(t, err)
	require.NoError(t, s.Add(context.Background(), "default-2", [][]float32{{1, 0}}, nil))
	_, err = s.Persist(context.Background(), "default-2")
	require.NoError(t, err)
	usage, err = s.DiskUsage("default")
	require.NoError(t, err)
	assert.Equal(t, want, usage)
	other, err := s.DiskUsage("default-2")
	require.NoError(t, err)
	assert.Greater(t, other, int64(0))
}

func TestStore_ConcurrentAddAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create("default", CreateOptions{Dimension: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				rec := client(fmt.Sprintf("%d-%d", w, i))
				err := s.Add(ctx, "default", [][]float32{{float32(w), float32(i)}}, map[int]models.Record{0: rec})
				assert.NoError(t, err)
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := s.SearchDocuments(ctx, "default", []float32{1, 1}, 3)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	h, _ := s.Info("default")
	assert.Equal(t, 100, h.VectorCount)
	assert.Equal(t, 100, h.MappedCount)
	matches, err := s.SearchDocuments(ctx, "default", []float32{3, 24}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "cliente_3-24", matches[0].Record.RecordID())
}
