package vector

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	cerr "github.com/hyperjump/contaluz/pkg/errors"
)

func newIndexes(t testing.TB, dim int) map[Kind]VectorIndex {
	t.Helper()
	out := make(map[Kind]VectorIndex)
	for _, kind := range []Kind{KindFlat, KindIVF, KindHNSW} {
		idx, err := NewVectorIndex(BackendNative, kind, dim, Params{NList: 4, NProbe: 1, M: 4})
		if err != nil {
			t.Fatalf("NewVectorIndex(%s): %v", kind, err)
		}
		out[kind] = idx
	}
	return out
}

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func TestIndex_UnitBasisScenario(t *testing.T) {
	ctx := context.Background()
	for kind, idx := range newIndexes(t, 3) {
		t.Run(string(kind), func(t *testing.T) {
			if err := idx.Add(ctx, [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}); err != nil {
				t.Fatal(err)
			}
			top, err := idx.Search(ctx, []float32{1, 0, 0}, 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(top) != 1 || top[0].Slot != 0 {
				t.Fatalf("k=1: got %+v", top)
			}
			if sim := Similarity(top[0].Distance); sim < 0.999 || sim > 1.001 {
				t.Errorf("similarity of identical vector = %f", sim)
			}
			all, err := idx.Search(ctx, []float32{1, 0, 0}, 3)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 3 || all[0].Slot != 0 {
				t.Fatalf("k=3: got %+v", all)
			}
			if Similarity(all[1].Distance) != 0 || Similarity(all[2].Distance) != 0 {
				t.Errorf("orthogonal unit vectors should have similarity 0: %+v", all)
			}
		})
	}
}

func TestIndex_RankingReturnsAtMostSize(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	vecs := randomVectors(rng, 25, 8)
	for kind, idx := range newIndexes(t, 8) {
		t.Run(string(kind), func(t *testing.T) {
			if err := idx.Add(ctx, vecs); err != nil {
				t.Fatal(err)
			}
			got, err := idx.Search(ctx, vecs[3], 100)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 25 {
				t.Fatalf("k > size: got %d results, want 25", len(got))
			}
			for i := 1; i < len(got); i++ {
				if got[i].Distance < got[i-1].Distance {
					t.Fatalf("results not sorted at %d: %+v", i, got)
				}
			}
			if got[0].Slot != 3 || got[0].Distance != 0 {
				t.Errorf("indexed vector should be its own nearest neighbour, got %+v", got[0])
			}
			few, _ := idx.Search(ctx, vecs[0], 5)
			if len(few) != 5 {
				t.Errorf("k=5: got %d", len(few))
			}
		})
	}
}

func TestIndex_DimensionMismatchLeavesIndexUnchanged(t *testing.T) {
	ctx := context.Background()
	for kind, idx := range newIndexes(t, 3) {
		t.Run(string(kind), func(t *testing.T) {
			_ = idx.Add(ctx, [][]float32{{1, 0, 0}})
			err := idx.Add(ctx, [][]float32{{0, 1, 0}, {1, 2}})
			if !cerr.IsDimensionMismatch(err) {
				t.Fatalf("expected dimension mismatch, got %v", err)
			}
			if idx.Size() != 1 {
				t.Errorf("Size=%d after rejected batch, want 1", idx.Size())
			}
			if _, err := idx.Search(ctx, []float32{1, 0}, 1); !cerr.IsDimensionMismatch(err) {
				t.Errorf("query of wrong dimension: %v", err)
			}
		})
	}
}

func TestIndex_EmptyAndZeroK(t *testing.T) {
	ctx := context.Background()
	for kind, idx := range newIndexes(t, 2) {
		t.Run(string(kind), func(t *testing.T) {
			got, err := idx.Search(ctx, []float32{1, 0}, 3)
			if err != nil || len(got) != 0 {
				t.Errorf("empty index: %v %v", got, err)
			}
			_ = idx.Add(ctx, [][]float32{{1, 0}})
			got, err = idx.Search(ctx, []float32{1, 0}, 0)
			if err != nil || len(got) != 0 {
				t.Errorf("k=0: %v %v", got, err)
			}
		})
	}
}

func TestIndex_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(11))
	vecs := randomVectors(rng, 40, 6)
	for kind, idx := range newIndexes(t, 6) {
		t.Run(string(kind), func(t *testing.T) {
			if err := idx.Add(ctx, vecs); err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(dir, string(kind)+".index")
			if err := idx.Save(path); err != nil {
				t.Fatal(err)
			}
			fresh := newIndexes(t, 6)[kind]
			if err := fresh.Load(path); err != nil {
				t.Fatal(err)
			}
			if fresh.Size() != idx.Size() {
				t.Fatalf("Size after load = %d, want %d", fresh.Size(), idx.Size())
			}
			want, _ := idx.Search(ctx, vecs[5], 7)
			got, _ := fresh.Search(ctx, vecs[5], 7)
			if len(want) != len(got) {
				t.Fatalf("result count differs: %d vs %d", len(want), len(got))
			}
			for i := range want {
				if want[i] != got[i] {
					t.Errorf("result %d differs after reload: %+v vs %+v", i, want[i], got[i])
				}
			}
		})
	}
}

func TestIndex_LoadRejectsForeignBlobs(t *testing.T) {
	dir := t.TempDir()
	flat, _ := NewFlatIndex(3)
	_ = flat.Add(context.Background(), [][]float32{{1, 2, 3}})
	path := filepath.Join(dir, "flat.index")
	if err := flat.Save(path); err != nil {
		t.Fatal(err)
	}

	hnsw, _ := NewHNSWIndex(3, 4, 0, 0)
	if err := hnsw.Load(path); err == nil {
		t.Error("hnsw index accepted a flat blob")
	}
	wrongDim, _ := NewFlatIndex(4)
	if err := wrongDim.Load(path); err == nil {
		t.Error("index accepted a blob of another dimension")
	}

	garbage := filepath.Join(dir, "garbage.index")
	if err := os.WriteFile(garbage, []byte("not an index"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := flat.Load(garbage); err == nil {
		t.Error("index accepted garbage")
	}
	if flat.Size() != 1 {
		t.Errorf("failed loads must not change contents, Size=%d", flat.Size())
	}

	truncated := filepath.Join(dir, "truncated.index")
	data, _ := os.ReadFile(path)
	_ = os.WriteFile(truncated, data[:len(data)-2], 0644)
	if err := flat.Load(truncated); err == nil {
		t.Error("index accepted a truncated blob")
	}
}

func TestIndex_LoadRejectsOversizedCounts(t *testing.T) {
	ctx := context.Background()
	for kind, idx := range newIndexes(t, 3) {
		t.Run(string(kind), func(t *testing.T) {
			if err := idx.Add(ctx, randomVectors(rand.New(rand.NewSource(3)), 8, 3)); err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(t.TempDir(), "oversized.index")
			if err := idx.Save(path); err != nil {
				t.Fatal(err)
			}
			data, _ := os.ReadFile(path)
			copy(data[11:15], []byte{0xFF, 0xFF, 0xFF, 0xFF})
			if err := os.WriteFile(path, data, 0644); err != nil {
				t.Fatal(err)
			}
			if err := idx.Load(path); err == nil {
				t.Fatal("index accepted a vector count larger than the blob")
			}
			if idx.Size() != 8 {
				t.Errorf("failed load changed contents, Size=%d", idx.Size())
			}
		})
	}

	// IVF blobs carry a second count for their centroids right after nlist and nprobe.
	ivf, _ := NewIVFIndex(3, 2, 1)
	_ = ivf.Add(ctx, randomVectors(rand.New(rand.NewSource(4)), 4, 3))
	path := filepath.Join(t.TempDir(), "centroids.index")
	if err := ivf.Save(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	copy(data[23:27], []byte{0xFF, 0xFF, 0xFF, 0x7F})
	_ = os.WriteFile(path, data, 0644)
	if err := ivf.Load(path); err == nil {
		t.Error("ivf index accepted a centroid count larger than the blob")
	}
}

func TestIndex_Reset(t *testing.T) {
	ctx := context.Background()
	for kind, idx := range newIndexes(t, 2) {
		t.Run(string(kind), func(t *testing.T) {
			_ = idx.Add(ctx, [][]float32{{1, 0}, {0, 1}})
			idx.Reset()
			if idx.Size() != 0 {
				t.Errorf("Size after reset = %d", idx.Size())
			}
			if err := idx.Add(ctx, [][]float32{{0.5, 0.5}}); err != nil {
				t.Fatal(err)
			}
			got, _ := idx.Search(ctx, []float32{0.5, 0.5}, 1)
			if len(got) != 1 || got[0].Slot != 0 {
				t.Errorf("slots restart at 0 after reset: %+v", got)
			}
		})
	}
}
