//go:build faiss && cgo
// +build faiss,cgo

package vector

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFAISSIndex_FlatAddSearch(t *testing.T) {
	idx, err := NewFAISSIndex(KindFlat, 3, Params{})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	if err := idx.Add(ctx, [][]float32{{1, 0, 0}, {0.9, 0.1, 0}, {0, 1, 0}}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d, want 3", idx.Size())
	}
	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Slot != 0 {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Distance > 1e-6 {
		t.Errorf("self distance should be ~0, got %f", results[0].Distance)
	}
}

func TestFAISSIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.faiss")
	idx, err := NewFAISSIndex(KindHNSW, 2, Params{M: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	_ = idx.Add(ctx, [][]float32{{1, 0}, {0, 1}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	idx2, err := NewFAISSIndex(KindHNSW, 2, Params{M: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer idx2.Close()
	if err := idx2.Load(path); err != nil {
		t.Fatal(err)
	}
	if idx2.Size() != 2 {
		t.Errorf("after load Size=%d, want 2", idx2.Size())
	}
}

func TestFAISSIndex_IVFNeedsEnoughTrainingVectors(t *testing.T) {
	idx, err := NewFAISSIndex(KindIVF, 2, Params{NList: 4, NProbe: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	if err := idx.Add(context.Background(), [][]float32{{1, 0}}); err == nil {
		t.Error("expected training error for a batch smaller than nlist")
	}
}
