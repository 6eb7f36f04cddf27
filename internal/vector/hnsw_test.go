package vector

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
)

func TestHNSWIndex_RecallAgainstFlat(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))
	vecs := randomVectors(rng, 500, 16)

	flat, _ := NewFlatIndex(16)
	graph, _ := NewHNSWIndex(16, 16, 100, 100)
	_ = flat.Add(ctx, vecs)
	_ = graph.Add(ctx, vecs)

	const k = 10
	hits, total := 0, 0
	for q := 0; q < 20; q++ {
		query := randomVectors(rng, 1, 16)[0]
		want, _ := flat.Search(ctx, query, k)
		got, _ := graph.Search(ctx, query, k)
		if len(got) != k {
			t.Fatalf("got %d results, want %d", len(got), k)
		}
		exact := make(map[int]bool, k)
		for _, n := range want {
			exact[n.Slot] = true
		}
		for _, n := range got {
			if exact[n.Slot] {
				hits++
			}
		}
		total += k
	}
	if recall := float64(hits) / float64(total); recall < 0.9 {
		t.Errorf("recall@%d = %.2f, want >= 0.9", k, recall)
	}
}

func TestHNSWIndex_ReloadRestoresParamsAndRecall(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(2))
	vecs := randomVectors(rng, 300, 8)
	graph, _ := NewHNSWIndex(8, 8, 64, 32)
	_ = graph.Add(ctx, vecs)

	path := filepath.Join(t.TempDir(), "graph.index")
	if err := graph.Save(path); err != nil {
		t.Fatal(err)
	}
	reloaded, _ := NewHNSWIndex(8, 4, 0, 0)
	if err := reloaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if reloaded.m != 8 || reloaded.efConstruction != 64 || reloaded.efSearch != 32 {
		t.Errorf("params not restored: m=%d efC=%d efS=%d", reloaded.m, reloaded.efConstruction, reloaded.efSearch)
	}
	if reloaded.Size() != len(vecs) {
		t.Fatalf("Size = %d, want %d", reloaded.Size(), len(vecs))
	}

	flat, _ := NewFlatIndex(8)
	_ = flat.Add(ctx, vecs)
	const k = 5
	hits := 0
	for q := 0; q < 20; q++ {
		query := randomVectors(rng, 1, 8)[0]
		want, _ := flat.Search(ctx, query, k)
		got, _ := reloaded.Search(ctx, query, k)
		exact := make(map[int]bool, k)
		for _, n := range want {
			exact[n.Slot] = true
		}
		for _, n := range got {
			if exact[n.Slot] {
				hits++
			}
		}
	}
	if recall := float64(hits) / float64(20*k); recall < 0.9 {
		t.Errorf("recall@%d after reload = %.2f, want >= 0.9", k, recall)
	}
}

func TestHNSWIndex_ExactCountAndOrder(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(5))
	vecs := randomVectors(rng, 30, 4)
	flat, _ := NewFlatIndex(4)
	graph, _ := NewHNSWIndex(4, 2, 4, 2)
	_ = flat.Add(ctx, vecs)
	_ = graph.Add(ctx, vecs)

	query := randomVectors(rng, 1, 4)[0]
	for _, k := range []int{1, 7, 29, 30, 50} {
		got, err := graph.Search(ctx, query, k)
		if err != nil {
			t.Fatal(err)
		}
		if want := min(k, len(vecs)); len(got) != want {
			t.Fatalf("k=%d: got %d results, want %d", k, len(got), want)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Distance < got[i-1].Distance {
				t.Fatalf("k=%d: results not sorted at %d", k, i)
			}
		}
		if k >= len(vecs) {
			want, _ := flat.Search(ctx, query, k)
			for i := range want {
				if got[i].Slot != want[i].Slot {
					t.Fatalf("k=%d: full scan differs from flat at rank %d", k, i)
				}
			}
		}
	}
	if got, _ := graph.Search(ctx, query, 0); len(got) != 0 {
		t.Errorf("k=0 returned %d results", len(got))
	}
}

func TestHNSWIndex_InvalidM(t *testing.T) {
	if _, err := NewHNSWIndex(4, 1, 0, 0); err == nil {
		t.Error("M=1 should be rejected")
	}
}
