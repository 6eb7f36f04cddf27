package vector

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"

	"github.com/coder/hnsw"
)

// hnswSeed fixes level assignment, so re-inserting the same vectors in the same order on
// Load gives every node the level it had before Save.
const hnswSeed = 42

// HNSWIndex is a hierarchical navigable small world graph backed by coder/hnsw. Graph keys
// are slots. The vectors are also kept in slot order for Save and for exact fill-in.
type HNSWIndex struct {
	dimensions     int
	m              int
	efConstruction int
	efSearch       int

	graph   *hnsw.Graph[int]
	vectors [][]float32
	mu      sync.RWMutex
}

// NewHNSWIndex creates an empty graph index.
func NewHNSWIndex(dimensions, m, efConstruction, efSearch int) (*HNSWIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	p := Params{M: m, EfConstruction: efConstruction, EfSearch: efSearch}.WithDefaults(KindHNSW)
	if p.M < 2 {
		return nil, fmt.Errorf("hnsw M must be at least 2, got %d", p.M)
	}
	h := &HNSWIndex{
		dimensions:     dimensions,
		m:              p.M,
		efConstruction: p.EfConstruction,
		efSearch:       p.EfSearch,
	}
	h.resetLocked()
	return h, nil
}

func (h *HNSWIndex) Type() string    { return string(BackendNative) }
func (h *HNSWIndex) Kind() Kind      { return KindHNSW }
func (h *HNSWIndex) Dimensions() int { return h.dimensions }

func (h *HNSWIndex) resetLocked() {
	g := hnsw.NewGraph[int]()
	g.Distance = SquaredL2
	g.M = h.m
	g.Ml = 1 / math.Log(float64(h.m))
	g.EfSearch = h.efSearch
	g.Rng = rand.New(rand.NewSource(hnswSeed))
	h.graph = g
	h.vectors = nil
}

// insertLocked appends vectors to the graph. The graph uses EfSearch as its insertion beam,
// so efConstruction is swapped in for the duration.
func (h *HNSWIndex) insertLocked(vectors [][]float32) {
	h.graph.EfSearch = h.efConstruction
	defer func() { h.graph.EfSearch = h.efSearch }()
	for _, v := range vectors {
		slot := len(h.vectors)
		h.vectors = append(h.vectors, v)
		h.graph.Add(hnsw.MakeNode(slot, v))
	}
}

// Add inserts vectors one by one into the graph.
func (h *HNSWIndex) Add(ctx context.Context, vectors [][]float32) error {
	if err := validateBatch(vectors, h.dimensions); err != nil {
		return err
	}
	cloned := make([][]float32, len(vectors))
	for i, v := range vectors {
		cloned[i] = cloneVector(v)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.insertLocked(cloned)
	return nil
}

// Search runs the graph search with a beam of max(efSearch, k). When k covers the whole
// index, or the graph returns fewer than min(k, size) nodes, the ranking falls back to an
// exact scan so the result count is always min(k, size).
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := validateQuery(query, h.dimensions); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The beam width lives on the graph, so searches are serialized.
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.vectors)
	if k <= 0 || n == 0 {
		return nil, nil
	}
	if k >= n {
		return rankSlots(query, h.vectors, allSlots(n), k), nil
	}

	h.graph.EfSearch = max(h.efSearch, k)
	found := h.graph.Search(query, k)
	h.graph.EfSearch = h.efSearch

	slots := make([]int, 0, len(found))
	for _, node := range found {
		slots = append(slots, node.Key)
	}
	if len(slots) < k {
		slots = allSlots(n)
	}
	return rankSlots(query, h.vectors, slots, k), nil
}

func allSlots(n int) []int {
	slots := make([]int, n)
	for i := range slots {
		slots[i] = i
	}
	return slots
}

// Save writes the header, the graph parameters, and the vectors in slot order. The graph is
// rebuilt on load.
func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return saveBlob(path, func(w io.Writer) error {
		if err := writeHeader(w, blobHeader{kind: KindHNSW, dimensions: h.dimensions, count: len(h.vectors)}); err != nil {
			return err
		}
		if err := writeUint32s(w, uint32(h.m), uint32(h.efConstruction), uint32(h.efSearch)); err != nil {
			return err
		}
		return writeVectors(w, h.vectors)
	})
}

// Load replaces the contents with the blob at path.
func (h *HNSWIndex) Load(path string) error {
	var (
		params  []uint32
		vectors [][]float32
	)
	err := loadBlob(path, func(r io.Reader) error {
		hdr, err := expectHeader(r, KindHNSW, h.dimensions)
		if err != nil {
			return err
		}
		if params, err = readUint32s(r, 3); err != nil {
			return err
		}
		if params[0] < 2 {
			return fmt.Errorf("hnsw blob has invalid M %d", params[0])
		}
		vectors, err = readVectors(r, hdr.count, hdr.dimensions)
		return err
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p := Params{M: int(params[0]), EfConstruction: int(params[1]), EfSearch: int(params[2])}.WithDefaults(KindHNSW)
	h.m, h.efConstruction, h.efSearch = p.M, p.EfConstruction, p.EfSearch
	h.resetLocked()
	h.insertLocked(vectors)
	return nil
}

// Reset drops the graph.
func (h *HNSWIndex) Reset() {
	h.mu.Lock()
	h.resetLocked()
	h.mu.Unlock()
}

// Size returns the number of vectors in the index.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.vectors)
}

// Close is a no-op for HNSWIndex.
func (h *HNSWIndex) Close() error {
	return nil
}
