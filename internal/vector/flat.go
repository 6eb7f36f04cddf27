package vector

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// FlatIndex is an exact index: every query is compared with every stored vector.
type FlatIndex struct {
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty exact index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{dimensions: dimensions}, nil
}

func (f *FlatIndex) Type() string    { return string(BackendNative) }
func (f *FlatIndex) Kind() Kind      { return KindFlat }
func (f *FlatIndex) Dimensions() int { return f.dimensions }

// Add appends vectors in order.
func (f *FlatIndex) Add(ctx context.Context, vectors [][]float32) error {
	if err := validateBatch(vectors, f.dimensions); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range vectors {
		f.vectors = append(f.vectors, cloneVector(v))
	}
	return nil
}

// Search ranks every stored vector by distance to query.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := validateQuery(query, f.dimensions); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	slots := make([]int, len(f.vectors))
	for i := range slots {
		slots[i] = i
	}
	return rankSlots(query, f.vectors, slots, k), nil
}

// Save writes the header followed by the raw vectors.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return saveBlob(path, func(w io.Writer) error {
		if err := writeHeader(w, blobHeader{kind: KindFlat, dimensions: f.dimensions, count: len(f.vectors)}); err != nil {
			return err
		}
		return writeVectors(w, f.vectors)
	})
}

// Load replaces the contents with the blob at path.
func (f *FlatIndex) Load(path string) error {
	var vectors [][]float32
	err := loadBlob(path, func(r io.Reader) error {
		h, err := expectHeader(r, KindFlat, f.dimensions)
		if err != nil {
			return err
		}
		vectors, err = readVectors(r, h.count, h.dimensions)
		return err
	})
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.vectors = vectors
	f.mu.Unlock()
	return nil
}

// Reset drops every vector.
func (f *FlatIndex) Reset() {
	f.mu.Lock()
	f.vectors = nil
	f.mu.Unlock()
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}
