//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexIVF_c.h>
#include <faiss/c_api/index_factory_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"
)

// FAISSIndex wraps a FAISS index built from a factory description with METRIC_L2, so search
// distances are squared Euclidean like the native engines. Slots are FAISS sequential ids.
type FAISSIndex struct {
	index      *C.FaissIndex
	kind       Kind
	params     Params
	dimensions int
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS index for kind: "Flat", "IVF{nlist},Flat", or "HNSW{M}".
func NewFAISSIndex(kind Kind, dimensions int, params Params) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	params = params.WithDefaults(kind)
	f := &FAISSIndex{kind: kind, params: params, dimensions: dimensions}
	if err := f.create(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FAISSIndex) description() (string, error) {
	switch f.kind {
	case KindFlat:
		return "Flat", nil
	case KindIVF:
		return fmt.Sprintf("IVF%d,Flat", f.params.NList), nil
	case KindHNSW:
		return fmt.Sprintf("HNSW%d", f.params.M), nil
	}
	return "", fmt.Errorf("unknown index kind %q", f.kind)
}

func (f *FAISSIndex) create() error {
	desc, err := f.description()
	if err != nil {
		return err
	}
	cDesc := C.CString(desc)
	defer C.free(unsafe.Pointer(cDesc))
	var index *C.FaissIndex
	if ret := C.faiss_index_factory(&index, C.int(f.dimensions), cDesc, C.METRIC_L2); ret != 0 {
		return fmt.Errorf("failed to create FAISS index %q: %s", desc, faissLastError())
	}
	f.index = index
	f.applySearchParams()
	return nil
}

func (f *FAISSIndex) applySearchParams() {
	if f.kind != KindIVF {
		return
	}
	if ivf := C.faiss_IndexIVF_cast(f.index); ivf != nil {
		C.faiss_IndexIVF_set_nprobe(ivf, C.size_t(f.params.NProbe))
	}
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

func (f *FAISSIndex) Type() string    { return string(BackendFAISS) }
func (f *FAISSIndex) Kind() Kind      { return f.kind }
func (f *FAISSIndex) Dimensions() int { return f.dimensions }

// Add appends vectors, training an untrained IVF index on this batch first. IVF training
// needs at least nlist vectors.
func (f *FAISSIndex) Add(ctx context.Context, vectors [][]float32) error {
	if err := validateBatch(vectors, f.dimensions); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(vectors)
	flat := make([]float32, n*f.dimensions)
	for i, vec := range vectors {
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], vec)
	}
	data := (*C.float)(unsafe.Pointer(&flat[0]))
	if C.faiss_Index_is_trained(f.index) == 0 {
		if f.kind == KindIVF && n < f.params.NList {
			return fmt.Errorf("ivf training needs at least %d vectors, got %d", f.params.NList, n)
		}
		if ret := C.faiss_Index_train(f.index, C.idx_t(n), data); ret != 0 {
			return fmt.Errorf("failed to train FAISS index: %s", faissLastError())
		}
	}
	if ret := C.faiss_Index_add(f.index, C.idx_t(n), data); ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	return nil
}

// Search returns up to k neighbours by ascending squared L2 distance.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]Neighbor, error) {
	if err := validateQuery(query, f.dimensions); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	ntotal := int(C.faiss_Index_ntotal(f.index))
	if k <= 0 || ntotal == 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}
	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}
	out := make([]Neighbor, 0, k)
	for i, label := range labels {
		if label < 0 {
			continue
		}
		out = append(out, Neighbor{Slot: int(label), Distance: distances[i]})
	}
	sortNeighbors(out)
	return out, nil
}

// Save writes the native FAISS serialization to path.
func (f *FAISSIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}
	return nil
}

// Load reads a FAISS index from path. The stored dimension must match.
func (f *FAISSIndex) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	var loaded *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &loaded); ret != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}
	if d := int(C.faiss_Index_d(loaded)); d != f.dimensions {
		C.faiss_Index_free(loaded)
		return fmt.Errorf("dimension mismatch: blob has %d, index expects %d", d, f.dimensions)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = loaded
	f.applySearchParams()
	return nil
}

// Reset recreates an empty index with the same description.
func (f *FAISSIndex) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	_ = f.create()
}

// Size returns the number of stored vectors.
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.index == nil {
		return 0
	}
	return int(C.faiss_Index_ntotal(f.index))
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
