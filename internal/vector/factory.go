package vector

import (
	cerr "github.com/hyperjump/contaluz/pkg/errors"
)

// Backend selects the engine implementation behind an index kind.
type Backend string

const (
	// BackendNative uses the pure Go engines in this package.
	BackendNative Backend = "native"
	// BackendFAISS uses the FAISS C API. Requires building with -tags=faiss and cgo.
	BackendFAISS Backend = "faiss"
)

// ParseBackend converts a configuration string to a Backend. Empty means native.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendNative, "":
		return BackendNative, nil
	case BackendFAISS:
		return BackendFAISS, nil
	}
	return "", cerr.Errorf(cerr.CodeIndexInvalidInput, "unknown index backend %q (supported: native, faiss)", s)
}

// NewVectorIndex creates an empty index of the given backend and kind.
func NewVectorIndex(backend Backend, kind Kind, dimensions int, params Params) (VectorIndex, error) {
	if dimensions <= 0 {
		return nil, cerr.Errorf(cerr.CodeIndexInvalidInput, "dimension must be positive, got %d", dimensions)
	}
	params = params.WithDefaults(kind)
	switch backend {
	case BackendNative, "":
		switch kind {
		case KindFlat:
			return NewFlatIndex(dimensions)
		case KindIVF:
			return NewIVFIndex(dimensions, params.NList, params.NProbe)
		case KindHNSW:
			return NewHNSWIndex(dimensions, params.M, params.EfConstruction, params.EfSearch)
		}
		return nil, cerr.Errorf(cerr.CodeIndexInvalidInput, "unknown index kind %q (supported: flat, ivf, hnsw)", kind)
	case BackendFAISS:
		idx, err := NewFAISSIndex(kind, dimensions, params)
		if err != nil {
			return nil, cerr.Wrap(err, cerr.CodeIndexBackendUnavailable, "create faiss index")
		}
		return idx, nil
	}
	return nil, cerr.Errorf(cerr.CodeIndexInvalidInput, "unknown index backend %q", backend)
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
// This is determined by the build tag -tags=faiss.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(KindFlat, 1, Params{})
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
