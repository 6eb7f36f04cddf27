// Package vector provides nearest-neighbour index engines over squared Euclidean distance.
package vector

import (
	"context"

	cerr "github.com/hyperjump/contaluz/pkg/errors"
)

// Kind is the index family.
type Kind string

const (
	// KindFlat scans every vector. Exact, no training.
	KindFlat Kind = "flat"
	// KindIVF partitions vectors into nlist k-means cells and probes nprobe of them.
	KindIVF Kind = "ivf"
	// KindHNSW is a layered proximity graph with M links per node.
	KindHNSW Kind = "hnsw"
)

// ParseKind converts a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFlat, KindIVF, KindHNSW:
		return Kind(s), nil
	case "":
		return KindFlat, nil
	}
	return "", cerr.Errorf(cerr.CodeIndexInvalidInput, "unknown index kind %q (supported: flat, ivf, hnsw)", s)
}

const (
	DefaultNList          = 100
	DefaultNProbe         = 10
	DefaultHNSWM          = 32
	DefaultEfConstruction = 64
	DefaultEfSearch       = 64
)

// Params tunes the approximate kinds. Zero fields take the package defaults.
type Params struct {
	NList          int `json:"nlist,omitempty" yaml:"nlist"`
	NProbe         int `json:"nprobe,omitempty" yaml:"nprobe"`
	M              int `json:"m,omitempty" yaml:"m"`
	EfConstruction int `json:"ef_construction,omitempty" yaml:"ef_construction"`
	EfSearch       int `json:"ef_search,omitempty" yaml:"ef_search"`
}

// WithDefaults fills the parameters that apply to kind and clears the rest.
func (p Params) WithDefaults(kind Kind) Params {
	switch kind {
	case KindIVF:
		out := Params{NList: p.NList, NProbe: p.NProbe}
		if out.NList <= 0 {
			out.NList = DefaultNList
		}
		if out.NProbe <= 0 {
			out.NProbe = DefaultNProbe
		}
		if out.NProbe > out.NList {
			out.NProbe = out.NList
		}
		return out
	case KindHNSW:
		out := Params{M: p.M, EfConstruction: p.EfConstruction, EfSearch: p.EfSearch}
		if out.M <= 0 {
			out.M = DefaultHNSWM
		}
		if out.EfConstruction <= 0 {
			out.EfConstruction = DefaultEfConstruction
		}
		if out.EfSearch <= 0 {
			out.EfSearch = DefaultEfSearch
		}
		return out
	}
	return Params{}
}

// Neighbor is one search hit: the vector's slot and its squared Euclidean distance to the query.
type Neighbor struct {
	Slot     int     `json:"slot"`
	Distance float32 `json:"distance"`
}

// VectorIndex stores vectors in insertion order; the i-th vector ever added has slot i.
// Implementations are safe for concurrent use.
type VectorIndex interface {
	// Add appends vectors. A batch containing any vector of the wrong dimension is rejected
	// whole and the index is left unchanged.
	Add(ctx context.Context, vectors [][]float32) error
	// Search returns up to k neighbours by ascending distance, ties broken by slot.
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)
	// Save writes the index blob to path.
	Save(path string) error
	// Load replaces the contents with the blob at path. The blob must match Kind and Dimensions.
	Load(path string) error
	Reset()
	Size() int
	Dimensions() int
	Kind() Kind
	Type() string
	Close() error
}

func validateBatch(vectors [][]float32, dimensions int) error {
	for i, v := range vectors {
		if len(v) != dimensions {
			return cerr.Errorf(cerr.CodeIndexDimensionMismatch,
				"vector %d dimension mismatch: got %d, expected %d", i, len(v), dimensions)
		}
	}
	return nil
}

func validateQuery(query []float32, dimensions int) error {
	if len(query) != dimensions {
		return cerr.Errorf(cerr.CodeIndexDimensionMismatch,
			"query dimension mismatch: got %d, expected %d", len(query), dimensions)
	}
	return nil
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
