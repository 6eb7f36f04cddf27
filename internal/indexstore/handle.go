// Package indexstore manages named vector indices: creation, incremental inserts with slot
// mappings, similarity search, and versioned on-disk snapshots.
package indexstore

import (
	"time"

	"github.com/hyperjump/contaluz/internal/vector"
)

// State is the lifecycle position of an index.
//
//	Empty -> Built (first add) -> Persisted (persist) <-> Loaded (load)
//
// Reset returns any state to Empty. Adding to a Persisted or Loaded index makes it Built again.
type State string

const (
	StateEmpty     State = "empty"
	StateBuilt     State = "built"
	StatePersisted State = "persisted"
	StateLoaded    State = "loaded"
)

// IndexHandle describes one named index. Dimension is fixed at creation.
type IndexHandle struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Dimension      int            `json:"dimension"`
	Kind           vector.Kind    `json:"kind"`
	Backend        vector.Backend `json:"backend"`
	Params         vector.Params  `json:"params"`
	EmbeddingModel string         `json:"embedding_model,omitempty"`
	VectorCount    int            `json:"vector_count"`
	MappedCount    int            `json:"mapped_count"`
	Version        uint64         `json:"version"`
	State          State          `json:"state"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CreateOptions configures a new index. Empty Kind means flat; empty Backend means the
// store's default backend.
type CreateOptions struct {
	Name           string
	Dimension      int
	Kind           vector.Kind
	Backend        vector.Backend
	Params         vector.Params
	EmbeddingModel string
}
