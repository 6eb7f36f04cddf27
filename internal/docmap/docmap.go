// Package docmap keeps the per-index mapping from vector slots to document records.
package docmap

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/contaluz/internal/models"
	"github.com/hyperjump/contaluz/pkg/utils"
)

// Mapper translates vector slots to records. Slots without an entry are valid and resolve to
// nothing.
type Mapper struct {
	mu      sync.RWMutex
	entries map[int]models.Record
	logger  *zap.Logger
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger used to report skipped entries on decode.
func WithLogger(l *zap.Logger) Option {
	return func(m *Mapper) { m.logger = l }
}

// New returns an empty mapper.
func New(opts ...Option) *Mapper {
	m := &Mapper{entries: make(map[int]models.Record)}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = utils.OrNop(m.logger)
	return m
}

// Resolve returns the record stored at slot.
func (m *Mapper) Resolve(slot int) (models.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.entries[slot]
	return rec, ok
}

// Merge inserts local entries with every slot shifted by offset.
func (m *Mapper) Merge(offset int, local map[int]models.Record) {
	if len(local) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for slot, rec := range local {
		m.entries[offset+slot] = rec
	}
}

// Unmap drops every entry holding one of recordIDs and returns how many slots were dropped.
// The slots stay in the index and resolve to nothing afterwards.
func (m *Mapper) Unmap(recordIDs ...string) int {
	if len(recordIDs) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(recordIDs))
	for _, id := range recordIDs {
		drop[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for slot, rec := range m.entries {
		if _, ok := drop[rec.RecordID()]; ok {
			delete(m.entries, slot)
			n++
		}
	}
	return n
}

// Len returns the number of mapped slots.
func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Entries returns a copy of the mapping.
func (m *Mapper) Entries() map[int]models.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int]models.Record, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Reset drops every entry.
func (m *Mapper) Reset() {
	m.mu.Lock()
	m.entries = make(map[int]models.Record)
	m.mu.Unlock()
}

// MaxSlot returns the highest mapped slot, or -1 for an empty mapping.
func (m *Mapper) MaxSlot() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	highest := -1
	for slot := range m.entries {
		if slot > highest {
			highest = slot
		}
	}
	return highest
}

// MarshalJSON writes the mapping as an object keyed by the decimal slot number.
func (m *Mapper) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := make([]int, 0, len(m.entries))
	for slot := range m.entries {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	raw := make(map[string]models.Record, len(slots))
	for _, slot := range slots {
		raw[strconv.Itoa(slot)] = m.entries[slot]
	}
	return json.Marshal(raw)
}

// Decode parses a serialized mapping for an index holding vectorCount vectors. Keys that are
// not integers, slots outside [0, vectorCount), and records that fail to decode are logged and
// skipped. Only a document that is not a JSON object is an error.
func Decode(data []byte, vectorCount int, opts ...Option) (*Mapper, error) {
	m := New(opts...)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode slot mapping: %w", err)
	}
	for key, payload := range raw {
		slot, err := strconv.Atoi(key)
		if err != nil {
			m.logger.Warn("skipping mapping entry with non-integer slot", zap.String("slot", key))
			continue
		}
		if slot < 0 || slot >= vectorCount {
			m.logger.Warn("skipping mapping entry out of range",
				zap.Int("slot", slot), zap.Int("vector_count", vectorCount))
			continue
		}
		rec, err := models.DecodeRecord(payload)
		if err != nil {
			m.logger.Warn("skipping undecodable mapping entry", zap.Int("slot", slot), zap.Error(err))
			continue
		}
		m.entries[slot] = rec
	}
	return m, nil
}
