// Package storage persists document records and answers the exact-match lookups that run
// before any similarity search.
package storage

import (
	"context"

	"github.com/hyperjump/contaluz/internal/models"
)

// PutResult tells what Put did with a record.
type PutResult int

const (
	PutInserted PutResult = iota
	PutUpdated
	PutUnchanged
)

func (r PutResult) String() string {
	switch r {
	case PutInserted:
		return "inserted"
	case PutUpdated:
		return "updated"
	case PutUnchanged:
		return "unchanged"
	}
	return "unknown"
}

// DocumentStore is the structured record store.
type DocumentStore interface {
	// Put upserts rec under source (the file it was ingested from). A record whose serialized
	// content is unchanged is left alone.
	Put(ctx context.Context, source string, rec models.Record) (PutResult, error)
	Get(ctx context.Context, id string) (models.Record, bool, error)
	Delete(ctx context.Context, id string) error

	// FindExact returns the first record of type t whose field equals value. Only indexed
	// fields can be queried.
	FindExact(ctx context.Context, t models.RecordType, field, value string) (models.Record, bool, error)
	// ListByField returns every record of type t whose field equals value, ordered by id.
	ListByField(ctx context.Context, t models.RecordType, field, value string) ([]models.Record, error)
	ListByType(ctx context.Context, t models.RecordType, offset, limit int) ([]models.Record, error)
	// All returns every record ordered by id.
	All(ctx context.Context) ([]models.Record, error)

	IDsBySource(ctx context.Context, source string) ([]string, error)
	DeleteBySource(ctx context.Context, source string) (int, error)

	CountByType(ctx context.Context) (map[models.RecordType]int64, error)
	Close() error
}

// indexedFields lists, per record type, the fields FindExact and ListByField can use.
var indexedFields = map[models.RecordType][]string{
	models.RecordTypeClient:   {"cliente_id", "matricula", "numero_instalacao", "nome"},
	models.RecordTypeInvoice:  {"cliente_id", "fatura_id", "numero_fatura", "mes_referencia"},
	models.RecordTypeAnalysis: {"cliente_id"},
}

// IsIndexed reports whether field of type t can be queried exactly.
func IsIndexed(t models.RecordType, field string) bool {
	for _, f := range indexedFields[t] {
		if f == field {
			return true
		}
	}
	return false
}
