package models

import (
	cerr "github.com/hyperjump/contaluz/pkg/errors"
)

const (
	DefaultSearchLimit = 5
	MaxSearchLimit     = 100
)

// SearchQuery represents a search request with optional equality filters.
type SearchQuery struct {
	Query   string `json:"query"`
	K       int    `json:"k,omitempty"`
	Filter  Filter `json:"filter,omitempty"`
	IndexID string `json:"index_id,omitempty"` // empty means the default index
	// SkipExact forces the semantic tier even when an exact lookup rule matches.
	SkipExact bool `json:"skip_exact,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return cerr.New(cerr.CodeSearchQueryInvalid, "query cannot be empty")
	}
	if q.K <= 0 {
		q.K = DefaultSearchLimit
	}
	if q.K > MaxSearchLimit {
		q.K = MaxSearchLimit
	}
	return nil
}
