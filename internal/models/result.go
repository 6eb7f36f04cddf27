package models

// HitSource says which tier produced a search hit.
type HitSource string

const (
	SourceExact    HitSource = "exact"
	SourceSemantic HitSource = "semantic"
)

// SearchHit is a single ranked document. Similarity is 1 - distance/2 and is not clamped, so
// values outside [0, 1] are reported as computed.
type SearchHit struct {
	Record     Record    `json:"record"`
	Similarity float64   `json:"similarity"`
	Distance   float32   `json:"distance"`
	Slot       int       `json:"slot"`
	Rank       int       `json:"rank"`
	Source     HitSource `json:"source"`
}

// SearchResponse is the response for a search request. Hits keep the index ranking order.
type SearchResponse struct {
	Query     string       `json:"query"`
	IndexID   string       `json:"index_id,omitempty"`
	Hits      []*SearchHit `json:"hits"`
	Total     int          `json:"total"`
	Exact     bool         `json:"exact"`
	Degraded  bool         `json:"degraded,omitempty"`
	QueryTime int64        `json:"query_time_ms"`
}
