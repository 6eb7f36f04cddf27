// Package cli provides terminal output helpers for the contaluz commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/contaluz/internal/indexstore"
	"github.com/hyperjump/contaluz/internal/models"
	"github.com/hyperjump/contaluz/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text", "json" or "" (text).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, response)
	}
	writeSearchResultsText(w, response)
	return nil
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	tier := "semantic"
	if response.Exact {
		tier = "exact"
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (%s", response.Total, response.QueryTime, tier)
	if response.IndexID != "" && !response.Exact {
		fmt.Fprintf(w, ", index %s", response.IndexID)
	}
	fmt.Fprintln(w, ")")
	if response.Degraded {
		fmt.Fprintln(w, "Embedding provider unavailable: semantic results skipped.")
	}
	fmt.Fprintln(w)
	for _, hit := range response.Hits {
		writeOneHit(w, hit)
	}
}

func writeOneHit(w io.Writer, hit *models.SearchHit) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "[%s] Rank: %d | Similarity: %.4f", hit.Source, hit.Rank, hit.Similarity)
	if hit.Source == models.SourceSemantic {
		fmt.Fprintf(w, " | Distance: %.4f | Slot: %d", hit.Distance, hit.Slot)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "ID: %s (%s)\n", hit.Record.RecordID(), hit.Record.Type())
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(hit.Record.Text(), 240))
}

// WriteIndexTable writes one line per index handle.
func WriteIndexTable(w io.Writer, handles []indexstore.IndexHandle) {
	if len(handles) == 0 {
		fmt.Fprintln(w, "No indices loaded.")
		return
	}
	fmt.Fprintf(w, "%-20s %-6s %-7s %6s %9s %8s %-10s\n", "ID", "KIND", "BACKEND", "DIM", "VECTORS", "VERSION", "STATE")
	for _, h := range handles {
		fmt.Fprintf(w, "%-20s %-6s %-7s %6d %9d %8d %-10s\n",
			h.ID, h.Kind, h.Backend, h.Dimension, h.VectorCount, h.Version, h.State)
	}
}

// WriteCounts writes "name: n" lines sorted by name.
func WriteCounts(w io.Writer, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %d\n", name+":", counts[name])
	}
}
