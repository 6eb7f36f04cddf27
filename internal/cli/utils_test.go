package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/contaluz/internal/indexstore"
	"github.com/hyperjump/contaluz/internal/models"
	"github.com/hyperjump/contaluz/internal/vector"
)

func semanticResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:     "consumo em janeiro",
		IndexID:   "default",
		QueryTime: 12,
		Total:     1,
		Hits: []*models.SearchHit{{
			Record: &models.InvoiceRecord{
				ID: models.InvoiceRecordID("f1"), InvoiceID: "f1", ClientID: "c1",
				Content: "Fatura de janeiro de 2024 com consumo de 210 kWh.",
			},
			Similarity: 0.93,
			Distance:   0.14,
			Slot:       4,
			Rank:       1,
			Source:     models.SourceSemantic,
		}},
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, semanticResponse(), OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded struct {
		Query string `json:"query"`
		Total int    `json:"total"`
		Hits  []struct {
			Record struct {
				ID   string `json:"id"`
				Tipo string `json:"tipo"`
			} `json:"record"`
			Slot int `json:"slot"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != "consumo em janeiro" || decoded.Total != 1 {
		t.Errorf("decoded query=%q total=%d", decoded.Query, decoded.Total)
	}
	if len(decoded.Hits) != 1 || decoded.Hits[0].Record.ID != "fatura_f1" || decoded.Hits[0].Record.Tipo != "fatura" {
		t.Errorf("decoded hits: %+v", decoded.Hits)
	}
	if decoded.Hits[0].Slot != 4 {
		t.Errorf("slot = %d, want 4", decoded.Hits[0].Slot)
	}
}

func TestWriteSearchResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, semanticResponse(), OutputText); err != nil {
		t.Fatalf("WriteSearchResults(text): %v", err)
	}
	out := buf.String()
	for _, sub := range []string{"Found 1 results", "12ms", "semantic, index default", "Rank: 1", "Similarity: 0.9300",
		"Slot: 4", "ID: fatura_f1 (fatura)", "210 kWh"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteSearchResults_textExactAndDegraded(t *testing.T) {
	exact := &models.SearchResponse{
		Query: "123456",
		Total: 1,
		Exact: true,
		Hits: []*models.SearchHit{{
			Record:     &models.ClientRecord{ID: "cliente_c1", Number: "123456", Content: "Cliente Maria Souza"},
			Similarity: 1,
			Slot:       -1,
			Rank:       1,
			Source:     models.SourceExact,
		}},
	}
	var buf bytes.Buffer
	_ = WriteSearchResults(&buf, exact, OutputText)
	out := buf.String()
	if !strings.Contains(out, "(exact)") || strings.Contains(out, "Slot:") {
		t.Errorf("exact output:\n%s", out)
	}

	buf.Reset()
	_ = WriteSearchResults(&buf, &models.SearchResponse{Query: "q", Degraded: true}, OutputText)
	if !strings.Contains(buf.String(), "semantic results skipped") {
		t.Errorf("degraded output:\n%s", buf.String())
	}
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": OutputText, "text": OutputText, "JSON": OutputJSON} {
		got, err := ParseOutputFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

func TestWriteIndexTable(t *testing.T) {
	var buf bytes.Buffer
	WriteIndexTable(&buf, nil)
	if !strings.Contains(buf.String(), "No indices") {
		t.Errorf("empty table: %q", buf.String())
	}
	buf.Reset()
	WriteIndexTable(&buf, []indexstore.IndexHandle{{
		ID: "default", Kind: vector.KindFlat, Backend: vector.BackendNative, Dimension: 1536,
		VectorCount: 42, Version: 3, State: indexstore.StatePersisted,
	}})
	out := buf.String()
	for _, sub := range []string{"ID", "default", "flat", "native", "1536", "42"} {
		if !strings.Contains(out, sub) {
			t.Errorf("table missing %q:\n%s", sub, out)
		}
	}
}

func TestWriteCounts(t *testing.T) {
	var buf bytes.Buffer
	WriteCounts(&buf, map[string]int{"inserted": 3, "failed": 1})
	out := buf.String()
	if strings.Index(out, "failed") > strings.Index(out, "inserted") {
		t.Errorf("counts not sorted:\n%s", out)
	}
}
