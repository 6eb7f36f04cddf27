package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/contaluz/internal/config"
	"github.com/hyperjump/contaluz/internal/embedding"
	"github.com/hyperjump/contaluz/internal/models"
)

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"123456"}, "123456"},
		{"multiple words", []string{"consumo", "fevereiro"}, "consumo fevereiro"},
		{"single quoted phrase", []string{"fatura de janeiro"}, "fatura de janeiro"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	got, err := parseFilter([]string{"tipo=fatura", " cliente_id = c1 "})
	if err != nil {
		t.Fatal(err)
	}
	if got["tipo"] != "fatura" || got["cliente_id"] != "c1" || len(got) != 2 {
		t.Errorf("parseFilter() = %v", got)
	}
	if f, err := parseFilter(nil); err != nil || f != nil {
		t.Errorf("parseFilter(nil) = %v, %v", f, err)
	}
	for _, bad := range []string{"tipo", "=fatura"} {
		if _, err := parseFilter([]string{bad}); err == nil {
			t.Errorf("parseFilter(%q) should fail", bad)
		}
	}
}

func TestNewEmbeddingClient(t *testing.T) {
	client, err := newEmbeddingClient(config.EmbeddingConfig{Provider: config.ProviderMock, Dimensions: 8})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := client.(*embedding.MockClient); !ok {
		t.Errorf("mock provider built %T", client)
	}
	if _, err := newEmbeddingClient(config.EmbeddingConfig{Provider: "cohere"}); err == nil {
		t.Error("unknown provider should fail")
	}
	t.Setenv("CONTALUZ_TEST_EMPTY_KEY", "")
	_, err = newEmbeddingClient(config.EmbeddingConfig{Provider: config.ProviderOpenAI, APIKeyEnv: "CONTALUZ_TEST_EMPTY_KEY"})
	if err == nil {
		t.Error("openai without an api key should fail")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  host: \"127.0.0.1\"\n  port: 9000\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Addr() != "127.0.0.1:9000" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
}

func TestSearchViaHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var q models.SearchQuery
		_ = json.NewDecoder(r.Body).Decode(&q)
		if q.Filter["tipo"] == "analise" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad filter","code":"search.query.invalid"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(&models.SearchResponse{
			Query:   q.Query,
			IndexID: "default",
			Total:   1,
			Hits: []*models.SearchHit{{
				Record:     &models.InvoiceRecord{ID: "fatura_f2", InvoiceID: "f2", ClientID: "c1", ReferenceMonth: "2024-02"},
				Similarity: 0.8,
				Distance:   0.4,
				Slot:       2,
				Rank:       1,
				Source:     models.SourceSemantic,
			}},
		})
	}))
	defer srv.Close()

	resp, err := searchViaHTTP(context.Background(), srv.URL+"/", &models.SearchQuery{Query: "fevereiro"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Query != "fevereiro" || resp.Total != 1 || len(resp.Hits) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	inv, ok := resp.Hits[0].Record.(*models.InvoiceRecord)
	if !ok || inv.ReferenceMonth != "2024-02" || resp.Hits[0].Slot != 2 {
		t.Errorf("hit decoded as %#v", resp.Hits[0])
	}

	_, err = searchViaHTTP(context.Background(), srv.URL, &models.SearchQuery{Query: "x", Filter: models.Filter{"tipo": "analise"}})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("expected status error, got %v", err)
	}
}

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	bills := filepath.Join(dir, "faturas")
	if err := os.MkdirAll(bills, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join("..", "..", "internal", "ingest", "testdata", "cliente-123456.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bills, "cliente-123456.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	content := `
embedding:
  provider: mock
  dimensions: 16
storage:
  database_path: ./data/contaluz.db
  index_dir: ./data/indices
  cache_dir: ./data/cache
  registry_path: ./data/registry.db
ingest:
  directories: [./faturas]
`
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return configPath, bills
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("contaluz %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestCommands_endToEnd(t *testing.T) {
	configPath, bills := writeTestConfig(t)

	out := runCLI(t, "--config", configPath, "ingest", bills)
	if !strings.Contains(out, "Ingested 1 file(s)") || !strings.Contains(out, "inserted:") {
		t.Errorf("ingest output:\n%s", out)
	}

	out = runCLI(t, "--config", configPath, "search", "-o", "json", "matrícula", "123456")
	var exact struct {
		Exact bool `json:"exact"`
		Total int  `json:"total"`
	}
	if err := json.Unmarshal([]byte(out), &exact); err != nil {
		t.Fatalf("search output is not JSON: %v\n%s", err, out)
	}
	if !exact.Exact || exact.Total != 1 {
		t.Errorf("exact search = %+v", exact)
	}

	// The index built during ingest was persisted on close and is restored here.
	out = runCLI(t, "--config", configPath, "search", "--semantic-only", "consumo de energia")
	if !strings.Contains(out, "semantic") || strings.Contains(out, "Found 0 results") {
		t.Errorf("semantic search output:\n%s", out)
	}

	out = runCLI(t, "--config", configPath, "index", "list")
	if !strings.Contains(out, "default") {
		t.Errorf("index list output:\n%s", out)
	}

	out = runCLI(t, "--config", configPath, "client", "123456")
	if !strings.Contains(out, "Maria Souza") || !strings.Contains(out, "2024-02") {
		t.Errorf("client output:\n%s", out)
	}

	out = runCLI(t, "--config", configPath, "status")
	if !strings.Contains(out, "fatura:") || !strings.Contains(out, "embedding_model:") {
		t.Errorf("status output:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out := runCLI(t, "version")
	if !strings.Contains(out, "contaluz version dev") {
		t.Errorf("version output = %q", out)
	}
}
