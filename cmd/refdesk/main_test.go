package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/refdesk/internal/cli"
	"github.com/hyperjump/refdesk/internal/config"
	"github.com/hyperjump/refdesk/internal/models"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"what", "is", "aspirin", "--set", "a"},
			expected: []string{"--set", "a", "what", "is", "aspirin"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"--set", "a", "question"},
			expected: []string{"--set", "a", "question"},
		},
		{
			name:     "flag between words keeps query order",
			args:     []string{"what", "--set", "a", "is", "x"},
			expected: []string{"--set", "a", "what", "is", "x"},
		},
		{
			name:     "repeated and inline flags",
			args:     []string{"dose", "--set=a", "of", "-set", "b", "aspirin", "--json"},
			expected: []string{"--set=a", "-set", "b", "--json", "dose", "of", "aspirin"},
		},
		{
			name:     "double dash ends flags",
			args:     []string{"--set", "a", "--", "--not-a-flag", "x"},
			expected: []string{"--set", "a", "--not-a-flag", "x"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"question"},
			expected: []string{"question"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("ask", flag.ContinueOnError)
			var sets stringList
			fs.Var(&sets, "set", "")
			fs.Bool("json", false, "")
			got := argsReorder(fs, tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestArgsReorder_parsesQueryInOrder(t *testing.T) {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	var sets stringList
	fs.Var(&sets, "set", "")
	if err := fs.Parse(argsReorder(fs, []string{"what", "--set", "a", "is", "x"})); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(fs.Args(), " "); got != "what is x" {
		t.Errorf("query = %q, want %q", got, "what is x")
	}
	if !reflect.DeepEqual([]string(sets), []string{"a"}) {
		t.Errorf("sets = %v", sets)
	}
}

func TestStringList(t *testing.T) {
	var s stringList
	for _, v := range []string{"a", "b, c", " ", ""} {
		if err := s.Set(v); err != nil {
			t.Fatal(err)
		}
	}
	if !reflect.DeepEqual([]string(s), []string{"a", "b", "c"}) {
		t.Errorf("stringList = %v", s)
	}
	if s.String() != "a,b,c" {
		t.Errorf("String() = %q", s.String())
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")
	if err := writeDefaultConfig(path, false); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if cfg.Server.Port != 3000 || cfg.Ingest.ChunkSize != 1000 || cfg.Retrieval.TopK != 5 {
		t.Errorf("unexpected defaults: port=%d chunk=%d topK=%d", cfg.Server.Port, cfg.Ingest.ChunkSize, cfg.Retrieval.TopK)
	}
	if err := writeDefaultConfig(path, false); err == nil {
		t.Error("existing config should not be overwritten without force")
	}
	if err := writeDefaultConfig(path, true); err != nil {
		t.Errorf("force overwrite: %v", err)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("REFDESK_TEST_MISSING_KEY", "")
	cfg := config.Default()
	cfg.Storage.DatabasePath = filepath.Join(dir, "db", "refdesk.db")
	cfg.Storage.VectorIndexPath = filepath.Join(dir, "indices", "vectors.bin")
	cfg.Storage.TempDir = filepath.Join(dir, "tmp")
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = 16
	cfg.Generation.APIKeyEnv = "REFDESK_TEST_MISSING_KEY"
	return cfg
}

func TestComponents_ingestAskAndPersist(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	set := &models.ReferenceSet{Domain: "Medical Research"}
	if err := c.Storage.CreateReferenceSet(ctx, set); err != nil {
		t.Fatal(err)
	}
	doc := filepath.Join(t.TempDir(), "qa.jsonl")
	lines := `{"question": "What is hypertension?", "answer": "Persistently high blood pressure."}` + "\n" +
		`{"question": "What lowers cholesterol?", "answer": "Statins reduce LDL cholesterol."}` + "\n"
	if err := os.WriteFile(doc, []byte(lines), 0644); err != nil {
		t.Fatal(err)
	}
	stats, err := c.Indexer.IngestPath(ctx, set.ID, doc)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pages != 2 || stats.Chunks != 2 {
		t.Errorf("stats = %+v", stats)
	}

	resp, err := c.Engine.Ask(ctx, &models.ChatRequest{Query: "What is hypertension?", ReferenceSets: []string{set.ID}})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Citations) != 2 || !strings.HasPrefix(resp.Citations[0], "qa.jsonl (Domain: Medical Research, Page: ") {
		t.Errorf("citations = %v", resp.Citations)
	}
	if !resp.Degraded {
		t.Error("without a generation key answers should be degraded")
	}

	status, err := localStatus(ctx, cfg, c)
	if err != nil {
		t.Fatal(err)
	}
	if status.ReferenceSets != 1 || status.VectorIndex["size"] != 2 {
		t.Errorf("status = %+v", status)
	}
	var buf bytes.Buffer
	if err := writeStatus(&buf, status, cli.OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "vector_index_size:  2") {
		t.Errorf("status text:\n%s", buf.String())
	}

	c.Close()
	if _, err := os.Stat(cfg.Storage.VectorIndexPath); err != nil {
		t.Fatalf("vector index should be saved on close: %v", err)
	}

	reopened, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if n, err := reopened.Gateway.Count(ctx); err != nil || n != 2 {
		t.Errorf("reloaded index size = %d, %v", n, err)
	}
}

func TestComponents_missingEmbeddingKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.APIKeyEnv = "REFDESK_TEST_MISSING_KEY"
	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	set := &models.ReferenceSet{Domain: "Medical Research"}
	if err := c.Storage.CreateReferenceSet(ctx, set); err != nil {
		t.Fatal(err)
	}
	doc := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(doc, []byte("Aspirin inhibits platelet aggregation and reduces fever."), 0644); err != nil {
		t.Fatal(err)
	}
	stats, err := c.Indexer.IngestPath(ctx, set.ID, doc)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Chunks != 0 || stats.ChunksFailed == 0 {
		t.Errorf("stats = %+v", stats)
	}
	got, err := c.Storage.GetReferenceSet(ctx, set.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FileCount != 1 {
		t.Errorf("file count = %d, want 1", got.FileCount)
	}

	status, err := localStatus(ctx, cfg, c)
	if err != nil {
		t.Fatal(err)
	}
	if status.Embedding["available"] != false || status.VectorIndex["size"] != 0 {
		t.Errorf("status = %+v", status)
	}
	var buf bytes.Buffer
	if err := writeStatus(&buf, status, cli.OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "embedding_ready:    false") || !strings.Contains(buf.String(), "REFDESK_TEST_MISSING_KEY") {
		t.Errorf("status text:\n%s", buf.String())
	}
}

func TestAskViaHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req models.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Query == "fail" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"success":false,"error":"embedding failed"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(models.ChatResponse{Query: req.Query, Response: "answer", Citations: req.ReferenceSets})
	}))
	defer ts.Close()

	resp, err := askViaHTTP(ts.URL+"/", &models.ChatRequest{Query: "q", ReferenceSets: []string{"a"}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Response != "answer" || len(resp.Citations) != 1 || resp.Citations[0] != "a" {
		t.Errorf("resp = %+v", resp)
	}

	_, err = askViaHTTP(ts.URL, &models.ChatRequest{Query: "fail"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("expected server error, got %v", err)
	}
}
