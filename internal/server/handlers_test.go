package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/refdesk/internal/config"
	"github.com/hyperjump/refdesk/internal/embedding"
	"github.com/hyperjump/refdesk/internal/indexer"
	"github.com/hyperjump/refdesk/internal/models"
	"github.com/hyperjump/refdesk/internal/retrieval"
	"github.com/hyperjump/refdesk/internal/storage"
	"github.com/hyperjump/refdesk/internal/vector"
	"go.uber.org/zap"
)

const testDims = 8

const article = "Aspirin is commonly taken at 100mg daily for cardiovascular prevention. " +
	"Higher doses increase the risk of gastrointestinal bleeding. " +
	"Patients should consult a physician before starting therapy."

type testServer struct {
	handler http.Handler
	store   *storage.SQLiteStorage
	cfg     *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, embedding.NewMockEmbedder(testDims))
}

func newTestServerWith(t *testing.T, emb embedding.Embedder) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "db.sqlite")
	cfg.Storage.VectorIndexPath = ""
	cfg.Storage.TempDir = filepath.Join(dir, "tmp")
	cfg.Ingest.ChunkSize = 100
	cfg.Ingest.ChunkOverlap = 10

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	mem, err := vector.NewMemoryIndex(testDims)
	if err != nil {
		t.Fatal(err)
	}
	gw := vector.Open(context.Background(), mem)

	idx := indexer.NewIndexer(store, emb, gw, nil, cfg.Ingest, indexer.WithTempDir(cfg.Storage.TempDir))
	engine := retrieval.NewEngine(emb, gw, nil, cfg.Retrieval)
	srv := NewServer(engine, idx, store, gw, cfg, zap.NewNop())
	return &testServer{handler: srv.Handler(), store: store, cfg: cfg}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func (ts *testServer) upload(t *testing.T, path, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(content))
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func (ts *testServer) createSet(t *testing.T, domain string) *models.ReferenceSet {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/reference-sets", map[string]string{"domain": domain})
	if w.Code != http.StatusCreated {
		t.Fatalf("create reference set: status %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		Success      bool                 `json:"success"`
		ReferenceSet *models.ReferenceSet `json:"reference_set"`
	}
	decode(t, w, &out)
	if !out.Success || out.ReferenceSet.ID == "" {
		t.Fatalf("unexpected create response %s", w.Body.String())
	}
	return out.ReferenceSet
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthAndHello(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, http.MethodGet, "/health", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}
	w := ts.do(t, http.MethodGet, "/api/hello", nil)
	var out map[string]string
	decode(t, w, &out)
	if out["message"] != "Research Assistant API is running!" {
		t.Errorf("hello: %v", out)
	}
}

func TestReferenceSets(t *testing.T) {
	ts := newTestServer(t)
	set := ts.createSet(t, "Medical Research")

	w := ts.do(t, http.MethodGet, "/api/reference-sets", nil)
	var list struct {
		ReferenceSets []*models.ReferenceSet `json:"reference_sets"`
	}
	decode(t, w, &list)
	if len(list.ReferenceSets) != 1 || list.ReferenceSets[0].Domain != "Medical Research" {
		t.Errorf("list: %s", w.Body.String())
	}

	if w := ts.do(t, http.MethodGet, "/api/reference-sets/"+set.ID, nil); w.Code != http.StatusOK {
		t.Errorf("get: status %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/reference-sets/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("get missing: status %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/reference-sets", map[string]string{"domain": "  "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank domain: status %d", w.Code)
	}
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t)
	set := ts.createSet(t, "Medical Research")

	w := ts.upload(t, "/api/reference-sets/"+set.ID+"/upload", "aspirin.txt", article, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: status %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		Success bool               `json:"success"`
		Message string             `json:"message"`
		Stats   models.IngestStats `json:"stats"`
	}
	decode(t, w, &out)
	if !out.Success || out.Stats.Chunks == 0 || out.Stats.Pages != 1 || !out.Stats.IndexAvailable {
		t.Errorf("unexpected upload response %+v", out)
	}

	w = ts.upload(t, "/api/upload", "notes.md", article, map[string]string{"reference_set_id": set.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("legacy upload: status %d: %s", w.Code, w.Body.String())
	}

	got, err := ts.store.GetReferenceSet(context.Background(), set.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FileCount != 2 {
		t.Errorf("file count = %d, want 2", got.FileCount)
	}

	entries, _ := os.ReadDir(ts.cfg.Storage.TempDir)
	if len(entries) != 0 {
		t.Errorf("upload spool not cleaned up: %d entries", len(entries))
	}
}

func TestUpload_errors(t *testing.T) {
	ts := newTestServer(t)
	set := ts.createSet(t, "Medical Research")

	tests := []struct {
		name     string
		path     string
		filename string
		fields   map[string]string
		want     int
	}{
		{"unknown set", "/api/reference-sets/missing/upload", "a.txt", nil, http.StatusNotFound},
		{"no file", "/api/reference-sets/" + set.ID + "/upload", "", nil, http.StatusBadRequest},
		{"unsupported type", "/api/reference-sets/" + set.ID + "/upload", "tool.exe", nil, http.StatusUnsupportedMediaType},
		{"missing set id", "/api/upload", "a.txt", nil, http.StatusBadRequest},
		{"invalid json", "/api/reference-sets/" + set.ID + "/upload", "bad.json", nil, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := article
			if strings.HasSuffix(tt.filename, ".json") {
				content = `{"broken": `
			}
			w := ts.upload(t, tt.path, tt.filename, content, tt.fields)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/reference-sets/"+set.ID+"/upload", strings.NewReader("plain"))
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("non-multipart: status %d", w.Code)
	}
}

func TestChat(t *testing.T) {
	ts := newTestServer(t)
	set := ts.createSet(t, "Medical Research")
	if w := ts.upload(t, "/api/reference-sets/"+set.ID+"/upload", "aspirin.txt", article, nil); w.Code != http.StatusOK {
		t.Fatalf("upload: %d", w.Code)
	}

	w := ts.do(t, http.MethodPost, "/api/chat", map[string]interface{}{
		"query":          "How much aspirin?",
		"reference_sets": []string{set.ID},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("chat: status %d: %s", w.Code, w.Body.String())
	}
	var resp models.ChatResponse
	decode(t, w, &resp)
	if len(resp.Citations) != 1 || resp.Citations[0] != "aspirin.txt (Domain: Medical Research, Page: 1)" {
		t.Errorf("citations = %v", resp.Citations)
	}
	if !resp.Degraded || !strings.HasPrefix(resp.Response, "Based on the retrieved documents") {
		t.Errorf("without a generator the answer should be degraded: %q", resp.Response)
	}

	w = ts.do(t, http.MethodPost, "/api/chat", map[string]interface{}{"query": "How much aspirin?", "reference_sets": []string{"other"}})
	decode(t, w, &resp)
	if resp.Response != retrieval.NotFoundAnswer {
		t.Errorf("scoped to an empty set, got %q", resp.Response)
	}

	if w := ts.do(t, http.MethodPost, "/api/chat", map[string]string{"query": " "}); w.Code != http.StatusBadRequest {
		t.Errorf("empty query: status %d", w.Code)
	}
}

func TestInquiries(t *testing.T) {
	ts := newTestServer(t)
	set := ts.createSet(t, "Medical Research")
	if w := ts.upload(t, "/api/reference-sets/"+set.ID+"/upload", "aspirin.txt", article, nil); w.Code != http.StatusOK {
		t.Fatalf("upload: %d", w.Code)
	}

	if w := ts.do(t, http.MethodPost, "/api/inquiries", map[string]interface{}{
		"title": "Dosage", "reference_set_ids": []string{"missing"},
	}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown set: status %d", w.Code)
	}

	w := ts.do(t, http.MethodPost, "/api/inquiries", map[string]interface{}{
		"title": "Dosage", "description": "aspirin questions", "reference_set_ids": []string{set.ID},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create inquiry: status %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		InquiryID string `json:"inquiry_id"`
	}
	decode(t, w, &created)

	w = ts.do(t, http.MethodPost, "/api/inquiries/"+created.InquiryID+"/messages", map[string]string{"query": "How much aspirin?"})
	if w.Code != http.StatusOK {
		t.Fatalf("message: status %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/inquiries/"+created.InquiryID, nil)
	var inq models.Inquiry
	decode(t, w, &inq)
	if len(inq.Messages) != 2 || inq.Messages[0].Role != models.RoleUser || inq.Messages[1].Role != models.RoleAssistant {
		t.Fatalf("messages = %+v", inq.Messages)
	}
	if len(inq.Messages[1].Citations) != 1 {
		t.Errorf("assistant citations = %v", inq.Messages[1].Citations)
	}

	w = ts.do(t, http.MethodGet, "/api/inquiries", nil)
	var list struct {
		Inquiries []*models.Inquiry `json:"inquiries"`
	}
	decode(t, w, &list)
	if len(list.Inquiries) != 1 {
		t.Errorf("inquiries = %d, want 1", len(list.Inquiries))
	}

	if w := ts.do(t, http.MethodGet, "/api/inquiries/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing inquiry: status %d", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/inquiries/missing/messages", map[string]string{"query": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("message on missing inquiry: status %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.createSet(t, "Medical Research")
	w := ts.do(t, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var out struct {
		ReferenceSets int64                  `json:"reference_sets"`
		Inquiries     int64                  `json:"inquiries"`
		VectorIndex   map[string]interface{} `json:"vector_index"`
		Embedding     map[string]interface{} `json:"embedding"`
	}
	decode(t, w, &out)
	if out.ReferenceSets != 1 || out.Inquiries != 0 {
		t.Errorf("counts = %d/%d", out.ReferenceSets, out.Inquiries)
	}
	if out.VectorIndex["available"] != true || out.VectorIndex["state"] != "ready" {
		t.Errorf("vector index = %v", out.VectorIndex)
	}
	if out.Embedding["available"] != true {
		t.Errorf("embedding = %v", out.Embedding)
	}
}

func TestStatus_embedderUnavailable(t *testing.T) {
	reason := fmt.Errorf("%w (OPENAI_API_KEY)", embedding.ErrMissingAPIKey)
	ts := newTestServerWith(t, embedding.NewUnavailableEmbedder(testDims, reason))
	set := ts.createSet(t, "Medical Research")

	w := ts.upload(t, "/api/reference-sets/"+set.ID+"/upload", "aspirin.txt", article, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", w.Code, w.Body.String())
	}
	var up struct {
		Stats models.IngestStats `json:"stats"`
	}
	decode(t, w, &up)
	if up.Stats.Chunks != 0 || up.Stats.ChunksFailed == 0 {
		t.Errorf("stats = %+v", up.Stats)
	}

	w = ts.do(t, http.MethodGet, "/api/status", nil)
	var out struct {
		VectorIndex map[string]interface{} `json:"vector_index"`
		Embedding   map[string]interface{} `json:"embedding"`
	}
	decode(t, w, &out)
	if out.Embedding["available"] != false {
		t.Errorf("embedding = %v", out.Embedding)
	}
	if msg, _ := out.Embedding["error"].(string); !strings.Contains(msg, "OPENAI_API_KEY") {
		t.Errorf("error = %q", msg)
	}
	if out.VectorIndex["size"] != float64(0) {
		t.Errorf("nothing should be indexed: %v", out.VectorIndex)
	}
}

func TestSPAAndCORS(t *testing.T) {
	ts := newTestServer(t)
	static := t.TempDir()
	if err := os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>app</html>"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(static, "app.js"), []byte("console.log(1)"), 0644); err != nil {
		t.Fatal(err)
	}
	ts.cfg.Server.StaticDir = static

	if w := ts.do(t, http.MethodGet, "/app.js", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "console.log") {
		t.Errorf("static file: %d %q", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodGet, "/inquiries/42", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "app") {
		t.Errorf("client route: %d %q", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodGet, "/api/unknown", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown api route: %d", w.Code)
	}

	w := ts.do(t, http.MethodOptions, "/api/chat", nil)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight: %d %v", w.Code, w.Header())
	}
}
