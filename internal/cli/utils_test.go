package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/refdesk/internal/models"
)

func sampleAnswer() *models.ChatResponse {
	return &models.ChatResponse{
		Query:     "How much aspirin?",
		Response:  "Take 100mg daily [aspirin.pdf].",
		Citations: []string{"aspirin.pdf (Domain: Medical Research, Page: 2)"},
		Sources: []*models.Source{
			{DocumentName: "aspirin.pdf", Domain: "Medical Research", PageNumber: 2, ChunkIndex: 1, Score: 0.91, Excerpt: "Aspirin 100mg daily"},
		},
		IndexAvailable: true,
		QueryTime:      42,
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]OutputFormat{
		"json":  OutputJSON,
		" JSON": OutputJSON,
		"text":  OutputText,
		"":      OutputText,
		"yaml":  OutputText,
	}
	for in, want := range tests {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteAnswer_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, sampleAnswer(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"Take 100mg daily", "Citations:", "aspirin.pdf (Domain: Medical Research, Page: 2)", "[1] aspirin.pdf p.2 #1", "Score: 0.9100", "1 sources in 42ms"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}
	if strings.Contains(out, "generation unavailable") {
		t.Errorf("non-degraded answer should not carry the notice:\n%s", out)
	}
}

func TestWriteAnswer_degraded(t *testing.T) {
	resp := sampleAnswer()
	resp.Degraded = true
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "answer generation unavailable") {
		t.Errorf("expected degraded notice:\n%s", buf.String())
	}
}

func TestWriteAnswer_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, sampleAnswer(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.ChatResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Query != "How much aspirin?" || len(decoded.Citations) != 1 || decoded.Sources[0].PageNumber != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteIngestStats(t *testing.T) {
	stats := &models.IngestStats{Filename: "qa.jsonl", FileType: "jsonl", Pages: 3, Chunks: 3, RecordsSkipped: 1, IndexAvailable: true}
	var buf bytes.Buffer
	if err := WriteIngestStats(&buf, stats, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Processed qa.jsonl (jsonl): 3 pages, 3 chunks") || !strings.Contains(out, "1 records skipped") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "unavailable") || strings.Contains(out, "failed") {
		t.Errorf("unexpected failure lines:\n%s", out)
	}

	buf.Reset()
	stats.IndexAvailable = false
	stats.ChunksFailed = 2
	_ = WriteIngestStats(&buf, stats, OutputText)
	if !strings.Contains(buf.String(), "2 chunks failed") || !strings.Contains(buf.String(), "vector index unavailable") {
		t.Errorf("expected failure lines:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteIngestStats(&buf, stats, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"records_skipped": 1`) {
		t.Errorf("json output:\n%s", buf.String())
	}
}

func TestWriteReferenceSets(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteReferenceSets(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No reference sets.") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	if err := WriteReferenceSets(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty json = %q", buf.String())
	}

	buf.Reset()
	sets := []*models.ReferenceSet{{ID: "rs-1", Domain: "Medical Research", Description: "Clinical papers", FileCount: 4}}
	if err := WriteReferenceSets(&buf, sets, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"rs-1", "Medical Research", "4 files", "Clinical papers"} {
		if !strings.Contains(out, sub) {
			t.Errorf("output missing %q:\n%s", sub, out)
		}
	}
}
