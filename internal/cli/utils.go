// Package cli renders answers, ingestion results, and reference sets for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/refdesk/internal/models"
	"github.com/hyperjump/refdesk/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const (
	rule           = "─────────────────────────────────────────────────────────"
	excerptPreview = 160
)

// ParseFormat maps a --format flag value to an OutputFormat. Unknown values are text.
func ParseFormat(s string) OutputFormat {
	if strings.EqualFold(strings.TrimSpace(s), string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

// WriteAnswer writes an answer with its citations and sources to w.
func WriteAnswer(w io.Writer, resp *models.ChatResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%s\n\n", resp.Response)
	if resp.Degraded {
		fmt.Fprintln(w, "(answer generation unavailable; showing retrieved text)")
	}
	if len(resp.Citations) > 0 {
		fmt.Fprintln(w, "Citations:")
		for _, c := range resp.Citations {
			fmt.Fprintf(w, "  - %s\n", c)
		}
	}
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w, rule)
		for i, src := range resp.Sources {
			fmt.Fprintf(w, "[%d] %s p.%d #%d | Score: %.4f\n", i+1, src.DocumentName, src.PageNumber, src.ChunkIndex, src.Score)
			fmt.Fprintf(w, "    %s\n", utils.Truncate(src.Excerpt, excerptPreview))
		}
	}
	fmt.Fprintf(w, "\n%d sources in %dms\n", len(resp.Sources), resp.QueryTime)
	return nil
}

// WriteIngestStats writes the outcome of one ingestion to w.
func WriteIngestStats(w io.Writer, stats *models.IngestStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Processed %s (%s): %d pages, %d chunks\n", stats.Filename, stats.FileType, stats.Pages, stats.Chunks)
	if stats.ChunksFailed > 0 {
		fmt.Fprintf(w, "  %d chunks failed to embed\n", stats.ChunksFailed)
	}
	if stats.RecordsSkipped > 0 {
		fmt.Fprintf(w, "  %d records skipped\n", stats.RecordsSkipped)
	}
	if stats.BatchesFailed > 0 {
		fmt.Fprintf(w, "  %d upsert batches failed\n", stats.BatchesFailed)
	}
	if !stats.IndexAvailable {
		fmt.Fprintln(w, "  vector index unavailable: nothing was indexed")
	}
	return nil
}

// WriteReferenceSets writes a table of reference sets to w.
func WriteReferenceSets(w io.Writer, sets []*models.ReferenceSet, format OutputFormat) error {
	if format == OutputJSON {
		if sets == nil {
			sets = []*models.ReferenceSet{}
		}
		return writeJSON(w, sets)
	}
	if len(sets) == 0 {
		fmt.Fprintln(w, "No reference sets.")
		return nil
	}
	for _, s := range sets {
		fmt.Fprintf(w, "%s  %-30s  %d files\n", s.ID, s.Domain, s.FileCount)
		if s.Description != "" {
			fmt.Fprintf(w, "    %s\n", s.Description)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
