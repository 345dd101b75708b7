package models

import (
	"fmt"
	"strings"
)

// ChatRequest asks a question against zero or more reference sets.
// An empty ReferenceSets list searches every reference set.
type ChatRequest struct {
	Query         string   `json:"query"`
	ReferenceSets []string `json:"reference_sets,omitempty"`
}

// Validate trims the query and normalizes the reference set list.
// Returns an error wrapping ErrInvalidInput if the query is empty.
func (q *ChatRequest) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidInput)
	}
	q.ReferenceSets = uniqueIDs(q.ReferenceSets)
	return nil
}

// Source describes one retrieved chunk that backed an answer.
type Source struct {
	DocumentName string  `json:"document_name"`
	Domain       string  `json:"domain"`
	PageNumber   int     `json:"page_number"`
	ChunkIndex   int     `json:"chunk_index"`
	Score        float64 `json:"score"`
	Excerpt      string  `json:"excerpt"`
}

// ChatResponse is the answer to a ChatRequest.
type ChatResponse struct {
	Response  string    `json:"response"`
	Citations []string  `json:"citations"`
	Sources   []*Source `json:"sources"`
	// Degraded is set when the generative model failed and Response is a raw context excerpt.
	Degraded bool `json:"degraded,omitempty"`
	// IndexAvailable is false when the vector index could not be reached at startup.
	IndexAvailable bool   `json:"index_available"`
	QueryTime      int64  `json:"query_time_ms"`
	Query          string `json:"query"`
}
