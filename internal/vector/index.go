// Package vector provides the vector index gateway and its backends.
package vector

import (
	"context"
	"encoding/json"
	"strconv"
)

// Metadata keys set on every chunk record.
const (
	MetaDomain         = "domain"
	MetaReferenceSetID = "reference_set_id"
	MetaDocumentName   = "document_name"
	MetaPageNumber     = "page_number"
	MetaChunkIndex     = "chunk_index"
	MetaText           = "text"
	MetaFileType       = "file_type"
)

// Record is one stored vector with its metadata.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]interface{}
}

// Match is a single query hit.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]interface{}
}

// Filter restricts a query. An empty ReferenceSetIDs list matches every record.
type Filter struct {
	ReferenceSetIDs []string
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return len(f.ReferenceSetIDs) == 0
}

// Matches reports whether metadata passes the filter.
func (f Filter) Matches(metadata map[string]interface{}) bool {
	if f.Empty() {
		return true
	}
	id := MetaString(metadata, MetaReferenceSetID)
	for _, want := range f.ReferenceSetIDs {
		if id == want {
			return true
		}
	}
	return false
}

// Index is a vector store backend.
type Index interface {
	// Upsert inserts records, replacing any existing record with the same ID.
	Upsert(ctx context.Context, records []Record) error
	// Query returns at most topK matches passing filter, by descending score.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]*Match, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Provisioner is implemented by backends whose collection must be looked up
// or created before use.
type Provisioner interface {
	Exists(ctx context.Context) (bool, error)
	Create(ctx context.Context) error
}

// Persister is implemented by backends that keep their data in a local file.
type Persister interface {
	Save(path string) error
	Load(path string) error
}

// MetaString returns metadata[key] as a string, or "" when absent.
func MetaString(metadata map[string]interface{}, key string) string {
	switch v := metadata[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// MetaInt returns metadata[key] as an int. Numbers decoded from JSON arrive as
// float64 and strings are parsed; anything else yields 0.
func MetaInt(metadata map[string]interface{}, key string) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}
