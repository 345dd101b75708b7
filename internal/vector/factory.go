package vector

import (
	"fmt"

	"github.com/hyperjump/refdesk/internal/config"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search persisted to a local file.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeQdrant uses a Qdrant collection over REST.
	IndexTypeQdrant IndexType = "qdrant"
	// IndexTypeNone disables the index; the gateway reports itself unavailable.
	IndexTypeNone IndexType = "none"
)

// NewIndex creates the configured backend. It returns a nil Index (and no error)
// when indexing is disabled or Qdrant has no URL; Open turns that into StateUnavailable.
// A memory index is loaded from indexPath when the file exists.
func NewIndex(cfg config.VectorConfig, dimensions int, indexPath string) (Index, error) {
	switch IndexType(cfg.Type) {
	case IndexTypeMemory, "":
		idx, err := NewMemoryIndex(dimensions)
		if err != nil {
			return nil, err
		}
		if err := idx.Load(indexPath); err != nil {
			return nil, fmt.Errorf("load vector index: %w", err)
		}
		return idx, nil
	case IndexTypeQdrant:
		if cfg.URL == "" {
			return nil, nil
		}
		idx, err := NewQdrantIndex(QdrantConfig{
			URL:        cfg.URL,
			APIKey:     config.APIKey(cfg.APIKeyEnv),
			Collection: cfg.Collection,
			Dimensions: dimensions,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	case IndexTypeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, qdrant, none)", cfg.Type)
	}
}
