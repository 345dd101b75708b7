// Package embedding provides text embedding via the OpenAI API or a local ONNX model,
// with an LRU cache and a deterministic mock.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbeddingFailed wraps every failure to produce an embedding (network, quota,
// malformed response). Callers skip the affected text instead of aborting.
var ErrEmbeddingFailed = errors.New("embedding failed")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Close() error
}
