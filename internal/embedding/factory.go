package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/refdesk/internal/config"
	"github.com/hyperjump/refdesk/pkg/utils"
	"go.uber.org/zap"
)

// ErrMissingAPIKey is the reason an API-backed provider is unavailable without credentials.
var ErrMissingAPIKey = errors.New("embedding API key not set")

// New builds the embedder selected by cfg.Provider: "openai" (default), "onnx" or "mock".
// A provider that cannot run (missing API key, model or runtime) yields an
// UnavailableEmbedder so the server still starts and every embedding fails.
// A positive cfg.CacheSize wraps a working embedder in a CachedEmbedder.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	logger = utils.OrNop(logger)
	var emb Embedder
	switch cfg.Provider {
	case "mock":
		emb = NewMockEmbedder(cfg.Dimensions)
	case "openai", "":
		key := config.APIKey(cfg.APIKeyEnv)
		if key == "" {
			reason := fmt.Errorf("%w (%s)", ErrMissingAPIKey, cfg.APIKeyEnv)
			logger.Warn("embedding provider unavailable, ingestion and questions will fail",
				zap.String("provider", "openai"), zap.Error(reason))
			return NewUnavailableEmbedder(cfg.Dimensions, reason), nil
		}
		oe, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:            key,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			RequestsPerSecond: cfg.RequestsPerSecond,
			MaxRetries:        cfg.MaxRetries,
		}, logger)
		if err != nil {
			return nil, err
		}
		emb = oe
	case "onnx":
		oe, err := NewONNXEmbedder(ONNXConfig{
			ModelPath:      cfg.ModelPath,
			VocabPath:      cfg.VocabPath,
			RuntimeLibrary: cfg.RuntimeLibrary,
			Dimensions:     cfg.Dimensions,
			MaxTokens:      cfg.MaxTokens,
		})
		if err != nil {
			logger.Warn("embedding provider unavailable, ingestion and questions will fail",
				zap.String("provider", "onnx"), zap.String("model_path", cfg.ModelPath), zap.Error(err))
			return NewUnavailableEmbedder(cfg.Dimensions, err), nil
		}
		emb = oe
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		emb = NewCachedEmbedder(emb, cfg.CacheSize)
	}
	return emb, nil
}

// UnavailableEmbedder stands in for a provider that cannot run. Every Embed fails
// with ErrEmbeddingFailed and the reason.
type UnavailableEmbedder struct {
	dimensions int
	reason     error
}

// NewUnavailableEmbedder returns an embedder that always fails with reason.
func NewUnavailableEmbedder(dimensions int, reason error) *UnavailableEmbedder {
	if reason == nil {
		reason = errors.New("embedder unavailable")
	}
	return &UnavailableEmbedder{dimensions: dimensions, reason: reason}
}

func (u *UnavailableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, u.reason)
}

func (u *UnavailableEmbedder) Dimensions() int { return u.dimensions }

func (u *UnavailableEmbedder) Close() error { return nil }

// Unavailable returns why e cannot produce embeddings, or nil when it can.
func Unavailable(e Embedder) error {
	switch v := e.(type) {
	case nil:
		return errors.New("no embedder configured")
	case *UnavailableEmbedder:
		return v.reason
	case *CachedEmbedder:
		return Unavailable(v.inner)
	}
	return nil
}
