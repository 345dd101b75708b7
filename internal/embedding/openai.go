package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/refdesk/pkg/utils"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	// RequestsPerSecond throttles calls client-side; zero disables throttling.
	RequestsPerSecond float64
	MaxRetries        uint64
	// Backoff is the base delay of the Fibonacci retry backoff.
	Backoff time.Duration
}

// OpenAIEmbedder embeds text with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
	limiter    *rate.Limiter
	maxRetries uint64
	backoff    time.Duration
	logger     *zap.Logger
}

// NewOpenAIEmbedder creates an embedder for the given model. Returns an error if no API key is set.
func NewOpenAIEmbedder(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai embedder: missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = openai.EmbeddingModelTextEmbedding3Small
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if b := int(cfg.RequestsPerSecond); b > 1 {
			burst = b
		}
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		logger:     utils.OrNop(logger),
	}, nil
}

// Embed returns the embedding of text. Rate limits and server errors are retried
// with Fibonacci backoff; every failure wraps ErrEmbeddingFailed.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrEmbeddingFailed)
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	}
	if strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	var out []float32
	backoff := retry.WithMaxRetries(e.maxRetries, retry.NewFibonacci(e.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, err := e.client.Embeddings.New(ctx, params)
		if err != nil {
			if isTransient(err) {
				e.logger.Debug("embedding request failed, retrying", zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		if len(resp.Data) == 0 {
			return errors.New("empty embedding response")
		}
		vec := resp.Data[0].Embedding
		if len(vec) != e.dimensions {
			return fmt.Errorf("got %d dimensions, want %d", len(vec), e.dimensions)
		}
		out = make([]float32, len(vec))
		for i, v := range vec {
			out[i] = float32(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

// isTransient reports whether err is worth retrying: rate limiting, server
// errors, and network failures. Context errors are never retried.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
