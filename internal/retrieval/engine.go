// Package retrieval answers questions from indexed reference sets: it embeds the
// query, runs a scoped similarity search, and composes an answer with the
// generative model, falling back to raw context when generation fails.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/refdesk/internal/config"
	"github.com/hyperjump/refdesk/internal/embedding"
	"github.com/hyperjump/refdesk/internal/generation"
	"github.com/hyperjump/refdesk/internal/models"
	"github.com/hyperjump/refdesk/internal/vector"
	"github.com/hyperjump/refdesk/pkg/utils"
	"go.uber.org/zap"
)

// ErrQueryEmbedding is returned when the query itself cannot be embedded.
var ErrQueryEmbedding = errors.New("query embedding failed")

// Engine runs retrieval-augmented question answering.
type Engine struct {
	embedder    embedding.Embedder
	gateway     *vector.Gateway
	generator   generation.Generator
	config      config.RetrievalConfig
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = utils.OrNop(l) }
}

// WithSampling sets the generation bounds. Defaults are 500 tokens at temperature 0.7.
func WithSampling(maxTokens int, temperature float64) EngineOption {
	return func(e *Engine) {
		if maxTokens > 0 {
			e.maxTokens = maxTokens
		}
		e.temperature = temperature
	}
}

// NewEngine creates a retrieval engine. generator may be nil, in which case every
// answer with context is degraded to a raw excerpt.
func NewEngine(
	embedder embedding.Embedder,
	gateway *vector.Gateway,
	generator generation.Generator,
	cfg config.RetrievalConfig,
	opts ...EngineOption,
) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.ContextChunks <= 0 {
		cfg.ContextChunks = 3
	}
	if cfg.FallbackExcerptChars <= 0 {
		cfg.FallbackExcerptChars = 500
	}
	e := &Engine{
		embedder:    embedder,
		gateway:     gateway,
		generator:   generator,
		config:      cfg,
		maxTokens:   500,
		temperature: 0.7,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EmbedderError returns why queries cannot be embedded, or nil when they can.
func (e *Engine) EmbedderError() error {
	return embedding.Unavailable(e.embedder)
}

// Ask answers a question. Only an invalid request or a failed query embedding
// return an error; every other failure yields a best-effort response.
func (e *Engine) Ask(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	startTime := time.Now()
	if req == nil {
		return nil, fmt.Errorf("%w: request is required", models.ErrInvalidInput)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp := &models.ChatResponse{
		Query:          req.Query,
		Citations:      make([]string, 0),
		Sources:        make([]*models.Source, 0),
		IndexAvailable: e.gateway.Available(),
	}
	defer func() { resp.QueryTime = time.Since(startTime).Milliseconds() }()

	if !resp.IndexAvailable {
		resp.Response = NotFoundAnswer
		return resp, nil
	}

	queryEmbedding, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryEmbedding, err)
	}

	matches, err := e.gateway.Query(ctx, queryEmbedding, e.config.TopK, vector.Filter{ReferenceSetIDs: req.ReferenceSets})
	if err != nil {
		e.logger.Warn("vector query failed", zap.Strings("reference_sets", req.ReferenceSets), zap.Error(err))
		matches = nil
	}

	seen := make(map[string]bool, len(matches))
	var contextParts []string
	for i, m := range matches {
		text := vector.MetaString(m.Metadata, vector.MetaText)
		source := &models.Source{
			DocumentName: vector.MetaString(m.Metadata, vector.MetaDocumentName),
			Domain:       vector.MetaString(m.Metadata, vector.MetaDomain),
			PageNumber:   vector.MetaInt(m.Metadata, vector.MetaPageNumber),
			ChunkIndex:   vector.MetaInt(m.Metadata, vector.MetaChunkIndex),
			Score:        m.Score,
			Excerpt:      Excerpt(text, excerptLength),
		}
		resp.Sources = append(resp.Sources, source)

		citation := Citation(source.DocumentName, source.Domain, source.PageNumber)
		if !seen[citation] {
			seen[citation] = true
			resp.Citations = append(resp.Citations, citation)
		}
		if i < e.config.ContextChunks && strings.TrimSpace(text) != "" {
			contextParts = append(contextParts, text)
		}
	}

	contextText := strings.Join(contextParts, "\n\n")
	if strings.TrimSpace(contextText) == "" {
		resp.Response = NotFoundAnswer
		return resp, nil
	}

	if e.generator == nil {
		resp.Response = degradedAnswer(contextText, e.config.FallbackExcerptChars)
		resp.Degraded = true
		return resp, nil
	}

	answer, err := e.generator.Generate(ctx, &generation.Request{
		System:      systemPrompt,
		User:        userPrompt(contextText, req.Query),
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})
	if err != nil {
		e.logger.Warn("answer generation failed, returning context excerpt", zap.Error(err))
		resp.Response = degradedAnswer(contextText, e.config.FallbackExcerptChars)
		resp.Degraded = true
		return resp, nil
	}
	resp.Response = answer
	return resp, nil
}
