package generation

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
)

// OpenAIConfig configures an OpenAIGenerator.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries uint64
	Backoff    time.Duration
}

// OpenAIGenerator calls the OpenAI chat completions API.
type OpenAIGenerator struct {
	client     openai.Client
	model      string
	maxRetries uint64
	backoff    time.Duration
	logger     *zap.Logger
}

// NewOpenAIGenerator creates a generator. Returns an error if no API key is set.
func NewOpenAIGenerator(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai generator: missing API key")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIGenerator{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		logger:     utils.OrNop(logger),
	}, nil
}

// Generate sends the system and user messages and returns the first choice's text.
func (g *OpenAIGenerator) Generate(ctx context.Context, req *Request) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature >= 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	var answer string
	backoff := retry.WithMaxRetries(g.maxRetries, retry.NewFibonacci(g.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := g.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if isTransient(err) {
				g.logger.Debug("chat completion failed, retrying", zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("no choices in response")
		}
		answer = strings.TrimSpace(resp.Choices[0].Message.Content)
		if answer == "" {
			return errors.New("empty completion")
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return answer, nil
}

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
