package generation

import (
	"github.com/hyperjump/refdesk/internal/config"
	"github.com/hyperjump/refdesk/pkg/utils"
	"go.uber.org/zap"
)

// New returns the configured generator, or nil when no API key is available.
// A nil generator makes every answer fall back to a raw context excerpt.
func New(cfg config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	logger = utils.OrNop(logger)
	key := config.APIKey(cfg.APIKeyEnv)
	if key == "" {
		logger.Warn("generation API key not set, answers will use retrieved excerpts only",
			zap.String("api_key_env", cfg.APIKeyEnv))
		return nil, nil
	}
	g, err := NewOpenAIGenerator(OpenAIConfig{
		APIKey:     key,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		MaxRetries: cfg.MaxRetries,
	}, logger)
	if err != nil {
		return nil, err
	}
	return g, nil
}
