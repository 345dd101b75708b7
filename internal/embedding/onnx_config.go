package embedding

import (
	"errors"
	"fmt"
	"os"
)

// ONNXConfig configures an ONNXEmbedder.
type ONNXConfig struct {
	ModelPath string
	// VocabPath is a BERT vocab.txt; empty selects the HashTokenizer.
	VocabPath string
	// RuntimeLibrary is the onnxruntime shared library; empty uses the system default.
	RuntimeLibrary string
	Dimensions     int
	MaxTokens      int
}

// prepare validates cfg and builds its tokenizer without touching the runtime.
func (cfg ONNXConfig) prepare() (Tokenizer, int, error) {
	if cfg.ModelPath == "" {
		return nil, 0, errors.New("onnx embedder: model_path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, 0, fmt.Errorf("onnx embedder: model: %w", err)
	}
	if cfg.Dimensions <= 0 {
		return nil, 0, errors.New("onnx embedder: dimensions must be positive")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens < 2 {
		maxTokens = defaultMaxTokens
	}
	if cfg.VocabPath == "" {
		return &HashTokenizer{}, maxTokens, nil
	}
	tok, err := LoadWordPieceTokenizer(cfg.VocabPath)
	if err != nil {
		return nil, 0, fmt.Errorf("onnx embedder: %w", err)
	}
	return tok, maxTokens, nil
}
