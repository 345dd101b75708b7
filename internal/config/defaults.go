package config

import "time"

// Metadata precedence values for IngestConfig.MetadataPrecedence.
const (
	PrecedenceExtracted = "extracted"
	PrecedenceCore      = "core"
)

// Defaults for settings where zero is a meaningful value. Load applies them only
// when the key is absent from the file; ApplyDefaults leaves them alone.
const (
	DefaultTemperature  = 0.7
	DefaultChunkOverlap = 200
)

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := seeded()
	ApplyDefaults(&cfg)
	return &cfg
}

func seeded() Config {
	var cfg Config
	cfg.Generation.Temperature = DefaultTemperature
	cfg.Ingest.ChunkOverlap = DefaultChunkOverlap
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg. Temperature and
// chunk overlap are not touched since zero is valid for both; see Default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 50
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/refdesk/data/db/refdesk.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/refdesk/data/indices/vectors.bin"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Provider == "onnx" {
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = "all-MiniLM-L6-v2"
		}
		if cfg.Embedding.Dimensions == 0 {
			cfg.Embedding.Dimensions = 384
		}
		if cfg.Embedding.ModelPath == "" {
			cfg.Embedding.ModelPath = "/usr/local/var/refdesk/data/models/all-MiniLM-L6-v2.onnx"
		}
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.RequestsPerSecond == 0 {
		cfg.Embedding.RequestsPerSecond = 20
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.APIKeyEnv == "" {
		cfg.Generation.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 500
	}
	if cfg.Generation.MaxRetries == 0 {
		cfg.Generation.MaxRetries = 2
	}
	if cfg.Vector.Type == "" {
		cfg.Vector.Type = "memory"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "refdesk"
	}
	if cfg.Vector.APIKeyEnv == "" {
		cfg.Vector.APIKeyEnv = "QDRANT_API_KEY"
	}
	if cfg.Vector.BatchSize == 0 {
		cfg.Vector.BatchSize = 100
	}
	if cfg.Vector.UpsertConcurrency == 0 {
		cfg.Vector.UpsertConcurrency = 2
	}
	if cfg.Vector.Timeout == 0 {
		cfg.Vector.Timeout = 15 * time.Second
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1000
	}
	if cfg.Ingest.MinChunkLength == 0 {
		cfg.Ingest.MinChunkLength = 20
	}
	if cfg.Ingest.EmbedConcurrency == 0 {
		cfg.Ingest.EmbedConcurrency = 4
	}
	if cfg.Ingest.MetadataPrecedence == "" {
		cfg.Ingest.MetadataPrecedence = PrecedenceExtracted
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.ContextChunks == 0 {
		cfg.Retrieval.ContextChunks = 3
	}
	if cfg.Retrieval.FallbackExcerptChars == 0 {
		cfg.Retrieval.FallbackExcerptChars = 500
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".pdf", ".docx", ".xlsx", ".pptx", ".odt", ".odp", ".ods", ".rtf", ".txt", ".md", ".json", ".jsonl"}
	}
}
