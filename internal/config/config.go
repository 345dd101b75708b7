// Package config provides configuration loading and structs for the refdesk server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Vector     VectorConfig     `yaml:"vector"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	StaticDir      string        `yaml:"static_dir"`
	MaxUploadMB    int64         `yaml:"max_upload_mb"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for the record store, the local vector index file, and upload spooling.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	TempDir         string `yaml:"temp_dir"`
}

// EmbeddingConfig selects and configures the embedding model.
type EmbeddingConfig struct {
	// Provider is "openai", "onnx", or "mock".
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	CacheSize         int     `yaml:"cache_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        uint64  `yaml:"max_retries"`

	// Local model settings used by the onnx provider.
	ModelPath      string `yaml:"model_path"`
	VocabPath      string `yaml:"vocab_path"`
	RuntimeLibrary string `yaml:"runtime_library"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// GenerationConfig configures the chat model used to compose answers.
type GenerationConfig struct {
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  uint64  `yaml:"max_retries"`
}

// VectorConfig selects and configures the vector index backend.
type VectorConfig struct {
	// Type is "memory", "qdrant", or "none".
	Type              string        `yaml:"type"`
	URL               string        `yaml:"url"`
	Collection        string        `yaml:"collection"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	BatchSize         int           `yaml:"batch_size"`
	UpsertConcurrency int           `yaml:"upsert_concurrency"`
	Timeout           time.Duration `yaml:"timeout"`
}

// IngestConfig holds chunking and ingestion settings.
type IngestConfig struct {
	ChunkSize        int `yaml:"chunk_size"`
	ChunkOverlap     int `yaml:"chunk_overlap"`
	MinChunkLength   int `yaml:"min_chunk_length"`
	EmbedConcurrency int `yaml:"embed_concurrency"`
	// MetadataPrecedence decides key collisions between core chunk fields and
	// fields extracted from records: "extracted" (default) or "core".
	MetadataPrecedence string `yaml:"metadata_precedence"`
}

// RetrievalConfig holds query-time settings.
type RetrievalConfig struct {
	TopK                 int `yaml:"top_k"`
	ContextChunks        int `yaml:"context_chunks"`
	FallbackExcerptChars int `yaml:"fallback_excerpt_chars"`
}

// WatchConfig holds inbox directory settings. Files dropped into
// <inbox_dir>/<reference set id>/ are ingested into that reference set.
type WatchConfig struct {
	InboxDir   string   `yaml:"inbox_dir"`
	Extensions []string `yaml:"extensions"`
}

// Enabled reports whether the inbox watcher should run.
func (w *WatchConfig) Enabled() bool {
	return w.InboxDir != ""
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// A .env file next to the config (or in the working directory) is loaded first so that
// api_key_env references resolve. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := seeded()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	LoadEnv(filepath.Join(configDir, ".env"))

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.TempDir = expandPath(cfg.Storage.TempDir, configDir)
	cfg.Server.StaticDir = expandPath(cfg.Server.StaticDir, configDir)
	cfg.Watch.InboxDir = expandPath(cfg.Watch.InboxDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Embedding.VocabPath = expandPath(cfg.Embedding.VocabPath, configDir)
	cfg.Embedding.RuntimeLibrary = expandPath(cfg.Embedding.RuntimeLibrary, configDir)

	return &cfg, nil
}

// Save writes the config to path. Used by "refdesk init" to write a starter config.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// LoadEnv loads variables from the given .env files (missing files are ignored),
// falling back to ./.env. Variables already set in the environment win.
func LoadEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
	_ = godotenv.Load()
}

// APIKey returns the value of the environment variable named by envName.
func APIKey(envName string) string {
	if envName == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REFDESK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("REFDESK_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = debug
		}
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
