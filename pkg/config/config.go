// Package config loads docrag's YAML configuration. A .env file in the
// working directory is folded into the environment first so API keys
// never need to live in the config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EmbedderConfig configures the embedding backend.
type EmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Prefix      string `yaml:"prefix"`
	BatchSize   int    `yaml:"batch_size"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LLMConfig configures the chat models used for judging and answering.
type LLMConfig struct {
	BaseURL     string   `yaml:"base_url"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	Models      []string `yaml:"models"`
	Temperature float32  `yaml:"temperature"`
	MaxRetries  int      `yaml:"max_retries"`
}

// RerankConfig configures the precision stage.
type RerankConfig struct {
	Endpoint            string  `yaml:"endpoint"`
	Method              string  `yaml:"method"`
	ShortlistMultiplier int     `yaml:"shortlist_multiplier"`
	LateWeight          float64 `yaml:"late_weight"`
}

// IndexConfig configures the ANN index and fallback store.
type IndexConfig struct {
	Dimensions     int     `yaml:"dimensions"`
	MaxElements    int     `yaml:"max_elements"`
	M              int     `yaml:"m"`
	EfConstruction int     `yaml:"ef_construction"`
	EfSearch       int     `yaml:"ef_search"`
	DedupThreshold float64 `yaml:"dedup_threshold"`
	Quantization   string  `yaml:"quantization"`
}

// ChunkerConfig configures document splitting.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// Config is the root configuration.
type Config struct {
	DataDir      string         `yaml:"data_dir"`
	TopK         int            `yaml:"top_k"`
	RewriteQuery bool           `yaml:"rewrite_query"`
	Embedder     EmbedderConfig `yaml:"embedder"`
	LLM          LLMConfig      `yaml:"llm"`
	Rerank       RerankConfig   `yaml:"rerank"`
	Index        IndexConfig    `yaml:"index"`
	Chunker      ChunkerConfig  `yaml:"chunker"`
}

// Load reads a config file, falling back to defaults when it does not
// exist. A .env file next to the working directory is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadDefault tries ./docrag.yaml, then ~/.config/docrag/config.yaml,
// then defaults.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("docrag.yaml"); err == nil {
		return Load("docrag.yaml")
	}
	home, err := os.UserHomeDir()
	if err == nil {
		userPath := filepath.Join(home, ".config", "docrag", "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return Load(userPath)
		}
	}
	_ = godotenv.Load()
	return Default(), nil
}

// Default returns the standard configuration.
func Default() *Config {
	return &Config{
		DataDir:      defaultDataDir(),
		TopK:         5,
		RewriteQuery: false,
		Embedder: EmbedderConfig{
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       "text-embedding-3-small",
			Prefix:      "passage: ",
			BatchSize:   64,
			TimeoutSecs: 30,
		},
		LLM: LLMConfig{
			APIKeyEnv:   "OPENAI_API_KEY",
			Models:      []string{"gpt-4o-mini"},
			Temperature: 0.3,
			MaxRetries:  2,
		},
		Rerank: RerankConfig{
			Endpoint:            "http://localhost:8081",
			Method:              "hybrid",
			ShortlistMultiplier: 4,
			LateWeight:          0.7,
		},
		Index: IndexConfig{
			Dimensions:     1536,
			MaxElements:    10000,
			M:              16,
			EfConstruction: 200,
			EfSearch:       50,
			DedupThreshold: 0.92,
			Quantization:   "none",
		},
		Chunker: ChunkerConfig{
			ChunkSize:    500,
			ChunkOverlap: 100,
		},
	}
}

// APIKey resolves the embedder API key from the configured env var.
func (e EmbedderConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return os.Getenv("OPENAI_API_KEY")
	}
	return os.Getenv(e.APIKeyEnv)
}

// APIKey resolves the chat API key from the configured env var.
func (l LLMConfig) APIKey() string {
	if l.APIKeyEnv == "" {
		return os.Getenv("OPENAI_API_KEY")
	}
	return os.Getenv(l.APIKeyEnv)
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = def.Embedder.Model
	}
	if cfg.Embedder.BatchSize <= 0 {
		cfg.Embedder.BatchSize = def.Embedder.BatchSize
	}
	if cfg.Embedder.TimeoutSecs <= 0 {
		cfg.Embedder.TimeoutSecs = def.Embedder.TimeoutSecs
	}
	if len(cfg.LLM.Models) == 0 {
		cfg.LLM.Models = def.LLM.Models
	}
	if cfg.Rerank.Method == "" {
		cfg.Rerank.Method = def.Rerank.Method
	}
	if cfg.Rerank.ShortlistMultiplier <= 0 {
		cfg.Rerank.ShortlistMultiplier = def.Rerank.ShortlistMultiplier
	}
	if cfg.Rerank.LateWeight <= 0 || cfg.Rerank.LateWeight > 1 {
		cfg.Rerank.LateWeight = def.Rerank.LateWeight
	}
	if cfg.Index.Dimensions <= 0 {
		cfg.Index.Dimensions = def.Index.Dimensions
	}
	if cfg.Index.MaxElements <= 0 {
		cfg.Index.MaxElements = def.Index.MaxElements
	}
	if cfg.Index.M <= 0 {
		cfg.Index.M = def.Index.M
	}
	if cfg.Index.EfConstruction <= 0 {
		cfg.Index.EfConstruction = def.Index.EfConstruction
	}
	if cfg.Index.EfSearch <= 0 {
		cfg.Index.EfSearch = def.Index.EfSearch
	}
	if cfg.Index.DedupThreshold <= 0 || cfg.Index.DedupThreshold > 1 {
		cfg.Index.DedupThreshold = def.Index.DedupThreshold
	}
	if cfg.Chunker.ChunkSize <= 0 {
		cfg.Chunker.ChunkSize = def.Chunker.ChunkSize
	}
	if cfg.Chunker.ChunkOverlap < 0 {
		cfg.Chunker.ChunkOverlap = def.Chunker.ChunkOverlap
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docrag"
	}
	return filepath.Join(home, ".docrag")
}
