package autospg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shawnsang/auto-openspg-schema/schema"
)

// Config holds all configuration for the schema engine.
type Config struct {
	// Namespace is the OpenSPG namespace for the generated schema.
	Namespace string `json:"namespace" yaml:"namespace"`

	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.autospg/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.autospg/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Chunking (sizes in runes)
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// ExtractConcurrency caps parallel LLM calls during extraction.
	ExtractConcurrency int `json:"extract_concurrency" yaml:"extract_concurrency"`

	// Merge tunes duplicate detection.
	Merge schema.MergeConfig `json:"merge" yaml:"merge"`

	// EmbeddingDim must match the embedding model's output dimension.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, ollama, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.autospg/autospg.db by default.
func DefaultConfig() Config {
	return Config{
		Namespace:  "TunnelConstruction",
		DBName:     "autospg",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "qwen2.5:14b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "bge-m3",
			BaseURL:  "http://localhost:11434",
		},
		ChunkSize:          1500,
		ChunkOverlap:       200,
		ExtractConcurrency: 3,
		Merge:              schema.DefaultMergeConfig(),
		EmbeddingDim:       1024,
	}
}

// LoadConfig reads a JSON or YAML config file, layered over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	default:
		return cfg, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, filepath.Ext(path))
	}

	if cfg.Namespace == "" {
		return cfg, fmt.Errorf("%w: namespace must not be empty", ErrInvalidConfig)
	}
	return cfg, nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "autospg"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".autospg", name+".db")
	}
}
