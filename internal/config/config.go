package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Stores    StoresConfig    `yaml:"stores"`
	Indexer   IndexerConfig   `yaml:"indexer,omitempty"`
	Search    SearchConfig    `yaml:"search,omitempty"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "volcengine" | "openai"

	// VolcEngine specific
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`

	// OpenAI specific
	OpenAIAPIKey string `yaml:"openai_api_key,omitempty"`
	OpenAIModel  string `yaml:"openai_model,omitempty"`

	// Dimensions is the requested embedding width. Zero means the
	// provider's model default.
	Dimensions int `yaml:"dimensions,omitempty"`

	BatchSize int `yaml:"batch_size"` // Batch size for embedding requests
}

// StoresConfig holds vector store configuration for both collections.
// The chunk and atom collections are logically separate and may be
// configured with independent dimensions.
type StoresConfig struct {
	Backend string `yaml:"backend"` // "qdrant" | "local"

	// Qdrant specific
	QdrantURL    string `yaml:"qdrant_url,omitempty"`
	QdrantAPIKey string `yaml:"qdrant_api_key,omitempty"`

	// Local (sqlite) specific
	Path string `yaml:"path,omitempty"`

	ChunkCollection string `yaml:"chunk_collection,omitempty"`
	AtomCollection  string `yaml:"atom_collection,omitempty"`
	ChunkDimensions int    `yaml:"chunk_dimensions,omitempty"`
	AtomDimensions  int    `yaml:"atom_dimensions,omitempty"`

	// TextIndexPath is the directory of the bleve keyword index.
	TextIndexPath string `yaml:"text_index_path,omitempty"`
}

// IndexerConfig holds ingestion-specific configuration
type IndexerConfig struct {
	MaxWorkers int  `yaml:"max_workers,omitempty"` // Bound on concurrent atom embedding
	Progress   bool `yaml:"progress,omitempty"`    // Show a progress bar on TTYs
}

// SearchConfig holds retrieval-specific configuration
type SearchConfig struct {
	DefaultTopK    int     `yaml:"default_top_k,omitempty"`
	ScoreThreshold float64 `yaml:"score_threshold,omitempty"` // <= 0 disables
}

// Load loads configuration from the default config file
// Default location: ~/.atomdex/config/atomdex.yaml
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromFile(path)
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".atomdex", "config", "atomdex.yaml"), nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			defaultPath, _ := DefaultPath()
			return nil, &ConfigNotFoundError{
				RequestedPath: path,
				DefaultPath:   defaultPath,
			}
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ConfigNotFoundError is returned when config file is not found
type ConfigNotFoundError struct {
	RequestedPath string
	DefaultPath   string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found at: %s\n\nDefault location: %s\n\nYou can:\n"+
		"  1. Create the config file at the default location\n"+
		"  2. Specify a custom path with -config flag",
		e.RequestedPath, e.DefaultPath)
}

// IsConfigNotFound checks if error is config not found
func IsConfigNotFound(err error) bool {
	_, ok := err.(*ConfigNotFoundError)
	return ok
}

// expandPath expands ~ and $HOME to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "$HOME/") || path == "$HOME" {
		homeDir := os.Getenv("HOME")
		if homeDir == "" {
			var err error
			homeDir, err = os.UserHomeDir()
			if err != nil {
				return path
			}
		}
		if path == "$HOME" {
			return homeDir
		}
		return filepath.Join(homeDir, path[6:])
	}

	if strings.HasPrefix(path, "~/") || path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return homeDir
		}
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = 10
	}

	if c.Stores.Backend == "" {
		if strings.TrimSpace(c.Stores.QdrantURL) != "" {
			c.Stores.Backend = "qdrant"
		} else {
			c.Stores.Backend = "local"
		}
	}
	if c.Stores.ChunkCollection == "" {
		c.Stores.ChunkCollection = "chunks"
	}
	if c.Stores.AtomCollection == "" {
		c.Stores.AtomCollection = "atoms"
	}
	if c.Stores.ChunkDimensions == 0 {
		c.Stores.ChunkDimensions = 1536
	}
	if c.Stores.AtomDimensions == 0 {
		c.Stores.AtomDimensions = c.Stores.ChunkDimensions
	}
	if c.Stores.Path != "" {
		c.Stores.Path = expandPath(c.Stores.Path)
	}
	if c.Stores.TextIndexPath != "" {
		c.Stores.TextIndexPath = expandPath(c.Stores.TextIndexPath)
	}

	if c.Indexer.MaxWorkers == 0 {
		c.Indexer.MaxWorkers = 4
	}

	if c.Search.DefaultTopK == 0 {
		c.Search.DefaultTopK = 10
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "volcengine":
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("volcengine provider requires api_key")
		}
	case "openai":
		if c.Embedding.OpenAIAPIKey == "" {
			return fmt.Errorf("openai provider requires openai_api_key")
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedding.Provider)
	}

	switch c.Stores.Backend {
	case "qdrant":
		if strings.TrimSpace(c.Stores.QdrantURL) == "" {
			return fmt.Errorf("qdrant backend requires qdrant_url")
		}
	case "local":
		if strings.TrimSpace(c.Stores.Path) == "" {
			return fmt.Errorf("local backend requires path")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Stores.Backend)
	}

	if c.Stores.ChunkDimensions <= 0 || c.Stores.AtomDimensions <= 0 {
		return fmt.Errorf("store dimensions must be positive, got chunk=%d atom=%d",
			c.Stores.ChunkDimensions, c.Stores.AtomDimensions)
	}

	if c.Embedding.BatchSize <= 0 || c.Embedding.BatchSize > 100 {
		return fmt.Errorf("batch_size must be between 1 and 100, got: %d", c.Embedding.BatchSize)
	}

	if c.Indexer.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive, got: %d", c.Indexer.MaxWorkers)
	}

	return nil
}

const defaultConfigTemplate = `# Atomdex Configuration
#
# Copy and edit this file for your environment.
# Default location: $HOME/.atomdex/config/atomdex.yaml

embedding:
  # Provider: "openai" or "volcengine"
  provider: openai
  openai_api_key: your-openai-api-key
  openai_model: text-embedding-3-small
  batch_size: 10

  # VolcEngine configuration (alternative)
  # provider: volcengine
  # api_key: your-volcengine-api-key
  # endpoint: https://ark.cn-beijing.volces.com/api/v3/embeddings
  # model: doubao-embedding-vision-250615

stores:
  # Backend: "local" (sqlite, no server) or "qdrant"
  backend: local
  path: ~/.atomdex/data
  # qdrant_url: http://127.0.0.1:6333
  # qdrant_api_key: ""
  chunk_collection: chunks
  atom_collection: atoms
  chunk_dimensions: 1536
  atom_dimensions: 1536
  text_index_path: ~/.atomdex/data/textindex

indexer:
  max_workers: 4
  progress: true

search:
  default_top_k: 10
  score_threshold: 0
`

// WriteDefaultTemplate creates a default configuration file if it does not exist.
// It returns true if a file was created, false if it already existed.
func WriteDefaultTemplate(path string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return false, fmt.Errorf("failed to write config template: %w", err)
	}

	return true, nil
}
