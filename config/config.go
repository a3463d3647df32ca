// Package config loads doctier settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/doctier/ai"
	"github.com/poiesic/doctier/core"
	"github.com/poiesic/doctier/decision"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCTIER_"

// Vector backends.
const (
	BackendLocal  = "local"
	BackendQdrant = "qdrant"
)

// Tokenizers.
const (
	TokenizerTiktoken = "tiktoken"
	TokenizerWords    = "words"
)

// QdrantConfig contains connection details for a Qdrant server.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// VectorConfig selects the vector index implementation.
type VectorConfig struct {
	Backend     string       `yaml:"backend"`
	Qdrant      QdrantConfig `yaml:"qdrant"`
	BatchSize   int          `yaml:"batch_size"`
	Concurrency int          `yaml:"concurrency"`
}

// EmbeddingConfig configures the OpenAI-compatible embedding service.
type EmbeddingConfig struct {
	Host       string `yaml:"host"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
}

// Config is the root configuration.
type Config struct {
	// DataDir holds the badger database for records and the local index.
	DataDir         string              `yaml:"data_dir"`
	Vector          VectorConfig        `yaml:"vector"`
	Embedding       EmbeddingConfig     `yaml:"embedding"`
	Tokenizer       string              `yaml:"tokenizer"`
	ChunkOverlap    int                 `yaml:"chunk_overlap"`
	ExtractTimeout  time.Duration       `yaml:"extract_timeout"`
	EmbedTimeout    time.Duration       `yaml:"embed_timeout"`
	BatchWorkers    int                 `yaml:"batch_workers"`
	CleanupInterval time.Duration       `yaml:"cleanup_interval"`
	DefaultModel    string              `yaml:"default_model"`
	Profiles        []core.ModelProfile `yaml:"profiles,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	aiCfg := ai.DefaultConfig()
	return &Config{
		DataDir: defaultDataDir(),
		Vector: VectorConfig{
			Backend:     BackendLocal,
			Qdrant:      QdrantConfig{Host: "localhost", Port: 6334},
			BatchSize:   32,
			Concurrency: 4,
		},
		Embedding: EmbeddingConfig{
			Host:       aiCfg.EmbeddingHost,
			Model:      aiCfg.EmbeddingModel,
			APIKey:     aiCfg.APIKey,
			Dimensions: aiCfg.Dimensions,
		},
		Tokenizer:       TokenizerTiktoken,
		ChunkOverlap:    100,
		ExtractTimeout:  60 * time.Second,
		EmbedTimeout:    5 * time.Minute,
		BatchWorkers:    5,
		CleanupInterval: time.Hour,
		DefaultModel:    "gpt-4o-mini",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "doctier-data"
	}
	return filepath.Join(home, ".local", "share", "doctier")
}

// Load reads a config file, applies DOCTIER_* environment overrides and
// validates the result. A missing file yields the defaults. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}

	str("DATA_DIR", &c.DataDir)
	str("VECTOR_BACKEND", &c.Vector.Backend)
	str("QDRANT_HOST", &c.Vector.Qdrant.Host)
	str("QDRANT_API_KEY", &c.Vector.Qdrant.APIKey)
	str("EMBEDDING_HOST", &c.Embedding.Host)
	str("EMBEDDING_MODEL", &c.Embedding.Model)
	str("EMBEDDING_API_KEY", &c.Embedding.APIKey)
	str("TOKENIZER", &c.Tokenizer)
	str("DEFAULT_MODEL", &c.DefaultModel)

	if v, ok := lookup(EnvPrefix + "QDRANT_TLS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sQDRANT_TLS: %w", EnvPrefix, err)
		}
		c.Vector.Qdrant.UseTLS = b
	}

	return errors.Join(
		num("QDRANT_PORT", &c.Vector.Qdrant.Port),
		num("EMBEDDING_DIMENSIONS", &c.Embedding.Dimensions),
		num("CHUNK_OVERLAP", &c.ChunkOverlap),
		num("BATCH_WORKERS", &c.BatchWorkers),
		dur("EXTRACT_TIMEOUT", &c.ExtractTimeout),
		dur("EMBED_TIMEOUT", &c.EmbedTimeout),
		dur("CLEANUP_INTERVAL", &c.CleanupInterval),
	)
}

// Validate checks the configuration for values the services would reject.
func (c *Config) Validate() error {
	c.Vector.Backend = strings.ToLower(strings.TrimSpace(c.Vector.Backend))
	c.Tokenizer = strings.ToLower(strings.TrimSpace(c.Tokenizer))

	var errs []error
	switch c.Vector.Backend {
	case BackendLocal:
		if c.DataDir == "" {
			errs = append(errs, errors.New("config: data_dir is required"))
		}
	case BackendQdrant:
		if c.Vector.Qdrant.Host == "" {
			errs = append(errs, errors.New("config: vector.qdrant.host is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown vector backend %q", c.Vector.Backend))
	}
	switch c.Tokenizer {
	case TokenizerTiktoken, TokenizerWords:
	default:
		errs = append(errs, fmt.Errorf("config: unknown tokenizer %q", c.Tokenizer))
	}
	if c.ChunkOverlap < 0 {
		errs = append(errs, errors.New("config: chunk_overlap cannot be negative"))
	}
	if c.ExtractTimeout <= 0 || c.EmbedTimeout <= 0 {
		errs = append(errs, errors.New("config: timeouts must be positive"))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("config: cleanup_interval must be positive"))
	}
	if c.BatchWorkers <= 0 {
		errs = append(errs, errors.New("config: batch_workers must be positive"))
	}
	if err := c.AIConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range c.Profiles {
		if err := core.ValidateModelProfile(p); err != nil {
			errs = append(errs, fmt.Errorf("config: profile %q: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

// AIConfig converts the embedding settings for ai/openai.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithAPIKey(c.Embedding.APIKey),
		ai.WithDimensions(c.Embedding.Dimensions),
	)
}

// ModelProfiles returns the built-in profiles with the configured ones applied.
func (c *Config) ModelProfiles() (*decision.Profiles, error) {
	p := decision.DefaultProfiles()
	if err := p.SetAll(c.Profiles); err != nil {
		return nil, err
	}
	return p, nil
}
