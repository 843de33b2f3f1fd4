// Package config loads triagetrain configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"triagetrain/internal/logging"
)

// Config holds all triagetrain configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Dataset generation defaults
	Dataset DatasetConfig `yaml:"dataset"`

	// Training job defaults
	Training TrainingConfig `yaml:"training"`

	// Campaign orchestration
	Campaign CampaignConfig `yaml:"campaign"`

	// Run registry
	Store StoreConfig `yaml:"store"`

	// Upstream referral service
	Upstream UpstreamConfig `yaml:"upstream"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DatasetConfig sets defaults for dataset generation.
type DatasetConfig struct {
	Strategy   string `yaml:"strategy"`
	StartDate  string `yaml:"start_date"`
	EndDate    string `yaml:"end_date"`
	OutputPath string `yaml:"output_path"`
}

// TrainingConfig sets defaults for training jobs.
type TrainingConfig struct {
	ModelVariant string  `yaml:"model_variant"`
	ChunkCount   int     `yaml:"chunk_count"`
	Epochs       int     `yaml:"epochs"`
	Seeds        []int64 `yaml:"seeds"`
	Persist      bool    `yaml:"persist"`
	OutDir       string  `yaml:"out_dir"`
}

// CampaignConfig configures the orchestrator.
type CampaignConfig struct {
	// Concurrent training job limit
	Workers int `yaml:"workers"`
}

// StoreConfig configures the run registry database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// UpstreamConfig configures the referral service client.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool     `yaml:"debug_mode"`
	Level      string   `yaml:"level"` // debug, info, warn, error
	Dir        string   `yaml:"dir"`
	JSONFormat bool     `yaml:"json_format"`
	Categories []string `yaml:"categories"` // empty means all
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "triagetrain",
		Version: "1.0.0",

		Dataset: DatasetConfig{
			Strategy:   "random_cyclic",
			StartDate:  "2015-01-01",
			EndDate:    "2020-12-31",
			OutputPath: "data/referrals.csv",
		},

		Training: TrainingConfig{
			ModelVariant: "radius_variance",
			ChunkCount:   4,
			Epochs:       100,
			Seeds:        []int64{1, 2, 3, 4},
			Persist:      true,
			OutDir:       "data/models",
		},

		Campaign: CampaignConfig{
			Workers: 4,
		},

		Store: StoreConfig{
			Path: "data/triagetrain.db",
		},

		Upstream: UpstreamConfig{
			BaseURL: "http://localhost:8082",
			Timeout: "30s",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
			Dir:       "logs",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("TRIAGETRAIN_UPSTREAM_URL"); url != "" {
		c.Upstream.BaseURL = url
	}
	if path := os.Getenv("TRIAGETRAIN_STORE_PATH"); path != "" {
		c.Store.Path = path
	}
	if dir := os.Getenv("TRIAGETRAIN_OUT_DIR"); dir != "" {
		c.Training.OutDir = dir
	}
	if w := os.Getenv("TRIAGETRAIN_WORKERS"); w != "" {
		if n, err := strconv.Atoi(w); err == nil && n > 0 {
			c.Campaign.Workers = n
		}
	}
	if os.Getenv("TRIAGETRAIN_DEBUG") == "1" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// GetUpstreamTimeout returns the upstream client timeout as a duration.
func (c *Config) GetUpstreamTimeout() time.Duration {
	d, err := time.ParseDuration(c.Upstream.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// LoggerConfig maps the logging section onto the file logger's config.
func (c *Config) LoggerConfig() logging.Config {
	// A non-empty categories list is an allowlist: everything not listed is
	// explicitly disabled, since the logger treats absent entries as enabled.
	var cats map[string]bool
	if len(c.Logging.Categories) > 0 {
		cats = make(map[string]bool, len(logging.AllCategories))
		for _, cat := range logging.AllCategories {
			cats[string(cat)] = false
		}
		for _, name := range c.Logging.Categories {
			cats[name] = true
		}
	}
	return logging.Config{
		DebugMode:  c.Logging.DebugMode,
		Level:      c.Logging.Level,
		JSONFormat: c.Logging.JSONFormat,
		Categories: cats,
	}
}
