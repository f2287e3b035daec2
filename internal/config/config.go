// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the tierflow server.
// It handles loading and parsing YAML configuration files, and provides structured
// access to application settings including server bind address, logging, model
// tier definitions, router tunables, and the downstream batch API endpoint.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	Host string `yaml:"host"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	// Tiers defines the model tiers known to this deployment, cheapest first.
	Tiers []TierConfig `yaml:"tiers"`

	// Router holds the adaptive router tunables.
	Router RouterConfig `yaml:"router"`

	// Batch holds the batch queue and downstream API settings.
	Batch BatchConfig `yaml:"batch"`
}

// TierConfig describes one model tier available for routing.
type TierConfig struct {
	// ID is the tier identifier sent to the downstream API as the model name.
	ID string `yaml:"id"`
	// Class is the capability class: "economy", "standard" or "premium".
	Class string `yaml:"class"`
	// ContextLength is the tier's context window in tokens.
	ContextLength int `yaml:"context-length"`
	// CostPerMTok is the blended per-million-token cost in USD, used for ordering.
	CostPerMTok float64 `yaml:"cost-per-mtok"`
}

// RouterConfig holds the adaptive router tunables.
type RouterConfig struct {
	// Epsilon is the exploration probability for tier selection.
	Epsilon float64 `yaml:"epsilon"`
	// LearningRate is the step size for the bandit value update.
	LearningRate float64 `yaml:"learning-rate"`
	// LargeContextChars is the content length above which the router prefers
	// the highest-context tier regardless of score.
	LargeContextChars int `yaml:"large-context-chars"`
	// CheapTierCategories always route to the cheapest tier regardless of score.
	CheapTierCategories []string `yaml:"cheap-tier-categories"`
	// MinCapableClass is the lowest capability class security-sensitive tasks
	// and high-score budget-pause tasks may be routed to.
	MinCapableClass string `yaml:"min-capable-class"`
	// StatePath is the learning state file, resolved against the state directory.
	StatePath string `yaml:"state-path"`
}

// BatchConfig holds the batch queue and downstream API settings.
type BatchConfig struct {
	// BaseURL is the downstream batch API endpoint.
	BaseURL string `yaml:"base-url"`
	// APIKey authenticates against the downstream API. Overridable via
	// TIERFLOW_BATCH_API_KEY.
	APIKey string `yaml:"api-key"`
	// MaxQueueSize triggers an automatic flush when the local queue reaches it.
	MaxQueueSize int `yaml:"max-queue-size"`
	// AutoFlush enables the automatic flush at MaxQueueSize.
	AutoFlush bool `yaml:"auto-flush"`
	// PollInterval is the delay between downstream status polls (duration string).
	PollInterval string `yaml:"poll-interval"`
	// PollTimeout caps the total wait for a batch to reach a terminal state.
	PollTimeout string `yaml:"poll-timeout"`
	// RequestTimeout bounds individual downstream HTTP calls.
	RequestTimeout string `yaml:"request-timeout"`
}

// PollIntervalDuration parses PollInterval, falling back to 5s on bad input.
func (b *BatchConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(b.PollInterval, 5*time.Second)
}

// PollTimeoutDuration parses PollTimeout, falling back to 5m on bad input.
func (b *BatchConfig) PollTimeoutDuration() time.Duration {
	return parseDurationOr(b.PollTimeout, 5*time.Minute)
}

// RequestTimeoutDuration parses RequestTimeout, falling back to 30s on bad input.
func (b *BatchConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(b.RequestTimeout, 30*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// DefaultConfig returns a configuration populated with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Host: "127.0.0.1",
		Port: 8317,
		Tiers: []TierConfig{
			{ID: "claude-3-5-haiku", Class: "economy", ContextLength: 200000, CostPerMTok: 1.0},
			{ID: "claude-sonnet-4", Class: "standard", ContextLength: 200000, CostPerMTok: 6.0},
			{ID: "claude-opus-4", Class: "premium", ContextLength: 200000, CostPerMTok: 30.0},
		},
		Router: RouterConfig{
			Epsilon:             0.10,
			LearningRate:        0.1,
			LargeContextChars:   600000,
			CheapTierCategories: []string{"heartbeat"},
			MinCapableClass:     "standard",
			StatePath:           "router/rl-state.json",
		},
		Batch: BatchConfig{
			BaseURL:        "https://api.anthropic.com",
			MaxQueueSize:   100,
			AutoFlush:      true,
			PollInterval:   "5s",
			PollTimeout:    "5m",
			RequestTimeout: "30s",
		},
	}
}

// LoadConfig reads the YAML configuration file at path, applies defaults for
// unset fields and environment overrides, and validates the result.
// A missing file is not an error: the defaults are returned.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.Port == 0 {
		c.Port = def.Port
	}
	if len(c.Tiers) == 0 {
		c.Tiers = def.Tiers
	}
	// Epsilon is not defaulted here: the YAML is unmarshalled over a
	// default-populated config, so an absent key already carries 0.10
	// while an explicit "epsilon: 0" stays 0 and disables exploration.
	if c.Router.LearningRate == 0 {
		c.Router.LearningRate = def.Router.LearningRate
	}
	if c.Router.LargeContextChars == 0 {
		c.Router.LargeContextChars = def.Router.LargeContextChars
	}
	if c.Router.CheapTierCategories == nil {
		c.Router.CheapTierCategories = def.Router.CheapTierCategories
	}
	if c.Router.MinCapableClass == "" {
		c.Router.MinCapableClass = def.Router.MinCapableClass
	}
	if c.Router.StatePath == "" {
		c.Router.StatePath = def.Router.StatePath
	}
	if c.Batch.BaseURL == "" {
		c.Batch.BaseURL = def.Batch.BaseURL
	}
	if c.Batch.MaxQueueSize == 0 {
		c.Batch.MaxQueueSize = def.Batch.MaxQueueSize
	}
	if c.Batch.PollInterval == "" {
		c.Batch.PollInterval = def.Batch.PollInterval
	}
	if c.Batch.PollTimeout == "" {
		c.Batch.PollTimeout = def.Batch.PollTimeout
	}
	if c.Batch.RequestTimeout == "" {
		c.Batch.RequestTimeout = def.Batch.RequestTimeout
	}
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("TIERFLOW_BATCH_API_KEY"); key != "" {
		c.Batch.APIKey = key
	}
	if url := os.Getenv("TIERFLOW_BATCH_BASE_URL"); url != "" {
		c.Batch.BaseURL = url
	}
}

// Validate checks the configuration for structural problems that would make
// the server misbehave at runtime.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Router.Epsilon < 0 || c.Router.Epsilon > 1 {
		return fmt.Errorf("router epsilon must be in [0,1], got %v", c.Router.Epsilon)
	}
	if c.Router.LearningRate <= 0 || c.Router.LearningRate > 1 {
		return fmt.Errorf("router learning-rate must be in (0,1], got %v", c.Router.LearningRate)
	}
	if c.Batch.MaxQueueSize <= 0 {
		return fmt.Errorf("batch max-queue-size must be positive, got %d", c.Batch.MaxQueueSize)
	}
	seen := make(map[string]bool, len(c.Tiers))
	for _, tier := range c.Tiers {
		if tier.ID == "" {
			return fmt.Errorf("tier with empty id")
		}
		if seen[tier.ID] {
			return fmt.Errorf("duplicate tier id: %s", tier.ID)
		}
		seen[tier.ID] = true
		switch tier.Class {
		case "economy", "standard", "premium":
		default:
			return fmt.Errorf("tier %s has unknown class %q", tier.ID, tier.Class)
		}
	}
	return nil
}
