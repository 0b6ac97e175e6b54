// Package config loads engine settings from <home>/config.yaml with
// environment overrides. The price table ships here as data so the
// engine never hard-codes a model roster.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"octo/internal/pricing"
	"octo/internal/provider"
)

const (
	EnvHome    = "OCTO_HOME"
	EnvAPIKey  = "OCTO_API_KEY"
	EnvBaseURL = "OCTO_BASE_URL"
)

// ModelConfig is one roster entry: identity, window, and pricing.
type ModelConfig struct {
	ID            string  `yaml:"id"`
	DisplayName   string  `yaml:"display_name"`
	ContextWindow int64   `yaml:"context_window"`
	MaxTokens     int64   `yaml:"max_tokens"`
	InputPer1M    float64 `yaml:"input_per_1m"`
	OutputPer1M   float64 `yaml:"output_per_1m"`
}

type Config struct {
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	MaxTurns int    `yaml:"max_turns"`
	LogLevel string `yaml:"log_level"`

	Models []ModelConfig `yaml:"models"`

	// Home is the coordination root; not serialized, resolved at load.
	Home string `yaml:"-"`
}

// Home resolves the coordination root: $OCTO_HOME or ~/.octo-code.
func Home() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".octo-code"
	}
	return filepath.Join(home, ".octo-code")
}

// Load reads <home>/config.yaml, falling back to defaults when the
// file is absent, then applies environment overrides.
func Load() (*Config, error) {
	cfg := defaults()
	cfg.Home = Home()

	data, err := os.ReadFile(filepath.Join(cfg.Home, "config.yaml"))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
		// first run
	default:
		return nil, err
	}

	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 50
	}
	if cfg.Model == "" && len(cfg.Models) > 0 {
		cfg.Model = cfg.Models[0].ID
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		BaseURL:  "https://api.atlascloud.ai",
		MaxTurns: 50,
		LogLevel: "info",
		Models: []ModelConfig{
			{ID: "z-ai/glm-5", DisplayName: "GLM-5", ContextWindow: 202_752, MaxTokens: 131_072, InputPer1M: 0.80, OutputPer1M: 2.56},
			{ID: "z-ai/glm-4.7", DisplayName: "GLM-4.7", ContextWindow: 202_752, MaxTokens: 131_072, InputPer1M: 0.52, OutputPer1M: 1.75},
			{ID: "moonshotai/kimi-k2", DisplayName: "Kimi K2", ContextWindow: 262_144, MaxTokens: 131_072, InputPer1M: 0.55, OutputPer1M: 2.21},
			{ID: "deepseek-ai/deepseek-v3.2", DisplayName: "DeepSeek V3.2", ContextWindow: 163_840, MaxTokens: 65_536, InputPer1M: 0.25, OutputPer1M: 0.38},
		},
	}
}

// PriceTable renders the roster as a pricing table.
func (c *Config) PriceTable() pricing.Table {
	t := make(pricing.Table, len(c.Models))
	for _, m := range c.Models {
		t[m.ID] = pricing.Price{InputPer1M: m.InputPer1M, OutputPer1M: m.OutputPer1M}
	}
	return t
}

// FindModel resolves a model id against the roster.
func (c *Config) FindModel(id string) (provider.Model, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			name := m.DisplayName
			if name == "" {
				name = m.ID
			}
			return provider.Model{
				ID:            m.ID,
				DisplayName:   name,
				ContextWindow: m.ContextWindow,
				MaxTokens:     m.MaxTokens,
			}, true
		}
	}
	return provider.Model{}, false
}
