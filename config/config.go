// Package config loads the daemon configuration from a TOML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the daemon configuration
type Config struct {
	// Listen is the HTTP bind address.
	Listen string `toml:"listen"`

	Store   StoreConfig   `toml:"store"`
	Webhook WebhookConfig `toml:"webhook"`
	LLM     LLMConfig     `toml:"llm"`
	Review  ReviewConfig  `toml:"review"`
}

// StoreConfig selects and configures the run store backend.
type StoreConfig struct {
	// Driver is "memory", "sqlite", or "mysql".
	Driver string `toml:"driver"`

	// Path is the database file for the sqlite driver.
	Path string `toml:"path"`

	// DSN is the connection string for the mysql driver.
	DSN string `toml:"dsn"`
}

// WebhookConfig configures webhook ingress.
type WebhookConfig struct {
	// Secret verifies X-Hub-Signature-256 on GitHub deliveries. Empty
	// disables verification.
	Secret string `toml:"secret"`
}

// LLMConfig selects the review model provider.
type LLMConfig struct {
	// Provider is "anthropic", "openai", or "google".
	Provider string `toml:"provider"`

	// Model overrides the provider's default model when set.
	Model string `toml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `toml:"api_key_env"`
}

// ReviewConfig tunes the review workflow.
type ReviewConfig struct {
	// Concurrency bounds simultaneous review runs.
	Concurrency int `toml:"concurrency"`

	// MaxAttempts, BaseDelay, and MaxDelay shape the per-step retry
	// policy.
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   duration `toml:"base_delay"`
	MaxDelay    duration `toml:"max_delay"`

	// AdmissionTimeout bounds how long a review run waits for a
	// concurrency slot. Zero waits indefinitely.
	AdmissionTimeout duration `toml:"admission_timeout"`
}

// duration decodes TOML string values like "500ms" or "1m30s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Duration converts to the standard type.
func (d duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Listen: "127.0.0.1:8080",
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "reviewpilot.db",
		},
		LLM: LLMConfig{
			Provider:  "google",
			APIKeyEnv: "GEMINI_API_KEY",
		},
		Review: ReviewConfig{
			Concurrency: 5,
			MaxAttempts: 3,
			BaseDelay:   duration(500 * time.Millisecond),
			MaxDelay:    duration(30 * time.Second),
		},
	}
}

// Load reads the configuration at path over the defaults. A missing file
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "mysql":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai", "google":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Review.Concurrency < 0 {
		return fmt.Errorf("review concurrency cannot be negative")
	}
	return nil
}
