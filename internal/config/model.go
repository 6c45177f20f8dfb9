package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	EnvModelBaseURL     = "PROJECTOR_MODEL_BASE_URL"
	EnvModelAPIKeyEnv   = "PROJECTOR_MODEL_API_KEY_ENV"
	EnvModelName        = "PROJECTOR_MODEL_NAME"
	EnvModelTemperature = "PROJECTOR_MODEL_TEMPERATURE"
	EnvModelMaxTokens   = "PROJECTOR_MODEL_MAX_TOKENS"
	EnvModelMaxRequests = "PROJECTOR_MODEL_MAX_REQUESTS"
	EnvModelWindow      = "PROJECTOR_MODEL_WINDOW"
	EnvModelTimeout     = "PROJECTOR_MODEL_TIMEOUT"
	EnvModelDebug       = "PROJECTOR_MODEL_DEBUG"
)

// ModelConfig holds language model connection and rate limit parameters.
// APIKeyEnv names the environment variable carrying the key, so the key
// itself never appears in a config file. Debug runs the service against an
// offline model stub.
type ModelConfig struct {
	BaseURL     string  `toml:"base_url"`
	APIKeyEnv   string  `toml:"api_key_env"`
	Name        string  `toml:"name"`
	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	MaxRequests int     `toml:"max_requests"`
	Window      string  `toml:"window"`
	Timeout     string  `toml:"timeout"`
	Debug       bool    `toml:"debug"`
}

// APIKey resolves the configured key from the environment.
func (c *ModelConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// WindowDuration returns Window as a time.Duration.
func (c *ModelConfig) WindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.Window)
	return d
}

// TimeoutDuration returns Timeout as a time.Duration.
func (c *ModelConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *ModelConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *ModelConfig) Merge(overlay *ModelConfig) {
	if overlay.BaseURL != "" {
		c.BaseURL = overlay.BaseURL
	}
	if overlay.APIKeyEnv != "" {
		c.APIKeyEnv = overlay.APIKeyEnv
	}
	if overlay.Name != "" {
		c.Name = overlay.Name
	}
	if overlay.Temperature != 0 {
		c.Temperature = overlay.Temperature
	}
	if overlay.MaxTokens != 0 {
		c.MaxTokens = overlay.MaxTokens
	}
	if overlay.MaxRequests != 0 {
		c.MaxRequests = overlay.MaxRequests
	}
	if overlay.Window != "" {
		c.Window = overlay.Window
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
	if overlay.Debug {
		c.Debug = true
	}
}

func (c *ModelConfig) loadDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Name == "" {
		c.Name = "gpt-4o-mini"
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1000
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 300
	}
	if c.Window == "" {
		c.Window = "10s"
	}
	if c.Timeout == "" {
		c.Timeout = "2m"
	}
}

func (c *ModelConfig) loadEnv() {
	if v := os.Getenv(EnvModelBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvModelAPIKeyEnv); v != "" {
		c.APIKeyEnv = v
	}
	if v := os.Getenv(EnvModelName); v != "" {
		c.Name = v
	}
	if v := os.Getenv(EnvModelTemperature); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Temperature = f
		}
	}
	if v := os.Getenv(EnvModelMaxTokens); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxTokens = n
		}
	}
	if v := os.Getenv(EnvModelMaxRequests); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRequests = n
		}
	}
	if v := os.Getenv(EnvModelWindow); v != "" {
		c.Window = v
	}
	if v := os.Getenv(EnvModelTimeout); v != "" {
		c.Timeout = v
	}
	if v := os.Getenv(EnvModelDebug); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
		}
	}
}

func (c *ModelConfig) validate() error {
	if c.MaxRequests < 1 {
		return fmt.Errorf("invalid max_requests: %d", c.MaxRequests)
	}
	if _, err := time.ParseDuration(c.Window); err != nil {
		return fmt.Errorf("invalid window: %w", err)
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	return nil
}
