package common

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the process configuration. Runtime credentials and tuning knobs
// (LLM key, webhook URL, concurrency limits) live in the store's Settings
// singleton, not here; this covers only what the process needs before the
// store is open.
type Config struct {
	Environment string        `toml:"environment"`
	Storage     StorageConfig `toml:"storage"`
	Logging     LoggingConfig `toml:"logging"`
	Fetch       FetchConfig   `toml:"fetch"`
	LLM         LLMConfig     `toml:"llm"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"` // "debug", "info", "warn", "error"
	Output []string `toml:"output"`                                      // "stdout", "file"
}

// FetchConfig contains HTTP and headless-browser retrieval configuration.
type FetchConfig struct {
	UserAgent      string        `toml:"user_agent"`      // Desktop browser user agent for direct requests
	DirectTimeout  time.Duration `toml:"direct_timeout"`  // Direct HTTP GET timeout
	ResolveTimeout time.Duration `toml:"resolve_timeout"` // Aggregator redirect resolution timeout
	BrowserTimeout time.Duration `toml:"browser_timeout"` // Headless browser content fetch timeout
	Headless       bool          `toml:"headless"`        // Run the browser headless
	MaxBodySize    int64         `toml:"max_body_size"`   // Maximum response body size in bytes
}

// LLMConfig contains the chat-completion endpoint configuration. The API key
// is resolved from the Settings row at evaluation time.
type LLMConfig struct {
	BaseURL string        `toml:"base_url" validate:"required"` // Chat-completion API base URL
	Model   string        `toml:"model" validate:"required"`    // Model name (default: a fast general model)
	Timeout time.Duration `toml:"timeout"`                      // Per-request timeout
}

// NewDefaultConfig creates a configuration with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./rss_reader.db",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Fetch: FetchConfig{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			DirectTimeout:  15 * time.Second,
			ResolveTimeout: 30 * time.Second,
			BrowserTimeout: 45 * time.Second,
			Headless:       true,
			MaxBodySize:    10 * 1024 * 1024,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
	}
}

// LoadFromFiles loads configuration in priority order:
// defaults -> config files (later files override earlier) -> environment.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides. DB_PATH selects
// the store location; credentials are held in the Settings row, not in env.
func applyEnvOverrides(config *Config) {
	if path := os.Getenv("DB_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if base := os.Getenv("LLM_BASE_URL"); base != "" {
		config.LLM.BaseURL = base
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}
}
