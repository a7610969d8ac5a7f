package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the persistent application configuration
type Config struct {
	// DataDir holds the flag database, logs and the event log.
	DataDir  string `mapstructure:"data_dir" json:"data_dir"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`

	AI      AIConfig      `mapstructure:"ai" json:"ai"`
	Insight InsightConfig `mapstructure:"insight" json:"insight"`
	UI      UIConfig      `mapstructure:"ui" json:"ui"`
}

// AIConfig selects and configures the insight provider.
type AIConfig struct {
	Provider  string  `mapstructure:"provider" json:"provider"` // "gemini", "openai", "ollama" or "static"
	APIKey    string  `mapstructure:"api_key" json:"api_key,omitempty"`
	Endpoint  string  `mapstructure:"endpoint" json:"endpoint,omitempty"` // chat-completions URL for openai/ollama
	Model     string  `mapstructure:"model" json:"model,omitempty"`
	MaxTokens int     `mapstructure:"max_tokens" json:"max_tokens"`
	RateLimit float64 `mapstructure:"rate_limit" json:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int     `mapstructure:"burst" json:"burst"`
}

// InsightConfig tunes insight loading.
type InsightConfig struct {
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// UIConfig holds UI preferences
type UIConfig struct {
	Theme       string `mapstructure:"theme" json:"theme"`
	DefaultKind string `mapstructure:"default_spread" json:"default_spread"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir:  DefaultDataDir(),
		LogLevel: "info",
		AI: AIConfig{
			Provider:  "static",
			MaxTokens: 512,
			RateLimit: 1,
			Burst:     2,
		},
		Insight: InsightConfig{
			Timeout: 30 * time.Second,
		},
		UI: UIConfig{
			Theme:       "dark",
			DefaultKind: "three",
		},
	}
}

// DefaultDataDir is ~/.arcana, or ./.arcana when there is no home directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arcana"
	}
	return filepath.Join(home, ".arcana")
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.json")
}

// Load reads the config file at path (ConfigPath() when empty), layers
// ARCANA_* environment variables on top and fills provider keys from the
// usual vendor variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path == "" {
		path = ConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetEnvPrefix("ARCANA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.AutoPopulateFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every field so AutomaticEnv can override keys that
// never appear in the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("ai.provider", d.AI.Provider)
	v.SetDefault("ai.api_key", d.AI.APIKey)
	v.SetDefault("ai.endpoint", d.AI.Endpoint)
	v.SetDefault("ai.model", d.AI.Model)
	v.SetDefault("ai.max_tokens", d.AI.MaxTokens)
	v.SetDefault("ai.rate_limit", d.AI.RateLimit)
	v.SetDefault("ai.burst", d.AI.Burst)
	v.SetDefault("insight.timeout", d.Insight.Timeout)
	v.SetDefault("ui.theme", d.UI.Theme)
	v.SetDefault("ui.default_spread", d.UI.DefaultKind)
}

// Validate rejects settings the app cannot run with.
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case "gemini", "openai", "ollama", "static":
	default:
		return fmt.Errorf("ai.provider %q: want gemini, openai, ollama or static", c.AI.Provider)
	}
	if c.Insight.Timeout <= 0 {
		return fmt.Errorf("insight.timeout must be positive, got %s", c.Insight.Timeout)
	}
	if c.AI.RateLimit < 0 {
		return fmt.Errorf("ai.rate_limit must not be negative")
	}
	return nil
}

// Save writes config to path (ConfigPath() when empty).
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for API keys
}

// AutoPopulateFromEnv fills in API keys from environment variables
func (c *Config) AutoPopulateFromEnv() {
	if c.AI.APIKey != "" {
		return
	}
	switch c.AI.Provider {
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			c.AI.APIKey = key
		} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			c.AI.APIKey = key
		}
	case "openai":
		c.AI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Paths under DataDir.

func (c *Config) LogDir() string       { return filepath.Join(c.DataDir, "logs") }
func (c *Config) EventLogPath() string { return filepath.Join(c.DataDir, "events.jsonl") }
func (c *Config) FlagDBPath() string   { return filepath.Join(c.DataDir, "arcana.db") }
