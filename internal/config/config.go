package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ErrNoConfig             = errors.New("config file not found")
	ErrNoAPIKey             = errors.New("api_key not set in config or environment")
	ErrInvalidConfig        = errors.New("invalid config YAML")
	ErrInvalidProvider      = errors.New("provider must be \"openai\" or \"anthropic\"")
	ErrInvalidDiffAlgorithm = errors.New("diff_algorithm must be \"unified\" or \"positional\"")
	ErrInvalidQuietPeriod   = errors.New("quiet_period_ms must be greater than zero")
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DiffUnified    = "unified"
	DiffPositional = "positional"
)

// Config holds the global pairprog configuration.
type Config struct {
	Provider           string      `mapstructure:"provider" yaml:"provider"`
	APIKey             string      `mapstructure:"api_key" yaml:"api_key"`
	BaseURL            string      `mapstructure:"base_url" yaml:"base_url,omitempty"`
	ModelFamily        string      `mapstructure:"model_family" yaml:"model_family"`               // Substring filter applied to the provider's model ids
	CustomInstructions string      `mapstructure:"custom_instructions" yaml:"custom_instructions"` // Appended as a second system message
	QuietPeriodMS      int         `mapstructure:"quiet_period_ms" yaml:"quiet_period_ms"`
	DiffAlgorithm      string      `mapstructure:"diff_algorithm" yaml:"diff_algorithm"`
	DiffContextLines   int         `mapstructure:"diff_context_lines" yaml:"diff_context_lines"`
	ContextTokenBudget int         `mapstructure:"context_token_budget" yaml:"context_token_budget"`
	RequestTimeoutSecs int         `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	Panel              PanelConfig `mapstructure:"panel" yaml:"panel"`
	Watch              WatchConfig `mapstructure:"watch" yaml:"watch"`
}

// PanelConfig controls the transcript panel.
type PanelConfig struct {
	Title string `mapstructure:"title" yaml:"title"`
	Addr  string `mapstructure:"addr" yaml:"addr"` // Listen address of the browser panel
}

// WatchConfig controls the standalone directory watcher.
type WatchConfig struct {
	Ignore []string `mapstructure:"ignore" yaml:"ignore"`
}

// QuietPeriod returns the debounce window as a duration.
func (c *Config) QuietPeriod() time.Duration {
	return time.Duration(c.QuietPeriodMS) * time.Millisecond
}

// RequestTimeout returns the per-request model timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "<redacted>"
	}
	return c
}

// Default returns the configuration used when no file sets a value.
func Default() Config {
	return Config{
		Provider:           ProviderOpenAI,
		QuietPeriodMS:      3000,
		DiffAlgorithm:      DiffUnified,
		DiffContextLines:   3,
		ContextTokenBudget: 16000,
		RequestTimeoutSecs: 120,
		Panel: PanelConfig{
			Title: "Pair Programmer Chat",
			Addr:  "127.0.0.1:7878",
		},
		Watch: WatchConfig{
			Ignore: []string{".git", ".hg", ".svn", "node_modules", "vendor", ".idea", "*.swp", "*.tmp", "*~"},
		},
	}
}

// DefaultPath returns ~/.config/pairprog/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "pairprog", "config.yaml"), nil
}

// Load reads the config from ~/.config/pairprog/config.yaml.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from a specific path. A missing file is only an
// error when the environment does not supply an API key either.
func LoadFrom(path string) (*Config, error) {
	def := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PAIRPROG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("provider", def.Provider)
	v.SetDefault("api_key", "")
	v.SetDefault("base_url", "")
	v.SetDefault("model_family", "")
	v.SetDefault("custom_instructions", "")
	v.SetDefault("quiet_period_ms", def.QuietPeriodMS)
	v.SetDefault("diff_algorithm", def.DiffAlgorithm)
	v.SetDefault("diff_context_lines", def.DiffContextLines)
	v.SetDefault("context_token_budget", def.ContextTokenBudget)
	v.SetDefault("request_timeout_seconds", def.RequestTimeoutSecs)
	v.SetDefault("panel.title", def.Panel.Title)
	v.SetDefault("panel.addr", def.Panel.Addr)
	v.SetDefault("watch.ignore", def.Watch.Ignore)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			fileFound = false
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.DiffAlgorithm = strings.ToLower(strings.TrimSpace(cfg.DiffAlgorithm))

	switch cfg.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		// valid
	default:
		return nil, ErrInvalidProvider
	}
	switch cfg.DiffAlgorithm {
	case DiffUnified, DiffPositional:
		// valid
	default:
		return nil, ErrInvalidDiffAlgorithm
	}
	if cfg.QuietPeriodMS <= 0 {
		return nil, ErrInvalidQuietPeriod
	}

	// Set defaults
	if cfg.APIKey == "" {
		cfg.APIKey = providerEnvKey(cfg.Provider)
	}
	// A base_url names a compatible server, which may not want a key.
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		if !fileFound {
			return nil, ErrNoConfig
		}
		return nil, ErrNoAPIKey
	}
	if cfg.DiffContextLines < 0 {
		cfg.DiffContextLines = def.DiffContextLines
	}
	if cfg.RequestTimeoutSecs <= 0 {
		cfg.RequestTimeoutSecs = def.RequestTimeoutSecs
	}
	if cfg.Panel.Title == "" {
		cfg.Panel.Title = def.Panel.Title
	}

	return &cfg, nil
}

func providerEnvKey(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}
