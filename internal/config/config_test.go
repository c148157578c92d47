package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv keeps the developer's shell from leaking keys into the tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY",
		"ANTHROPIC_API_KEY",
		"PAIRPROG_API_KEY",
		"PAIRPROG_BASE_URL",
		"PAIRPROG_PROVIDER",
		"PAIRPROG_MODEL_FAMILY",
		"PAIRPROG_QUIET_PERIOD_MS",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFrom(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, `
provider: anthropic
api_key: sk-test-123
base_url: https://api.example.com
model_family: claude-sonnet
custom_instructions: Focus on error handling.
quiet_period_ms: 1500
panel:
  addr: 127.0.0.1:9000
`)

		cfg, err := LoadFrom(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Provider != ProviderAnthropic {
			t.Errorf("Provider = %q, want %q", cfg.Provider, ProviderAnthropic)
		}
		if cfg.APIKey != "sk-test-123" {
			t.Errorf("APIKey = %q, want %q", cfg.APIKey, "sk-test-123")
		}
		if cfg.BaseURL != "https://api.example.com" {
			t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "https://api.example.com")
		}
		if cfg.ModelFamily != "claude-sonnet" {
			t.Errorf("ModelFamily = %q, want %q", cfg.ModelFamily, "claude-sonnet")
		}
		if cfg.CustomInstructions != "Focus on error handling." {
			t.Errorf("CustomInstructions = %q", cfg.CustomInstructions)
		}
		if cfg.QuietPeriod() != 1500*time.Millisecond {
			t.Errorf("QuietPeriod() = %v, want 1.5s", cfg.QuietPeriod())
		}
		if cfg.Panel.Addr != "127.0.0.1:9000" {
			t.Errorf("Panel.Addr = %q, want %q", cfg.Panel.Addr, "127.0.0.1:9000")
		}
		if cfg.Panel.Title != "Pair Programmer Chat" {
			t.Errorf("Panel.Title = %q, want default", cfg.Panel.Title)
		}
	})

	t.Run("defaults applied", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "api_key: sk-test-123\n")

		cfg, err := LoadFrom(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Provider != ProviderOpenAI {
			t.Errorf("Provider = %q, want default", cfg.Provider)
		}
		if cfg.QuietPeriodMS != 3000 {
			t.Errorf("QuietPeriodMS = %d, want 3000", cfg.QuietPeriodMS)
		}
		if cfg.DiffAlgorithm != DiffUnified {
			t.Errorf("DiffAlgorithm = %q, want %q", cfg.DiffAlgorithm, DiffUnified)
		}
		if cfg.DiffContextLines != 3 {
			t.Errorf("DiffContextLines = %d, want 3", cfg.DiffContextLines)
		}
		if cfg.RequestTimeout() != 120*time.Second {
			t.Errorf("RequestTimeout() = %v, want 2m", cfg.RequestTimeout())
		}
		if len(cfg.Watch.Ignore) == 0 {
			t.Error("Watch.Ignore should have defaults")
		}
	})

	t.Run("diff_algorithm positional", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "api_key: sk\ndiff_algorithm: Positional\n")
		cfg, err := LoadFrom(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.DiffAlgorithm != DiffPositional {
			t.Errorf("DiffAlgorithm = %q, want %q", cfg.DiffAlgorithm, DiffPositional)
		}
	})

	t.Run("invalid diff_algorithm", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "api_key: sk\ndiff_algorithm: semantic\n")
		_, err := LoadFrom(path)
		if !errors.Is(err, ErrInvalidDiffAlgorithm) {
			t.Errorf("expected ErrInvalidDiffAlgorithm, got %v", err)
		}
	})

	t.Run("invalid provider", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "api_key: sk\nprovider: carrier-pigeon\n")
		_, err := LoadFrom(path)
		if !errors.Is(err, ErrInvalidProvider) {
			t.Errorf("expected ErrInvalidProvider, got %v", err)
		}
	})

	t.Run("invalid quiet period", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "api_key: sk\nquiet_period_ms: 0\n")
		_, err := LoadFrom(path)
		if !errors.Is(err, ErrInvalidQuietPeriod) {
			t.Errorf("expected ErrInvalidQuietPeriod, got %v", err)
		}
	})

	t.Run("missing api key", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "model_family: gpt-4o\n")
		_, err := LoadFrom(path)
		if !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})

	t.Run("base url without api key", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "base_url: http://localhost:11434/v1\nmodel_family: llama\n")
		cfg, err := LoadFrom(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.APIKey != "" {
			t.Errorf("APIKey = %q, want empty", cfg.APIKey)
		}
		if cfg.BaseURL != "http://localhost:11434/v1" {
			t.Errorf("BaseURL = %q", cfg.BaseURL)
		}
	})

	t.Run("file not found", func(t *testing.T) {
		clearEnv(t)
		_, err := LoadFrom("/nonexistent/path/config.yaml")
		if !errors.Is(err, ErrNoConfig) {
			t.Errorf("expected ErrNoConfig, got %v", err)
		}
	})

	t.Run("file not found but key in environment", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-env")
		cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.APIKey != "sk-env" {
			t.Errorf("APIKey = %q, want %q", cfg.APIKey, "sk-env")
		}
	})

	t.Run("prefixed env overrides file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PAIRPROG_MODEL_FAMILY", "gpt-4.1")
		path := writeConfig(t, "api_key: sk\nmodel_family: gpt-4o\n")
		cfg, err := LoadFrom(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.ModelFamily != "gpt-4.1" {
			t.Errorf("ModelFamily = %q, want %q", cfg.ModelFamily, "gpt-4.1")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "api_key: [unterminated\n")
		_, err := LoadFrom(path)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "sk-secret"
	red := cfg.Redacted()
	if red.APIKey == "sk-secret" {
		t.Fatal("expected api key to be redacted")
	}
	if cfg.APIKey != "sk-secret" {
		t.Fatal("Redacted must not modify the receiver")
	}
}
