package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider is a model service that can list its models and stream a reply.
type Provider interface {
	Name() string
	ListModels(ctx context.Context) ([]ModelInfo, error)
	ChatStream(ctx context.Context, model string, messages []Message, callback StreamCallback) error
}

// ProviderConfig holds what every provider needs to connect.
type ProviderConfig struct {
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// NewProvider builds the provider registered under name.
func NewProvider(name string, cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(name) {
	case "", "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}
