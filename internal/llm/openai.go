package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible endpoint (OpenAI,
// OpenRouter, Ollama, llama.cpp).
type OpenAIProvider struct {
	client    *openai.Client
	baseURL   string
	maxTokens int
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible API.
func NewOpenAIProvider(cfg ProviderConfig) *OpenAIProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(oc),
		baseURL:   oc.BaseURL,
		maxTokens: cfg.MaxTokens,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// ListModels fetches the models offered by the endpoint.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	log.Debug("HTTP GET models", "base_url", p.baseURL)

	list, err := p.client.ListModels(ctx)
	if err != nil {
		log.Error("list models failed", "provider", p.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{ID: m.ID})
	}
	return models, nil
}

// ChatStream sends the messages and streams the reply fragments.
func (p *OpenAIProvider) ChatStream(ctx context.Context, model string, messages []Message, callback StreamCallback) error {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
		Stream:   true,
	}
	if p.maxTokens > 0 {
		req.MaxTokens = p.maxTokens
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openaiRole(m.Role),
			Content: m.Content,
		})
	}

	log.Debug("HTTP POST chat/completions", "base_url", p.baseURL, "model", model, "messages", len(req.Messages))

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		log.Error("chat request failed", "provider", p.Name(), "error", err)
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			callback(StreamEvent{Type: EventDone})
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			callback(StreamEvent{Type: EventError, Error: err.Error()})
			return fmt.Errorf("%w: %v", ErrStreamError, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			callback(StreamEvent{Type: EventContent, Content: content})
		}
	}
}

func openaiRole(role string) string {
	switch role {
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
