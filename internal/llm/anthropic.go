package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropicProvider creates a provider for the Anthropic API.
func NewAnthropicProvider(cfg ProviderConfig) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// ListModels pages through every model the account can use.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	log.Debug("HTTP GET models", "provider", p.Name())

	var models []ModelInfo
	iter := p.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	for iter.Next() {
		m := iter.Current()
		models = append(models, ModelInfo{ID: m.ID, Name: m.DisplayName})
	}
	if err := iter.Err(); err != nil {
		log.Error("list models failed", "provider", p.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return models, nil
}

// ChatStream sends the messages and streams the text deltas. System
// messages are lifted into the request's system blocks.
func (p *AnthropicProvider) ChatStream(ctx context.Context, model string, messages []Message, callback StreamCallback) error {
	system, turns := splitAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: p.maxTokens,
		Messages:  turns,
	}
	if len(system) > 0 {
		params.System = system
	}

	log.Debug("HTTP POST messages", "provider", p.Name(), "model", model, "messages", len(turns))

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				callback(StreamEvent{Type: EventContent, Content: delta.Text})
			}
		case anthropic.MessageStopEvent:
			callback(StreamEvent{Type: EventDone})
			return nil
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("anthropic stream failed", "error", err)
		callback(StreamEvent{Type: EventError, Error: err.Error()})
		return fmt.Errorf("%w: %v", ErrStreamError, err)
	}
	callback(StreamEvent{Type: EventDone})
	return nil
}

// splitAnthropicMessages separates system text from the conversation and
// merges consecutive turns of the same role, which the API rejects.
func splitAnthropicMessages(messages []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam
	var pendingRole string
	var pending []string

	flush := func() {
		if len(pending) == 0 {
			return
		}
		block := anthropic.NewTextBlock(strings.Join(pending, "\n\n"))
		if pendingRole == RoleAssistant {
			turns = append(turns, anthropic.NewAssistantMessage(block))
		} else {
			turns = append(turns, anthropic.NewUserMessage(block))
		}
		pending = nil
	}

	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
			continue
		}
		role := RoleUser
		if m.Role == RoleAssistant {
			role = RoleAssistant
		}
		if role != pendingRole {
			flush()
			pendingRole = role
		}
		pending = append(pending, m.Content)
	}
	flush()
	return system, turns
}
