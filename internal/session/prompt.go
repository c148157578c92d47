package session

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/youruser/pairprog/internal/llm"
	"github.com/youruser/pairprog/internal/state"
)

//go:embed system_prompt.txt
var defaultSystemPrompt string

// DefaultSystemPrompt returns the built-in reviewer instructions.
func DefaultSystemPrompt() string {
	return strings.TrimSpace(defaultSystemPrompt)
}

// formatDiff wraps a patch the way it is sent to the model.
func formatDiff(resource, patch string) string {
	var b strings.Builder
	if resource != "" {
		fmt.Fprintf(&b, "File: %s\n", resource)
	}
	b.WriteString("```diff\n")
	b.WriteString(strings.TrimRight(patch, "\n"))
	b.WriteString("\n```")
	return b.String()
}

// buildMessages assembles the context of one exchange: system prompt,
// optional custom instructions, the prior transcript as user/assistant
// turns, then the new diff.
func buildMessages(system, custom string, transcript []state.Entry, resource, patch string) []llm.Message {
	msgs := make([]llm.Message, 0, len(transcript)+3)
	if system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	if custom = strings.TrimSpace(custom); custom != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: custom})
	}
	for _, e := range transcript {
		if e.IsSent() {
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: formatDiff(e.Resource, e.Text)})
		} else {
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: e.Text})
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: formatDiff(resource, patch)})
	return msgs
}
