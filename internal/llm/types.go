package llm

import "time"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry of the context sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream event types.
const (
	EventContent = "content"
	EventDone    = "done"
	EventError   = "error"
)

// StreamEvent represents one fragment of a streamed reply.
type StreamEvent struct {
	Type    string // "content", "done", "error"
	Content string // For "content" events
	Error   string // For "error" events
}

// StreamCallback is called for each event in the stream, in arrival order.
type StreamCallback func(event StreamEvent)

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Reply is the concatenated answer of one exchange.
type Reply struct {
	Text      string        `json:"text"`
	Model     string        `json:"model"`
	Fragments int           `json:"fragments"`
	Dropped   int           `json:"dropped,omitempty"` // context messages trimmed to fit the budget
	Duration  time.Duration `json:"duration"`
}
