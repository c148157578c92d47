package llm

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// messageOverhead approximates the per-message framing tokens.
const messageOverhead = 4

// tokenCounter counts cl100k_base tokens. When the encoding cannot be
// loaded it counts four bytes per token instead.
type tokenCounter struct {
	once  sync.Once
	codec tokenizer.Codec
}

var tokens tokenCounter

func (tc *tokenCounter) load() {
	tc.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Info("tokenizer unavailable, estimating by length", "error", err)
			return
		}
		tc.codec = codec
	})
}

func (tc *tokenCounter) count(text string) int {
	tc.load()
	if tc.codec == nil {
		return len(text) / 4
	}
	ids, _, err := tc.codec.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// EstimateTokens returns the token count of text.
func EstimateTokens(text string) int {
	return tokens.count(text)
}

func messageCost(m Message) int {
	return tokens.count(m.Content) + messageOverhead
}

// EstimateMessages returns the approximate token cost of messages.
func EstimateMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += messageCost(m)
	}
	return total
}

// TrimToBudget drops the oldest conversation messages until the estimate
// fits budget. Leading system messages and the final message are always
// kept. A budget of zero or less disables trimming. It returns the trimmed
// slice and how many messages were dropped.
func TrimToBudget(messages []Message, budget int) ([]Message, int) {
	if budget <= 0 || len(messages) < 2 {
		return messages, 0
	}

	head := 0
	for head < len(messages)-1 && messages[head].Role == RoleSystem {
		head++
	}
	last := messages[len(messages)-1]
	middle := messages[head : len(messages)-1]

	cost := make([]int, len(middle))
	total := EstimateMessages(messages[:head]) + messageCost(last)
	for i, m := range middle {
		cost[i] = messageCost(m)
		total += cost[i]
	}

	drop := 0
	for drop < len(middle) && total > budget {
		total -= cost[drop]
		drop++
	}
	// Never leave a reply without the diff it answered.
	for drop < len(middle) && middle[drop].Role == RoleAssistant {
		drop++
	}
	if drop == 0 {
		return messages, 0
	}

	out := make([]Message, 0, len(messages)-drop)
	out = append(out, messages[:head]...)
	out = append(out, middle[drop:]...)
	out = append(out, last)
	return out, drop
}
