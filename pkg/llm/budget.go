package llm

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Budget trims chat history to fit a model's context window.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// NewBudget creates a history budget for the given model. model selects the
// tokenizer (e.g. "gpt-4o"); maxTokens is the input token allowance.
func NewBudget(model string, maxTokens int) (*Budget, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Budget{tokenizer: enc, maxTokens: maxTokens}, nil
}

func (b *Budget) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Count estimates the token cost of a message.
func (b *Budget) Count(msg Message) int {
	n := b.countTokens(msg.Content)
	for _, tc := range msg.Tools {
		n += b.countTokens(tc.Function.Name)
		n += b.countTokens(string(tc.Function.Arguments))
	}
	return n
}

// Trim drops the oldest complete turns until the history fits. A leading
// system message and the most recent turn are always kept, and a turn is
// never split, so tool calls stay paired with their results.
func (b *Budget) Trim(history []Message) []Message {
	if b == nil || b.maxTokens <= 0 || len(history) == 0 {
		return history
	}

	var head []Message
	body := history
	if body[0].Role == "system" {
		head = body[:1]
		body = body[1:]
	}

	total := 0
	for _, m := range history {
		total += b.Count(m)
	}

	for total > b.maxTokens {
		next := nextTurn(body)
		if next <= 0 || next >= len(body) {
			break
		}
		for _, m := range body[:next] {
			total -= b.Count(m)
		}
		body = body[next:]
	}

	out := make([]Message, 0, len(head)+len(body))
	out = append(out, head...)
	return append(out, body...)
}

// nextTurn returns the index of the second user message in msgs, i.e. where
// the turn after the first one begins, or -1 when there is only one turn.
func nextTurn(msgs []Message) int {
	seen := false
	for i, m := range msgs {
		if m.Role != "user" {
			continue
		}
		if seen {
			return i
		}
		seen = true
	}
	return -1
}
