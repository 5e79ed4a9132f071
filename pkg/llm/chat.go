package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ChatGateway keeps conversation state on this side of the wire so that a
// stateless Provider can serve as a Gateway.
type ChatGateway struct {
	provider Provider
	budget   *Budget
}

// NewChatGateway wraps provider. budget may be nil to send full history.
func NewChatGateway(provider Provider, budget *Budget) *ChatGateway {
	return &ChatGateway{provider: provider, budget: budget}
}

// Open starts a session. No request is made until the first SendText.
func (g *ChatGateway) Open(ctx context.Context, tools []Tool, instruction string) (Session, error) {
	if g.provider == nil {
		return nil, errors.New("no provider configured")
	}
	s := &chatSession{
		provider: g.provider,
		budget:   g.budget,
		tools:    tools,
	}
	if instruction != "" {
		s.history = append(s.history, Message{Role: "system", Content: instruction})
	}
	return s, nil
}

type chatSession struct {
	mu       sync.Mutex
	provider Provider
	budget   *Budget
	tools    []Tool

	// history holds committed messages only. A round is appended after the
	// provider answered; a failed request leaves it untouched.
	history []Message
	pending []Call
}

func (s *chatSession) SendText(ctx context.Context, text string) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.history
	if len(s.pending) > 0 {
		// An earlier turn stopped before answering its calls. The dangling
		// call message would be rejected by the provider, so drop it.
		base = dropDangling(base)
		slog.Debug("dropping unanswered tool calls", "count", len(s.pending))
	}

	candidate := make([]Message, 0, len(base)+2)
	candidate = append(candidate, base...)
	candidate = append(candidate, Message{Role: "user", Content: text})
	return s.roundTrip(ctx, candidate)
}

func (s *chatSession) SendToolResults(ctx context.Context, results []ToolResult) (*Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := MatchResults(s.pending, results); err != nil {
		return nil, err
	}

	candidate := make([]Message, 0, len(s.history)+len(results)+1)
	candidate = append(candidate, s.history...)
	for _, r := range results {
		candidate = append(candidate, Message{
			Role:       "tool",
			Content:    r.Result,
			ToolCallID: r.ID,
		})
	}
	return s.roundTrip(ctx, candidate)
}

func (s *chatSession) roundTrip(ctx context.Context, candidate []Message) (*Round, error) {
	resp, err := s.provider.Complete(ctx, s.budget.Trim(candidate), s.tools)
	if err != nil {
		return nil, err
	}

	round := &Round{Text: resp.Content}
	calls := make([]ToolCall, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		args, err := DecodeArguments(tc.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("%w: arguments for %q: %v", ErrMalformedRound, tc.Function.Name, err)
		}
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		if tc.Type == "" {
			tc.Type = "function"
		}
		if len(tc.Function.Arguments) == 0 {
			tc.Function.Arguments = json.RawMessage("{}")
		}
		calls[i] = tc
		round.Calls = append(round.Calls, Call{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	if err := ValidateRound(round); err != nil {
		return nil, err
	}

	assistant := Message{Role: "assistant", Content: resp.Content}
	if len(calls) > 0 {
		assistant.Tools = calls
	}
	s.history = append(candidate, assistant)
	s.pending = round.Calls

	slog.Debug("llm round",
		"calls", len(round.Calls),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return round, nil
}

// dropDangling removes a trailing assistant message whose calls never got
// results.
func dropDangling(history []Message) []Message {
	n := len(history)
	if n > 0 && history[n-1].Role == "assistant" && len(history[n-1].Tools) > 0 {
		return history[:n-1]
	}
	return history
}
