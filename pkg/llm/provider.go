package llm

import (
	"context"
	"time"
)

// Provider defines the interface for interacting with stateless chat
// completion backends. Implementations handle request formatting,
// authentication and response parsing.
type Provider interface {
	// Complete sends a chat completion request and returns the full response.
	Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
}

// Gateway opens remote conversation sessions. The capability manifest and
// behavior instruction are fixed for the life of a session.
type Gateway interface {
	Open(ctx context.Context, tools []Tool, instruction string) (Session, error)
}

// Session is one stateful exchange with the model service. Every round that
// returns calls must be answered by SendToolResults before the next
// SendText. Implementations never retry and never synthesize calls.
type Session interface {
	SendText(ctx context.Context, text string) (*Round, error)
	SendToolResults(ctx context.Context, results []ToolResult) (*Round, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}
