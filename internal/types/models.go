// internal/types/models.go
package types

import (
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Message struct {
	ID   MessageID `json:"id"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

func NewMessage(role Role, text string) Message {
	return Message{
		ID:   NewMessageID(),
		Role: role,
		Text: text,
		At:   time.Now(),
	}
}

// DispatchRecord describes one tool call handled by the dispatcher.
type DispatchRecord struct {
	SessionID SessionID `json:"session_id"`
	CallID    string    `json:"call_id"`
	Tool      string    `json:"tool"`
	Arguments string    `json:"arguments"`
	Route     string    `json:"route,omitempty"`
	Query     string    `json:"query,omitempty"`
	Result    string    `json:"result"`
	Outcome   string    `json:"outcome"`
	At        time.Time `json:"at"`
}

// Dispatch outcomes.
const (
	OutcomeNavigated   = "navigated"
	OutcomeUnknownTool = "unknown_tool"
	OutcomeInvalid     = "invalid_arguments"
	OutcomeUnknownPage = "unknown_page"
	OutcomeFailed      = "navigation_failed"
)
