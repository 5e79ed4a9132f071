package runtime

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/suraboy/weather-insight/internal/tools"
)

// Fixed agent replies.
const (
	FallbackReply  = "Sorry, I encountered an error. Please try again."
	RoundCapReply  = "Sorry, I couldn't complete that request."
	EmptyReply     = "I've processed your request."
	CancelledReply = "Request cancelled."
)

// DefaultGreeting is the first agent message of a new session.
const DefaultGreeting = "Hello! I am your Weather Agent. I can help you check weather, compare cities, or navigate the app. What would you like to do?"

// DefaultInstruction is the built-in behavior instruction. It uses Go
// text/template syntax with InstructionData fields.
const DefaultInstruction = `You are an intelligent agent controlling a Weather App. Your goal is to help the user by navigating the app and retrieving information.

When a user asks for weather, use the tools to navigate them to the correct page. Be concise, helpful, and friendly. Do not just describe the weather if you can show it by navigating.

The app has these pages: {{.Pages}}.
Available tools: {{.Tools}}.
Current time: {{.Time}}.`

// InstructionData is passed to the instruction template.
type InstructionData struct {
	Time  string
	Pages string
	Tools string
}

// BuildInstruction renders tmpl (DefaultInstruction when empty) for the
// given registry.
func BuildInstruction(tmpl string, registry *tools.Registry) (string, error) {
	if tmpl == "" {
		tmpl = DefaultInstruction
	}
	t, err := template.New("instruction").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse instruction: %w", err)
	}

	pages := make([]string, len(tools.Routes))
	for i, r := range tools.Routes {
		pages[i] = string(r)
	}
	var names []string
	for _, s := range registry.Describe() {
		names = append(names, s.Name)
	}

	var buf bytes.Buffer
	err = t.Execute(&buf, InstructionData{
		Time:  time.Now().Format(time.RFC3339),
		Pages: strings.Join(pages, ", "),
		Tools: strings.Join(names, ", "),
	})
	if err != nil {
		return "", fmt.Errorf("render instruction: %w", err)
	}
	return buf.String(), nil
}
