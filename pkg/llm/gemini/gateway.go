// Package gemini adapts the Gemini chat API to llm.Gateway. Conversation
// state lives in the SDK's chat object, which only records a turn once the
// service has answered it.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/suraboy/weather-insight/pkg/llm"
)

const defaultModel = "gemini-2.5-flash"

// Config configures the Gemini gateway.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Gateway opens Gemini chat sessions.
type Gateway struct {
	client *genai.Client
	cfg    Config
}

// NewGateway creates a client for the Gemini API.
func NewGateway(ctx context.Context, cfg Config) (*Gateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Gateway{client: client, cfg: cfg}, nil
}

// Open creates a chat with the capability manifest and instruction attached.
func (g *Gateway) Open(ctx context.Context, tools []llm.Tool, instruction string) (llm.Session, error) {
	decls, err := toFunctionDeclarations(tools)
	if err != nil {
		return nil, err
	}
	config := &genai.GenerateContentConfig{}
	if instruction != "" {
		config.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}
	if len(decls) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if g.cfg.Temperature != 0 {
		temp := g.cfg.Temperature
		config.Temperature = &temp
	}
	if g.cfg.MaxTokens > 0 {
		config.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}

	chat, err := g.client.Chats.Create(ctx, g.cfg.Model, config, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini chat: %w", err)
	}
	return &session{gw: g, config: config, chat: chat}, nil
}

func toFunctionDeclarations(tools []llm.Tool) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var params any
		if len(t.Function.Parameters) > 0 {
			if err := json.Unmarshal(t.Function.Parameters, &params); err != nil {
				return nil, fmt.Errorf("parameters for %q: %w", t.Function.Name, err)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Function.Name,
			Description:          t.Function.Description,
			ParametersJsonSchema: params,
		})
	}
	return decls, nil
}

type session struct {
	mu     sync.Mutex
	gw     *Gateway
	config *genai.GenerateContentConfig
	chat   *genai.Chat

	// pending maps the call IDs handed out to the IDs the service sent,
	// which may be empty.
	pending map[string]string
	calls   []llm.Call
}

func (s *session) SendText(ctx context.Context, text string) (*llm.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.calls) > 0 {
		if err := s.resetDangling(ctx); err != nil {
			return nil, err
		}
	}
	return s.send(ctx, genai.Part{Text: text})
}

func (s *session) SendToolResults(ctx context.Context, results []llm.ToolResult) (*llm.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := llm.MatchResults(s.calls, results); err != nil {
		return nil, err
	}
	parts := make([]genai.Part, len(results))
	for i, r := range results {
		parts[i] = genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       s.pending[r.ID],
			Name:     r.Name,
			Response: map[string]any{"result": r.Result},
		}}
	}
	return s.send(ctx, parts...)
}

func (s *session) send(ctx context.Context, parts ...genai.Part) (*llm.Round, error) {
	if s.gw.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.gw.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.chat.SendMessage(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini send: %w", err)
	}
	slog.Debug("gemini round", "model", s.gw.cfg.Model, "duration", time.Since(start))

	round, pending := toRound(resp)
	if err := llm.ValidateRound(round); err != nil {
		return nil, err
	}
	s.calls = round.Calls
	s.pending = pending
	return round, nil
}

// resetDangling recreates the chat without the trailing model turn whose
// calls were never answered.
func (s *session) resetDangling(ctx context.Context) error {
	history := s.chat.History(false)
	if n := len(history); n > 0 && history[n-1].Role == string(genai.RoleModel) {
		history = history[:n-1]
	}
	chat, err := s.gw.client.Chats.Create(ctx, s.gw.cfg.Model, s.config, history)
	if err != nil {
		return fmt.Errorf("gemini chat: %w", err)
	}
	slog.Debug("dropping unanswered tool calls", "count", len(s.calls))
	s.chat = chat
	s.calls = nil
	s.pending = nil
	return nil
}

func toRound(resp *genai.GenerateContentResponse) (*llm.Round, map[string]string) {
	round := &llm.Round{}
	pending := map[string]string{}
	for _, fc := range resp.FunctionCalls() {
		id := fc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		pending[id] = fc.ID
		round.Calls = append(round.Calls, llm.Call{ID: id, Name: fc.Name, Arguments: args})
	}
	if len(round.Calls) == 0 {
		round.Text = resp.Text()
	}
	return round, pending
}
