// Package openai implements llm.Provider for OpenAI-compatible chat
// completions endpoints (OpenAI, Ollama, vLLM, LM Studio).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/suraboy/weather-insight/pkg/llm"
)

const defaultTimeout = 60 * time.Second

// levelTrace matches the trace level the CLI configures.
const levelTrace = slog.Level(-8)

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config     *llm.Config
	httpClient *http.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-200 answer from the endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []requestMessage `json:"messages"`
	Tools       []llm.Tool       `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float32         `json:"temperature,omitempty"`
}

type requestMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// wireToolCall carries arguments as a JSON-encoded string, which is what
// the chat completions API expects on requests.
type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func toRequestMessages(messages []llm.Message) []requestMessage {
	out := make([]requestMessage, len(messages))
	for i, msg := range messages {
		out[i] = requestMessage{Role: msg.Role, Content: msg.Content}
		switch {
		case msg.Role == "tool":
			out[i].ToolCallID = msg.ToolCallID
			if out[i].ToolCallID == "" && len(msg.Tools) > 0 {
				out[i].ToolCallID = msg.Tools[0].ID
			}
		case len(msg.Tools) > 0:
			out[i].ToolCalls = toWire(msg.Tools)
		}
	}
	return out
}

func toWire(calls []llm.ToolCall) []wireToolCall {
	out := make([]wireToolCall, len(calls))
	for i, tc := range calls {
		out[i].ID = tc.ID
		out[i].Type = tc.Type
		if out[i].Type == "" {
			out[i].Type = "function"
		}
		out[i].Function.Name = tc.Function.Name
		out[i].Function.Arguments = argumentString(tc.Function.Arguments)
	}
	return out
}

// argumentString renders raw arguments as the JSON text the API expects,
// unwrapping a value that is already a JSON string.
func argumentString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	reqBody := chatRequest{
		Model:     c.config.Model,
		Messages:  toRequestMessages(messages),
		Tools:     tools,
		MaxTokens: c.config.MaxTokens,
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		reqBody.Temperature = &temp
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	slog.Log(ctx, levelTrace, "chat completion request", "body", string(body))

	start := time.Now()
	status, respBody, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	slog.Debug("chat completion",
		"model", c.config.Model,
		"status", status,
		"messages", len(messages),
		"duration", time.Since(start),
	)
	slog.Log(ctx, levelTrace, "chat completion response", "body", string(respBody))

	if status != http.StatusOK {
		return nil, newAPIError(status, respBody)
	}
	return decodeResponse(respBody)
}

func (c *Client) post(ctx context.Context, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func newAPIError(status int, body []byte) error {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return &APIError{StatusCode: status, Message: parsed.Error.Message}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

func decodeResponse(body []byte) (*llm.Response, error) {
	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}

	msg := chatResp.Choices[0].Message
	return &llm.Response{
		Content:   msg.Content,
		ToolCalls: msg.ToolCalls,
		Usage: llm.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:  chatResp.Usage.TotalTokens,
		},
	}, nil
}
