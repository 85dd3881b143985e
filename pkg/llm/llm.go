// Package llm defines the narrow LLM invocation boundary: a Client turns a
// message history and tool specs into content plus tool calls. Providers
// live in subpackages; everything above this interface is provider-agnostic.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Role values for Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// ToolCalls is set on assistant messages that request tool use.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-result message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Name is the tool name on tool-result messages.
	Name string `json:"name,omitempty"`
}

// ToolCall is the model asking for one tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ArgumentsMap decodes the call arguments into a map. Empty or null
// arguments yield an empty map; malformed JSON is an error the caller
// reports back to the model as a tool failure.
func (tc ToolCall) ArgumentsMap() (map[string]any, error) {
	if len(tc.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(tc.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// ToolSpec describes one callable tool to the model.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Usage is the provider-reported token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input + output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Response is one completed chat turn.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// Client is the provider boundary. Implementations must honour ctx
// cancellation and surface rate limiting as *HTTPStatusError with
// StatusCode 429 so callers can invoke the limiter's back-off.
type Client interface {
	// Chat sends the full message history plus tool specs and returns the
	// model's next turn.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (*Response, error)
}

// HTTPStatusError reports a non-2xx provider response. RetryAfter is
// parsed from the Retry-After header when present.
type HTTPStatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ParseRetryAfter parses a Retry-After header value: either delta seconds
// or an HTTP date. Unparseable or absent values yield zero.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
