// Package chat holds the OpenAI-compatible message and tool-call types shared
// by the model client, the extractor, the agent loop, and the HTTP surface.
package chat

import "encoding/json"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a conversation transcript.
// Transcripts are append-only within a run.
type Message struct {
	Role       string     `json:"role,omitempty"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a structured tool invocation. Once appended to a transcript
// it is immutable.
type ToolCall struct {
	Index    int          `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function ToolFunction `json:"function"`
}

// ToolFunction names the tool and carries its arguments as a JSON string.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ParsedArguments decodes the call's argument string into a map.
// A blank or malformed argument string yields an empty map.
func (tc ToolCall) ParsedArguments() map[string]interface{} {
	args := map[string]interface{}{}
	if tc.Function.Arguments == "" {
		return args
	}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return map[string]interface{}{}
	}
	return args
}

// ToolDefinition is the provider-API shape for an available tool.
type ToolDefinition struct {
	Type     string             `json:"type"` // always "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema describes a callable function for the model.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// CompletionRequest is the chat completions request body, both inbound
// (caller-facing) and outbound (model backend).
type CompletionRequest struct {
	Model       string           `json:"model,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Stream      bool             `json:"stream"`
	Temperature *float64         `json:"temperature,omitempty"`
}

// CompletionResponse is the chat completions response body. The Message
// field covers backends that return the assistant message at the top level
// instead of inside choices.
type CompletionResponse struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Message *Message `json:"message,omitempty"`
	Choices []Choice `json:"choices,omitempty"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Message `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

// Usage reports token accounting from the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AssistantMessage returns the assistant message from either response shape:
// top-level message or choices[0].message. Returns an empty assistant message
// when neither is present.
func (r *CompletionResponse) AssistantMessage() Message {
	if r.Message != nil {
		return *r.Message
	}
	if len(r.Choices) > 0 && r.Choices[0].Message != nil {
		return *r.Choices[0].Message
	}
	return Message{Role: RoleAssistant}
}

// FinishReason returns the first choice's finish reason, defaulting to "stop".
func (r *CompletionResponse) FinishReason() string {
	if len(r.Choices) > 0 && r.Choices[0].FinishReason != "" {
		return r.Choices[0].FinishReason
	}
	return "stop"
}
