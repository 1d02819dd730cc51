package adapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/toolgate/internal/chat"
	"github.com/nextlevelbuilder/toolgate/internal/extract"
)

// DefaultHint is injected into the system prompt when tools are present and
// no template is configured. The {tool_names} placeholder expands to a
// comma-separated list of the offered tools.
const DefaultHint = "\n\nYou have access to the following tools: {tool_names}. " +
	"When a tool is needed, respond with a JSON object of the form " +
	`{"name": "<tool>", "arguments": {...}} inside a ` + "```json code block."

// toolCallPlaceholder keeps the assistant message non-empty when the entire
// content was a tool-call payload. Some clients hide messages with empty
// content even when tool_calls are set.
const toolCallPlaceholder = "Generated a tool call."

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\{.*?\\}\\s*```")

// Adapter translates between the client-facing completion surface and the
// upstream model API. It owns prompt-hint injection on the way in and
// tool-call normalization on the way out. SetHint may be called while
// requests are in flight.
type Adapter struct {
	mu          sync.RWMutex
	hint        string
	hintEnabled bool
}

// New builds an adapter. An empty template with hints enabled falls back to
// DefaultHint.
func New(hintEnabled bool, hintTemplate string) *Adapter {
	a := &Adapter{}
	a.SetHint(hintEnabled, hintTemplate)
	return a
}

// SetHint replaces the hint configuration. Used by config hot reload.
func (a *Adapter) SetHint(enabled bool, template string) {
	if template == "" {
		template = DefaultHint
	}
	a.mu.Lock()
	a.hint = template
	a.hintEnabled = enabled
	a.mu.Unlock()
}

// PrepareRequest rewrites an inbound request for the upstream model. When
// tools are offered the tool hint is injected into the system prompt and
// streaming is forced off, since text-embedded tool calls can only be
// recovered from a complete response body. The input is not mutated.
func (a *Adapter) PrepareRequest(req *chat.CompletionRequest) *chat.CompletionRequest {
	out := *req
	out.Messages = append([]chat.Message(nil), req.Messages...)

	if len(req.Tools) == 0 {
		return &out
	}

	a.mu.RLock()
	hintEnabled, hint := a.hintEnabled, a.hint
	a.mu.RUnlock()

	if hintEnabled {
		out.Messages = injectHint(hint, out.Messages, req.Tools)
	}

	if out.Stream {
		slog.Debug("forcing non-streaming upstream call", "tools", len(req.Tools))
	}
	out.Stream = false
	return &out
}

// injectHint appends the expanded hint to the first system message, or
// prepends a new system message when the transcript has none.
func injectHint(template string, messages []chat.Message, tools []chat.ToolDefinition) []chat.Message {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Function.Name)
	}
	hint := strings.ReplaceAll(template, "{tool_names}", strings.Join(names, ", "))

	for i, m := range messages {
		if m.Role == chat.RoleSystem {
			messages[i].Content = m.Content + hint
			return messages
		}
	}
	return append([]chat.Message{{Role: chat.RoleSystem, Content: strings.TrimSpace(hint)}}, messages...)
}

// Normalize folds the upstream response into the choices shape and recovers
// text-embedded tool calls. When the extractor finds calls in the content the
// fenced payload is stripped from the text so clients do not render the raw
// JSON, and finish_reason is set to tool_calls.
func (a *Adapter) Normalize(resp *chat.CompletionResponse) *chat.CompletionResponse {
	normalized := resp.AssistantMessage()
	if normalized.Role == "" {
		normalized.Role = chat.RoleAssistant
	}
	finish := resp.FinishReason()

	if len(normalized.ToolCalls) == 0 && normalized.Content != "" {
		if calls := extract.ToolCalls(normalized); len(calls) > 0 {
			normalized.ToolCalls = calls
			normalized.Content = stripToolPayload(normalized.Content)
			slog.Info("recovered tool calls from response text", "count", len(calls))
		}
	}

	if len(normalized.ToolCalls) > 0 {
		finish = "tool_calls"
		if normalized.Content == "" {
			normalized.Content = toolCallPlaceholder
		}
	}

	out := &chat.CompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Usage:   resp.Usage,
		Choices: []chat.Choice{{
			Index:        0,
			Message:      &normalized,
			FinishReason: finish,
		}},
	}
	if out.ID == "" {
		out.ID = "chatcmpl-" + uuid.NewString()[:8]
	}
	if out.Created == 0 {
		out.Created = time.Now().Unix()
	}
	return out
}

// stripToolPayload removes the extracted tool-call JSON from the visible
// content. Fenced blocks are cut out; a content that is nothing but a JSON
// object becomes empty.
func stripToolPayload(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return ""
	}
	return strings.TrimSpace(fencedBlockRe.ReplaceAllString(content, ""))
}

// Chunks re-emits a complete normalized response as SSE chunk frames for
// clients that asked for streaming. Order is fixed: role and content first,
// then tool calls with their terminal finish_reason, or a bare terminal
// chunk when there are none, then the [DONE] sentinel.
func (a *Adapter) Chunks(resp *chat.CompletionResponse) []string {
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return []string{"data: [DONE]\n\n"}
	}

	msg := resp.Choices[0].Message
	var chunks []string

	chunks = append(chunks, sseChunk(resp, &chat.Message{
		Role:    msg.Role,
		Content: msg.Content,
	}, ""))

	if len(msg.ToolCalls) > 0 {
		chunks = append(chunks, sseChunk(resp, &chat.Message{
			ToolCalls: msg.ToolCalls,
		}, resp.Choices[0].FinishReason))
	} else {
		chunks = append(chunks, sseChunk(resp, &chat.Message{}, resp.FinishReason()))
	}

	return append(chunks, "data: [DONE]\n\n")
}

func sseChunk(resp *chat.CompletionResponse, delta *chat.Message, finish string) string {
	chunk := map[string]interface{}{
		"id":      resp.ID,
		"object":  "chat.completion.chunk",
		"created": resp.Created,
		"model":   resp.Model,
		"choices": []map[string]interface{}{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishOrNull(finish),
		}},
	}
	b, err := json.Marshal(chunk)
	if err != nil {
		slog.Warn("marshal sse chunk", "error", err)
		return ""
	}
	return fmt.Sprintf("data: %s\n\n", b)
}

func finishOrNull(finish string) interface{} {
	if finish == "" {
		return nil
	}
	return finish
}
