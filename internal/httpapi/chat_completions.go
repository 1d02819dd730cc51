package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/toolgate/internal/agent"
	"github.com/nextlevelbuilder/toolgate/internal/chat"
	"github.com/nextlevelbuilder/toolgate/internal/config"
)

// pendingApprovalPayload is the approval_required envelope attached to a
// suspended chat completion.
type pendingApprovalPayload struct {
	RequestID string         `json:"request_id"`
	Status    string         `json:"status"`
	ToolCalls []toolCallInfo `json:"tool_calls"`
	CreatedAt time.Time      `json:"created_at"`
	Message   string         `json:"message"`
}

type toolCallInfo struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req chat.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}

	requestID := agent.NewRequestID()
	hitl := s.Mode() == config.ModeHITL

	slog.Info("chat request", "request_id", requestID, "messages", len(req.Messages),
		"stream", req.Stream, "hitl", hitl)

	outcome, err := s.orch.Run(r.Context(), requestID, &req, hitl)
	if errors.Is(err, agent.ErrIterationLimit) {
		slog.Error("iteration limit reached", "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "iteration limit exceeded")
		return
	}
	if err != nil {
		slog.Error("chat request failed", "request_id", requestID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if outcome.PendingID != "" {
		if req.Stream {
			// Streaming clients get the assistant's tool-call chunks; the
			// approval id is recoverable from GET /v1/pending.
			s.writePseudoStream(w, pendingAsResponse(outcome, s.cfg.LLM.Model))
			return
		}
		s.writePendingResponse(w, outcome)
		return
	}

	if req.Stream {
		s.writePseudoStream(w, outcome.Response)
		return
	}
	writeJSON(w, http.StatusOK, outcome.Response)
}

// writePendingResponse renders a suspended run: the assistant message with
// its tool calls, finish_reason tool_calls, and the approval envelope the
// client needs to resolve the request.
func (s *Server) writePendingResponse(w http.ResponseWriter, outcome *agent.Outcome) {
	pending := outcome.Pending

	infos := make([]toolCallInfo, 0, len(pending.ToolCalls))
	names := make([]string, 0, len(pending.ToolCalls))
	for _, tc := range pending.ToolCalls {
		infos = append(infos, toolCallInfo{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.ParsedArguments(),
		})
		names = append(names, tc.Function.Name)
	}

	// The stored transcript ends with the assistant message that asked for
	// the tools.
	assistant := pending.Messages[len(pending.Messages)-1]

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":      pending.RequestID,
		"object":  "chat.completion",
		"created": pending.CreatedAt.Unix(),
		"model":   s.cfg.LLM.Model,
		"choices": []chat.Choice{{
			Index:        0,
			Message:      &assistant,
			FinishReason: "tool_calls",
		}},
		"approval_required": true,
		"pending_approval": pendingApprovalPayload{
			RequestID: pending.RequestID,
			Status:    string(pending.Status),
			ToolCalls: infos,
			CreatedAt: pending.CreatedAt,
			Message:   fmt.Sprintf("Approval required for: %s", strings.Join(names, ", ")),
		},
	})
}

// pendingAsResponse shapes a suspended run as a completion response so the
// adapter can chunk it for streaming clients.
func pendingAsResponse(outcome *agent.Outcome, model string) *chat.CompletionResponse {
	pending := outcome.Pending
	assistant := pending.Messages[len(pending.Messages)-1]
	return &chat.CompletionResponse{
		ID:      pending.RequestID,
		Object:  "chat.completion",
		Created: pending.CreatedAt.Unix(),
		Model:   model,
		Choices: []chat.Choice{{
			Message:      &assistant,
			FinishReason: "tool_calls",
		}},
	}
}

// writePseudoStream re-emits a complete response as SSE chunks for clients
// that asked for streaming.
func (s *Server) writePseudoStream(w http.ResponseWriter, resp *chat.CompletionResponse) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, chunk := range s.adapter.Chunks(resp) {
		fmt.Fprint(w, chunk)
		flusher.Flush()
	}
}

// handleChatCompletionsGet guides clients that probe the endpoint with GET.
func (s *Server) handleChatCompletionsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "this endpoint only supports POST",
		"hint":  "the OpenAI-compatible API uses POST /v1/chat/completions",
	})
}
