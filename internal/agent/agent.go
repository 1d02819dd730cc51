// Package agent drives the model/tool conversation loop. It comes in two
// modes: the autonomous loop executes detected tool calls immediately and
// keeps iterating, the HITL path suspends the run as a pending approval and
// resumes it when a human decides.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/toolgate/internal/adapter"
	"github.com/nextlevelbuilder/toolgate/internal/approval"
	"github.com/nextlevelbuilder/toolgate/internal/chat"
	"github.com/nextlevelbuilder/toolgate/internal/providers"
	"github.com/nextlevelbuilder/toolgate/internal/runlog"
	"github.com/nextlevelbuilder/toolgate/internal/tools"
)

// DefaultMaxIterations caps how many model round-trips one request may take
// before the loop gives up and returns the last response as-is.
const DefaultMaxIterations = 5

// ErrIterationLimit reports that the loop hit its round-trip cap while the
// model was still asking for tools.
var ErrIterationLimit = errors.New("agent: iteration limit reached")

// feedbackTemplate is appended to a failed tool message before the next model
// call so the model can correct its arguments or change approach.
const feedbackTemplate = "\n\n[SYSTEM FEEDBACK]\nTool execution failed: %s\n" +
	"Analyze the cause and retry with corrected arguments or take a different approach."

// rejectedContent is the terminal assistant message when a human declines a
// tool batch.
const rejectedContent = "The user declined the tool execution, so the task was stopped."

// Orchestrator owns one configured loop: a model client, a tool registry,
// the approval store for HITL suspension, and the adapter that normalizes
// model output.
type Orchestrator struct {
	client    providers.Completer
	registry  *tools.Registry
	adapter   *adapter.Adapter
	approvals *approval.Cache
	log       *runlog.Logger

	maxIterations int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxIterations overrides the loop cap. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxIterations = n
		}
	}
}

// WithRunLog attaches a run logger. A nil logger is fine; recording becomes
// a no-op.
func WithRunLog(l *runlog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// New builds an Orchestrator. The approval cache may be nil when only the
// autonomous loop is used.
func New(client providers.Completer, registry *tools.Registry, adpt *adapter.Adapter, approvals *approval.Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:        client,
		registry:      registry,
		adapter:       adpt,
		approvals:     approvals,
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Outcome is the result of one Run call. Exactly one of Response or
// PendingID is set: a final model response, or the id of an approval record
// the caller must resolve to continue.
type Outcome struct {
	Response  *chat.CompletionResponse
	PendingID string
	// Pending carries the stored record when PendingID is set, so HTTP
	// handlers can render the approval payload without a second read.
	Pending *approval.Request
}

// NewRequestID mints an approval/run identifier.
func NewRequestID() string {
	return "req_" + time.Now().UTC().Format("20060102150405") + "_" + uuid.NewString()[:8]
}

// Run processes one chat request. Tools default to the registry's catalog
// when the caller supplies none. In HITL mode detected tool calls suspend
// the run; otherwise they are executed and the loop continues until the
// model answers in plain text or the iteration cap is hit.
func (o *Orchestrator) Run(ctx context.Context, requestID string, req *chat.CompletionRequest, hitl bool) (*Outcome, error) {
	messages := append([]chat.Message(nil), req.Messages...)
	toolDefs := req.Tools
	if len(toolDefs) == 0 {
		toolDefs = o.registry.Definitions()
	}

	var resp *chat.CompletionResponse
	for iteration := 1; iteration <= o.maxIterations; iteration++ {
		slog.Info("agent loop", "request_id", requestID, "iteration", iteration, "max", o.maxIterations)

		injectFeedback(messages)

		var err error
		resp, err = o.complete(ctx, req.Model, messages, toolDefs)
		if err != nil {
			return nil, err
		}

		assistant := *resp.Choices[0].Message
		messages = append(messages, assistant)

		if len(assistant.ToolCalls) == 0 {
			o.record(requestID, "final response", assistant.Content)
			return &Outcome{Response: resp}, nil
		}

		if hitl {
			return o.suspend(requestID, assistant.ToolCalls, messages)
		}

		messages = o.executeBatch(ctx, requestID, assistant.ToolCalls, messages)
	}

	// Cap reached with the model still calling tools. Hand back the last
	// response so the caller sees what the model wanted to do.
	o.record(requestID, "iteration limit", "")
	return &Outcome{Response: resp}, ErrIterationLimit
}

// complete calls the model through the adapter so hint injection and
// text-embedded tool-call recovery apply on every round-trip.
func (o *Orchestrator) complete(ctx context.Context, model string, messages []chat.Message, toolDefs []chat.ToolDefinition) (*chat.CompletionResponse, error) {
	prepared := o.adapter.PrepareRequest(&chat.CompletionRequest{
		Model:    model,
		Messages: messages,
		Tools:    toolDefs,
	})

	resp, err := o.client.Complete(ctx, prepared.Messages, prepared.Tools)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	return o.adapter.Normalize(resp), nil
}

// suspend persists the run as a pending approval and returns its id.
func (o *Orchestrator) suspend(requestID string, calls []chat.ToolCall, messages []chat.Message) (*Outcome, error) {
	if o.approvals == nil {
		return nil, errors.New("agent: hitl mode without approval store")
	}
	if err := o.approvals.Create(requestID, calls, messages); err != nil {
		return nil, fmt.Errorf("persist approval request: %w", err)
	}

	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Function.Name)
	}
	slog.Info("run suspended for approval", "request_id", requestID, "tools", names)
	o.record(requestID, "awaiting approval", fmt.Sprintf("%v", names))

	pending, err := o.approvals.Get(requestID)
	if err != nil {
		return nil, err
	}
	return &Outcome{PendingID: requestID, Pending: pending}, nil
}

// Approve resumes a suspended run: the persisted batch is executed in order,
// tool messages are appended to the stored transcript, and the model is
// called once more for the final answer. The record moves to completed with
// that answer as its result.
func (o *Orchestrator) Approve(ctx context.Context, requestID string) (*chat.CompletionResponse, error) {
	pending, err := o.approvals.Get(requestID)
	if err != nil {
		return nil, err
	}
	if pending.Resolved() {
		return nil, fmt.Errorf("%w: status is %s", approval.ErrAlreadyResolved, pending.Status)
	}

	messages := o.executeBatch(ctx, requestID, pending.ToolCalls, pending.Messages)

	resp, err := o.complete(ctx, "", messages, o.registry.Definitions())
	if err != nil {
		return nil, err
	}

	resultJSON, merr := json.Marshal(resp)
	if merr != nil {
		return nil, fmt.Errorf("marshal final response: %w", merr)
	}
	if err := o.approvals.Transition(requestID, approval.StatusCompleted, resultJSON); err != nil {
		return nil, err
	}

	o.record(requestID, "approved and executed", "")
	return resp, nil
}

// Reject resolves a suspended run without executing anything. The stored
// result notes the refusal so later /result reads can show it.
func (o *Orchestrator) Reject(requestID string) (*chat.CompletionResponse, error) {
	result, _ := json.Marshal(map[string]string{"message": "rejected by user"})
	if err := o.approvals.Transition(requestID, approval.StatusRejected, result); err != nil {
		return nil, err
	}

	o.record(requestID, "rejected", "")
	return &chat.CompletionResponse{
		ID:      requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Choices: []chat.Choice{{
			Index:        0,
			Message:      &chat.Message{Role: chat.RoleAssistant, Content: rejectedContent},
			FinishReason: "stop",
		}},
	}, nil
}

// executeBatch runs each call in order and appends one tool message per call.
// Failures never abort the batch; they flow back as failure payloads and the
// next model call gets feedback guidance.
func (o *Orchestrator) executeBatch(ctx context.Context, requestID string, calls []chat.ToolCall, messages []chat.Message) []chat.Message {
	for _, call := range calls {
		name := call.Function.Name
		result := o.registry.Execute(ctx, name, call.ParsedArguments())
		payload := result.Payload()

		slog.Info("tool executed", "request_id", requestID, "tool", name, "success", result.Success)
		o.record(requestID, "tool executed: "+name, payload)

		messages = append(messages, chat.Message{
			Role:       chat.RoleTool,
			ToolCallID: call.ID,
			Name:       name,
			Content:    payload,
		})
	}
	return messages
}

// injectFeedback appends corrective guidance to the trailing tool message
// when it carries a failure payload. Mutates the slice in place.
func injectFeedback(messages []chat.Message) {
	if len(messages) == 0 {
		return
	}
	last := &messages[len(messages)-1]
	if last.Role != chat.RoleTool {
		return
	}
	if reason, failed := tools.IsFailure(last.Content); failed {
		last.Content += fmt.Sprintf(feedbackTemplate, reason)
	}
}

func (o *Orchestrator) record(requestID, message, details string) {
	if o.log != nil {
		o.log.Record(requestID, message, details)
	}
}
