// Package engine runs the session message loop that backs the SSE and
// WebSocket transports. A single consumer goroutine drains one inbound queue
// and fans results out to per-session outbound channels, so requests are
// processed strictly in arrival order and tool handlers never race.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/toolgate/internal/chat"
	"github.com/nextlevelbuilder/toolgate/internal/tools"
	"github.com/nextlevelbuilder/toolgate/pkg/protocol"
)

const (
	// DefaultQueueSize bounds the inbound queue. Submissions beyond it fail
	// fast instead of stalling transport handlers.
	DefaultQueueSize = 100

	// outboundBuffer bounds each session's delivery channel. A session that
	// stops reading loses frames rather than blocking the engine loop.
	outboundBuffer = 16
)

var (
	// ErrUnknownSession reports a submission for a session id that is not
	// registered.
	ErrUnknownSession = errors.New("engine: unknown session")

	// ErrQueueFull reports that the inbound queue is at capacity.
	ErrQueueFull = errors.New("engine: inbound queue full")
)

// ChatFunc handles the "chat" method when the engine is wired to an agent
// loop. Nil disables the method.
type ChatFunc func(ctx context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error)

type inbound struct {
	sessionID string
	frame     protocol.RequestFrame
}

// Engine is the single-consumer session engine.
type Engine struct {
	name     string
	version  string
	registry *tools.Registry
	chatFn   ChatFunc

	queue chan inbound

	mu       sync.RWMutex
	sessions map[string]chan *protocol.ResponseFrame
}

// New builds an engine over the given tool registry. QueueSize values below 1
// fall back to DefaultQueueSize.
func New(name, version string, registry *tools.Registry, queueSize int, chatFn ChatFunc) *Engine {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Engine{
		name:     name,
		version:  version,
		registry: registry,
		chatFn:   chatFn,
		queue:    make(chan inbound, queueSize),
		sessions: make(map[string]chan *protocol.ResponseFrame),
	}
}

// Register creates a session and returns its id and outbound channel. The
// channel is closed by Unregister.
func (e *Engine) Register() (string, <-chan *protocol.ResponseFrame) {
	id := uuid.NewString()
	out := make(chan *protocol.ResponseFrame, outboundBuffer)

	e.mu.Lock()
	e.sessions[id] = out
	e.mu.Unlock()

	slog.Info("session registered", "session_id", id)
	return id, out
}

// Unregister removes a session and closes its outbound channel. Safe to call
// for an unknown id.
func (e *Engine) Unregister(sessionID string) {
	e.mu.Lock()
	out, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	e.mu.Unlock()

	if ok {
		close(out)
		slog.Info("session unregistered", "session_id", sessionID)
	}
}

// Known reports whether a session id is registered.
func (e *Engine) Known(sessionID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.sessions[sessionID]
	return ok
}

// SessionCount returns the number of live sessions.
func (e *Engine) SessionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// Submit enqueues a request for processing. It fails fast when the session is
// unknown or the queue is full; it never blocks a transport handler.
func (e *Engine) Submit(sessionID string, frame protocol.RequestFrame) error {
	if !e.Known(sessionID) {
		return ErrUnknownSession
	}
	select {
	case e.queue <- inbound{sessionID: sessionID, frame: frame}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the inbound queue until the context is canceled. Responses for
// sessions that disconnected mid-flight are dropped with a log line; the work
// itself is never retried.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("engine loop started", "queue_size", cap(e.queue))
	for {
		select {
		case <-ctx.Done():
			slog.Info("engine loop stopped")
			return
		case in := <-e.queue:
			resp := e.dispatch(ctx, in.frame)
			e.deliver(in.sessionID, resp)
		}
	}
}

func (e *Engine) deliver(sessionID string, resp *protocol.ResponseFrame) {
	e.mu.RLock()
	out, ok := e.sessions[sessionID]
	e.mu.RUnlock()

	if !ok {
		slog.Warn("dropping response for unknown session", "session_id", sessionID, "request_id", resp.ID)
		return
	}
	select {
	case out <- resp:
	default:
		slog.Warn("session outbound full, dropping response", "session_id", sessionID, "request_id", resp.ID)
	}
}

// dispatch maps a request frame to a handler. Unknown methods come back as
// METHOD_NOT_FOUND responses, never as dropped frames, so clients can always
// correlate by request id.
func (e *Engine) dispatch(ctx context.Context, frame protocol.RequestFrame) *protocol.ResponseFrame {
	slog.Debug("dispatch", "method", frame.Method, "request_id", frame.ID)

	switch frame.Method {
	case "initialize":
		return protocol.NewOKResponse(frame.ID, map[string]interface{}{
			"protocolVersion": protocol.ProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]bool{"listChanged": true},
			},
			"serverInfo": map[string]string{"name": e.name, "version": e.version},
		})

	case "notifications/initialized":
		return protocol.NewOKResponse(frame.ID, map[string]interface{}{})

	case "tools/list":
		return protocol.NewOKResponse(frame.ID, map[string]interface{}{
			"tools": e.toolDescriptors(),
		})

	case "tools/call":
		return e.handleToolCall(ctx, frame)

	case "chat":
		return e.handleChat(ctx, frame)

	default:
		return protocol.NewErrorResponse(frame.ID, protocol.ErrMethodNotFound,
			"method not found: "+frame.Method)
	}
}

// ToolDescriptor is the session-surface shape of a registered tool.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func (e *Engine) toolDescriptors() []ToolDescriptor {
	names := e.registry.List()
	out := make([]ToolDescriptor, 0, len(names))
	for _, name := range names {
		tool, ok := e.registry.Get(name)
		if !ok {
			continue
		}
		out = append(out, ToolDescriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Parameters(),
		})
	}
	return out
}

func (e *Engine) handleToolCall(ctx context.Context, frame protocol.RequestFrame) *protocol.ResponseFrame {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil || params.Name == "" {
		return protocol.NewErrorResponse(frame.ID, protocol.ErrInvalidRequest,
			"tools/call requires a name and arguments object")
	}

	result := e.registry.Execute(ctx, params.Name, params.Arguments)

	// Tool failures are payloads, not protocol errors. The caller reads the
	// success flag out of the text content.
	return protocol.NewOKResponse(frame.ID, map[string]interface{}{
		"content": []map[string]string{{
			"type": "text",
			"text": result.Payload(),
		}},
	})
}

func (e *Engine) handleChat(ctx context.Context, frame protocol.RequestFrame) *protocol.ResponseFrame {
	if e.chatFn == nil {
		return protocol.NewErrorResponse(frame.ID, protocol.ErrMethodNotFound, "chat is not enabled")
	}

	var req chat.CompletionRequest
	if err := json.Unmarshal(frame.Params, &req); err != nil || len(req.Messages) == 0 {
		return protocol.NewErrorResponse(frame.ID, protocol.ErrInvalidRequest,
			"chat requires a messages array")
	}

	resp, err := e.chatFn(ctx, &req)
	if err != nil {
		return protocol.NewErrorResponse(frame.ID, protocol.ErrUpstream, err.Error())
	}
	return protocol.NewOKResponse(frame.ID, resp)
}
