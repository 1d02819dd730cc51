// Package protocol defines the wire format spoken over the session transports
// (SSE and WebSocket). It is importable by external clients.
package protocol

import "encoding/json"

// Protocol version. Clients receive this in the initialize result.
const ProtocolVersion = 1

// Frame types
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame is sent by clients to invoke a method on the engine.
type RequestFrame struct {
	Type   string          `json:"type,omitempty"` // "req" (optional on SSE submissions)
	ID     string          `json:"id"`             // client-generated request ID
	Method string          `json:"method"`         // method name, e.g. "tools/call"
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is delivered on the session's event stream in response
// to a request.
type ResponseFrame struct {
	Type    string      `json:"type"` // always "res"
	ID      string      `json:"id"`   // matches request ID
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"` // response data (when ok=true)
	Error   *ErrorShape `json:"error,omitempty"`   // error info (when ok=false)
}

// ErrorShape describes a protocol error.
type ErrorShape struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// EventFrame is pushed from server to client without a preceding request.
type EventFrame struct {
	Type    string      `json:"type"`  // always "event"
	Event   string      `json:"event"` // event name
	Payload interface{} `json:"payload,omitempty"`
	Seq     int64       `json:"seq,omitempty"` // ordering sequence number
}

// NewOKResponse creates a success response frame.
func NewOKResponse(id string, payload interface{}) *ResponseFrame {
	return &ResponseFrame{
		Type:    FrameTypeResponse,
		ID:      id,
		OK:      true,
		Payload: payload,
	}
}

// NewErrorResponse creates an error response frame.
func NewErrorResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{
		Type: FrameTypeResponse,
		ID:   id,
		OK:   false,
		Error: &ErrorShape{
			Code:    code,
			Message: message,
		},
	}
}

// ParseFrameType extracts the frame type from raw bytes without a full parse.
// Frames with no explicit type are treated as requests (SSE submissions omit it).
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	if raw.Type == "" {
		return FrameTypeRequest, nil
	}
	return raw.Type, nil
}
