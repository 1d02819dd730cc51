// Package approval persists tool-call approval requests and guards their
// status transitions. A record is created when a HITL run detects tool calls,
// and resolved exactly once by an external approve or reject.
package approval

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nextlevelbuilder/toolgate/internal/chat"
)

// Status is the lifecycle state of an approval request.
// Transitions are monotonic: once non-pending, a record never changes again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

var (
	// ErrNotFound means no record exists for the request id.
	ErrNotFound = errors.New("approval request not found")
	// ErrAlreadyResolved means the record left pending before this call.
	ErrAlreadyResolved = errors.New("approval request already resolved")
)

// Request is a persisted approval record. ToolCalls and Messages are fixed at
// creation; only Status, Result, and UpdatedAt change afterwards.
type Request struct {
	RequestID string          `json:"request_id"`
	Status    Status          `json:"status"`
	ToolCalls []chat.ToolCall `json:"tool_calls"`
	Messages  []chat.Message  `json:"messages"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Resolved reports whether the record has left the pending state.
func (r *Request) Resolved() bool {
	return r.Status != StatusPending
}

// Summary is the listing shape for pending records.
type Summary struct {
	RequestID string    `json:"request_id"`
	Tools     []string  `json:"tools"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
