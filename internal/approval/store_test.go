package approval

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/toolgate/internal/chat"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "approvals.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleCalls() []chat.ToolCall {
	return []chat.ToolCall{{
		ID:   "call_abc12345",
		Type: "function",
		Function: chat.ToolFunction{
			Name:      "get_employee",
			Arguments: `{"employee_id":"EMP001"}`,
		},
	}}
}

func sampleMessages() []chat.Message {
	return []chat.Message{
		{Role: chat.RoleUser, Content: "who is EMP001?"},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	s := testStore(t)

	if err := s.Create("req-1", sampleCalls(), sampleMessages()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	req, err := s.Get("req-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if req.Status != StatusPending {
		t.Errorf("status = %s, want %s", req.Status, StatusPending)
	}
	if len(req.ToolCalls) != 1 || req.ToolCalls[0].Function.Name != "get_employee" {
		t.Errorf("tool calls round-trip broken: %+v", req.ToolCalls)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != chat.RoleUser {
		t.Errorf("messages round-trip broken: %+v", req.Messages)
	}
	if req.Resolved() {
		t.Error("pending request reported as resolved")
	}
}

func TestStoreGetNotFound(t *testing.T) {
	s := testStore(t)

	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreTransitionIsMonotonic(t *testing.T) {
	s := testStore(t)
	if err := s.Create("req-1", sampleCalls(), sampleMessages()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Transition("req-1", StatusApproved, nil); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// Once out of pending, every further transition must fail regardless
	// of the target status.
	for _, next := range []Status{StatusApproved, StatusRejected, StatusCompleted} {
		if err := s.Transition("req-1", next, nil); !errors.Is(err, ErrAlreadyResolved) {
			t.Errorf("transition to %s after resolve: err = %v, want ErrAlreadyResolved", next, err)
		}
	}
}

func TestStoreTransitionUnknownID(t *testing.T) {
	s := testStore(t)

	if err := s.Transition("ghost", StatusRejected, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreTransitionStoresResult(t *testing.T) {
	s := testStore(t)
	if err := s.Create("req-1", sampleCalls(), sampleMessages()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result := json.RawMessage(`{"content":"EMP001 is John Smith"}`)
	if err := s.Transition("req-1", StatusCompleted, result); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	req, err := s.Get("req-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if req.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", req.Status, StatusCompleted)
	}
	if string(req.Result) != string(result) {
		t.Errorf("result = %s, want %s", req.Result, result)
	}
	if !req.Resolved() {
		t.Error("completed request not reported as resolved")
	}
}

func TestStoreListPending(t *testing.T) {
	s := testStore(t)

	for _, id := range []string{"req-1", "req-2", "req-3"} {
		if err := s.Create(id, sampleCalls(), sampleMessages()); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if err := s.Transition("req-2", StatusRejected, nil); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	sums, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("len = %d, want 2", len(sums))
	}
	for _, sum := range sums {
		if sum.RequestID == "req-2" {
			t.Error("resolved request still listed as pending")
		}
		if len(sum.Tools) != 1 || sum.Tools[0] != "get_employee" {
			t.Errorf("tools = %v, want [get_employee]", sum.Tools)
		}
	}
}

func TestCacheServesResolvedAndTracksPending(t *testing.T) {
	s := testStore(t)
	c, err := NewCache(s)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if err := c.Create("req-1", sampleCalls(), sampleMessages()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.PendingCount() != 1 {
		t.Fatalf("pending count = %d, want 1", c.PendingCount())
	}

	if err := c.Transition("req-1", StatusCompleted, json.RawMessage(`{"ok":true}`)); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending count after resolve = %d, want 0", c.PendingCount())
	}

	req, err := c.Get("req-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if req.Status != StatusCompleted {
		t.Errorf("status = %s, want %s", req.Status, StatusCompleted)
	}

	if err := c.Transition("req-1", StatusRejected, nil); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("double resolve: err = %v, want ErrAlreadyResolved", err)
	}
}

func TestCacheRebuildsPendingIndex(t *testing.T) {
	s := testStore(t)
	if err := s.Create("req-1", sampleCalls(), sampleMessages()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	c, err := NewCache(s)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	if c.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1", c.PendingCount())
	}
}
