package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/toolgate/internal/chat"
	"github.com/nextlevelbuilder/toolgate/internal/tools"
	"github.com/nextlevelbuilder/toolgate/pkg/protocol"
)

type pingTool struct{}

func (pingTool) Name() string        { return "ping" }
func (pingTool) Description() string { return "replies pong" }
func (pingTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (pingTool) Execute(_ context.Context, args map[string]interface{}) *tools.Result {
	return tools.OK(map[string]interface{}{"reply": "pong", "args": args})
}

func startEngine(t *testing.T, chatFn ChatFunc) *Engine {
	t.Helper()

	reg := tools.NewRegistry()
	reg.Register(pingTool{})

	e := New("toolgate-test", "0.0.0", reg, 0, chatFn)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)
	return e
}

func waitFrame(t *testing.T, out <-chan *protocol.ResponseFrame) *protocol.ResponseFrame {
	t.Helper()
	select {
	case f := <-out:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response frame")
		return nil
	}
}

func TestSubmitUnknownSession(t *testing.T) {
	e := startEngine(t, nil)

	err := e.Submit("no-such-session", protocol.RequestFrame{ID: "1", Method: "tools/list"})
	if !errors.Is(err, ErrUnknownSession) {
		t.Errorf("err = %v, want ErrUnknownSession", err)
	}
}

func TestInitializeRoundTrip(t *testing.T) {
	e := startEngine(t, nil)
	id, out := e.Register()
	defer e.Unregister(id)

	if err := e.Submit(id, protocol.RequestFrame{ID: "init-1", Method: "initialize"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f := waitFrame(t, out)
	if f.ID != "init-1" || !f.OK {
		t.Fatalf("frame = %+v", f)
	}
	payload := f.Payload.(map[string]interface{})
	info := payload["serverInfo"].(map[string]string)
	if info["name"] != "toolgate-test" {
		t.Errorf("serverInfo = %v", info)
	}
}

func TestToolsListAndCall(t *testing.T) {
	e := startEngine(t, nil)
	id, out := e.Register()
	defer e.Unregister(id)

	if err := e.Submit(id, protocol.RequestFrame{ID: "l1", Method: "tools/list"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f := waitFrame(t, out)
	descs := f.Payload.(map[string]interface{})["tools"].([]ToolDescriptor)
	if len(descs) != 1 || descs[0].Name != "ping" {
		t.Fatalf("tools = %+v", descs)
	}

	params, _ := json.Marshal(map[string]interface{}{
		"name":      "ping",
		"arguments": map[string]interface{}{"n": 1},
	})
	if err := e.Submit(id, protocol.RequestFrame{ID: "c1", Method: "tools/call", Params: params}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	f = waitFrame(t, out)
	if !f.OK {
		t.Fatalf("frame = %+v", f)
	}
	content := f.Payload.(map[string]interface{})["content"].([]map[string]string)
	if len(content) != 1 || content[0]["type"] != "text" {
		t.Fatalf("content = %+v", content)
	}
	if !strings.Contains(content[0]["text"], "pong") {
		t.Errorf("text = %q", content[0]["text"])
	}
}

func TestToolCallFailureIsPayloadNotProtocolError(t *testing.T) {
	e := startEngine(t, nil)
	id, out := e.Register()
	defer e.Unregister(id)

	params, _ := json.Marshal(map[string]interface{}{"name": "missing_tool"})
	if err := e.Submit(id, protocol.RequestFrame{ID: "c1", Method: "tools/call", Params: params}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f := waitFrame(t, out)
	if !f.OK {
		t.Fatalf("unknown tool should be an OK frame with failure payload, got %+v", f)
	}
	content := f.Payload.(map[string]interface{})["content"].([]map[string]string)
	if !strings.Contains(content[0]["text"], `"success":false`) {
		t.Errorf("text = %q", content[0]["text"])
	}
}

func TestUnknownMethod(t *testing.T) {
	e := startEngine(t, nil)
	id, out := e.Register()
	defer e.Unregister(id)

	if err := e.Submit(id, protocol.RequestFrame{ID: "x1", Method: "bogus/method"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f := waitFrame(t, out)
	if f.OK || f.Error == nil || f.Error.Code != protocol.ErrMethodNotFound {
		t.Errorf("frame = %+v", f)
	}
	if f.ID != "x1" {
		t.Errorf("response id = %q, want x1 (correlation preserved)", f.ID)
	}
}

func TestFIFOOrderingPerSession(t *testing.T) {
	e := startEngine(t, nil)
	id, out := e.Register()
	defer e.Unregister(id)

	const n = 20
	for i := 0; i < n; i++ {
		frame := protocol.RequestFrame{ID: fmt.Sprintf("r%02d", i), Method: "initialize"}
		if err := e.Submit(id, frame); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		f := waitFrame(t, out)
		if want := fmt.Sprintf("r%02d", i); f.ID != want {
			t.Fatalf("response %d id = %q, want %q", i, f.ID, want)
		}
	}
}

func TestChatMethod(t *testing.T) {
	chatFn := func(_ context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error) {
		return &chat.CompletionResponse{
			Choices: []chat.Choice{{
				Message: &chat.Message{Role: chat.RoleAssistant, Content: "echo: " + req.Messages[0].Content},
			}},
		}, nil
	}
	e := startEngine(t, chatFn)
	id, out := e.Register()
	defer e.Unregister(id)

	params, _ := json.Marshal(chat.CompletionRequest{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
	})
	if err := e.Submit(id, protocol.RequestFrame{ID: "ch1", Method: "chat", Params: params}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f := waitFrame(t, out)
	if !f.OK {
		t.Fatalf("frame = %+v", f)
	}
	resp := f.Payload.(*chat.CompletionResponse)
	if resp.Choices[0].Message.Content != "echo: hello" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
}

func TestChatDisabled(t *testing.T) {
	e := startEngine(t, nil)
	id, out := e.Register()
	defer e.Unregister(id)

	params, _ := json.Marshal(chat.CompletionRequest{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "hello"}},
	})
	if err := e.Submit(id, protocol.RequestFrame{ID: "ch1", Method: "chat", Params: params}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	f := waitFrame(t, out)
	if f.OK || f.Error.Code != protocol.ErrMethodNotFound {
		t.Errorf("frame = %+v", f)
	}
}

func TestUnregisterClosesOutbound(t *testing.T) {
	e := startEngine(t, nil)
	id, out := e.Register()

	e.Unregister(id)

	select {
	case _, open := <-out:
		if open {
			t.Error("expected closed channel after Unregister")
		}
	case <-time.After(time.Second):
		t.Error("outbound channel not closed")
	}

	if e.Known(id) {
		t.Error("session still known after Unregister")
	}
}
