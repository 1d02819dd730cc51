package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/toolgate/internal/adapter"
	"github.com/nextlevelbuilder/toolgate/internal/agent"
	"github.com/nextlevelbuilder/toolgate/internal/approval"
	"github.com/nextlevelbuilder/toolgate/internal/chat"
	"github.com/nextlevelbuilder/toolgate/internal/config"
	"github.com/nextlevelbuilder/toolgate/internal/engine"
	"github.com/nextlevelbuilder/toolgate/internal/providers"
	"github.com/nextlevelbuilder/toolgate/internal/tools"
)

// scriptedUpstream plays canned model responses in order. The last response
// repeats when the script runs out.
type scriptedUpstream struct {
	mu        sync.Mutex
	responses []*chat.CompletionResponse
	calls     int
}

func (u *scriptedUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		u.calls++
		resp := u.responses[0]
		if len(u.responses) > 1 {
			u.responses = u.responses[1:]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func (u *scriptedUpstream) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func assistantText(content string) *chat.CompletionResponse {
	return &chat.CompletionResponse{
		ID:      "chatcmpl-up",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   "qwen2.5-coder:7b",
		Choices: []chat.Choice{{
			Message: &chat.Message{Role: chat.RoleAssistant, Content: content},
		}},
	}
}

type employeeTool struct{}

func (employeeTool) Name() string        { return "get_employee" }
func (employeeTool) Description() string { return "looks up an employee" }
func (employeeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"employee_id": map[string]interface{}{"type": "string"},
		},
		"required": []string{"employee_id"},
	}
}
func (employeeTool) Execute(_ context.Context, args map[string]interface{}) *tools.Result {
	return tools.OK(map[string]interface{}{
		"employee": map[string]string{"id": fmt.Sprint(args["employee_id"]), "name": "John Smith"},
	})
}

func assistantToolCall(name, args string) *chat.CompletionResponse {
	return &chat.CompletionResponse{
		ID:      "chatcmpl-up",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   "qwen2.5-coder:7b",
		Choices: []chat.Choice{{
			Message: &chat.Message{
				Role: chat.RoleAssistant,
				ToolCalls: []chat.ToolCall{{
					ID:       "call_up_1",
					Type:     "function",
					Function: chat.ToolFunction{Name: name, Arguments: args},
				}},
			},
			FinishReason: "tool_calls",
		}},
	}
}

type testStack struct {
	api      *httptest.Server
	srv      *Server
	upstream *scriptedUpstream
	token    string
}

func newTestStack(t *testing.T, mode config.Mode, token string, upstream *scriptedUpstream) *testStack {
	t.Helper()

	up := httptest.NewServer(upstream.handler())
	t.Cleanup(up.Close)

	cfg := config.Default()
	cfg.Agent.Mode = mode
	cfg.Server.Token = token
	cfg.LLM.BaseURL = up.URL

	reg := tools.NewRegistry()
	reg.Register(employeeTool{})

	store, err := approval.Open(filepath.Join(t.TempDir(), "approvals.db"))
	if err != nil {
		t.Fatalf("open approval store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := approval.NewCache(store)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	client := providers.NewClient(cfg.LLM.Provider, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second)
	adpt := adapter.New(cfg.Agent.SystemHint.Enabled, cfg.Agent.SystemHint.Content)
	orch := agent.New(client, reg, adpt, cache, agent.WithMaxIterations(cfg.Agent.MaxIterations))

	eng := engine.New(cfg.Agent.Name, Version, reg, cfg.Engine.QueueSize, nil)
	srv := NewServer(cfg, orch, adpt, eng, reg, cache)

	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)

	return &testStack{api: api, srv: srv, upstream: upstream, token: token}
}

func (ts *testStack) do(t *testing.T, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.api.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, decoded
}

func chatBody(content string, stream bool) map[string]interface{} {
	return map[string]interface{}{
		"messages": []map[string]string{{"role": "user", "content": content}},
		"stream":   stream,
	}
}

func TestChatCompletionPlainAnswer(t *testing.T) {
	ts := newTestStack(t, config.ModeHITL, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{assistantText("hello there")},
	})

	resp, body := ts.do(t, http.MethodPost, "/v1/chat/completions", chatBody("hi", false))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["approval_required"] != nil {
		t.Error("plain answer flagged approval_required")
	}
	choices := body["choices"].([]interface{})
	msg := choices[0].(map[string]interface{})["message"].(map[string]interface{})
	if msg["content"] != "hello there" {
		t.Errorf("content = %v", msg["content"])
	}
}

func TestChatCompletionTextToolCallBecomesPending(t *testing.T) {
	ts := newTestStack(t, config.ModeHITL, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{
			assistantText("```json\n{\"name\": \"get_employee\", \"arguments\": {\"employee_id\": \"EMP001\"}}\n```"),
		},
	})

	resp, body := ts.do(t, http.MethodPost, "/v1/chat/completions", chatBody("who is EMP001", false))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["approval_required"] != true {
		t.Fatalf("approval_required = %v", body["approval_required"])
	}

	pending := body["pending_approval"].(map[string]interface{})
	if pending["status"] != "pending" {
		t.Errorf("status = %v", pending["status"])
	}
	calls := pending["tool_calls"].([]interface{})
	call := calls[0].(map[string]interface{})
	if call["name"] != "get_employee" {
		t.Errorf("tool name = %v", call["name"])
	}
	args := call["arguments"].(map[string]interface{})
	if args["employee_id"] != "EMP001" {
		t.Errorf("arguments = %v", args)
	}

	// The suspended request shows up in the pending list.
	resp, body = ts.do(t, http.MethodGet, "/v1/pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending status = %d", resp.StatusCode)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("pending count = %v", body["count"])
	}
}

func TestApprovalFlowApproveCompletes(t *testing.T) {
	ts := newTestStack(t, config.ModeHITL, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{
			assistantText(`{"name": "get_employee", "arguments": {"employee_id": "EMP001"}}`),
			assistantText("EMP001 is John Smith from Engineering"),
		},
	})

	_, body := ts.do(t, http.MethodPost, "/v1/chat/completions", chatBody("who is EMP001", false))
	requestID := body["pending_approval"].(map[string]interface{})["request_id"].(string)

	resp, body := ts.do(t, http.MethodPost, "/v1/approve/"+requestID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d", resp.StatusCode)
	}
	if body["status"] != "approved" {
		t.Errorf("status = %v", body["status"])
	}
	final := body["response"].(map[string]interface{})
	choices := final["choices"].([]interface{})
	msg := choices[0].(map[string]interface{})["message"].(map[string]interface{})
	if !strings.Contains(msg["content"].(string), "John Smith") {
		t.Errorf("final content = %v", msg["content"])
	}

	// Result endpoint reflects completion.
	resp, body = ts.do(t, http.MethodGet, "/v1/result/"+requestID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result status = %d", resp.StatusCode)
	}
	if body["status"] != "completed" {
		t.Errorf("result status = %v", body["status"])
	}
	if body["result"] == nil {
		t.Error("result payload missing")
	}

	// Second approve conflicts: the record is resolved.
	resp, _ = ts.do(t, http.MethodPost, "/v1/approve/"+requestID, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second approve status = %d, want 409", resp.StatusCode)
	}

	// Pending list is empty again.
	_, body = ts.do(t, http.MethodGet, "/v1/pending", nil)
	if body["count"].(float64) != 0 {
		t.Errorf("pending count = %v", body["count"])
	}
}

func TestApprovalFlowReject(t *testing.T) {
	ts := newTestStack(t, config.ModeHITL, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{
			assistantText(`{"name": "get_employee", "arguments": {"employee_id": "EMP001"}}`),
		},
	})

	_, body := ts.do(t, http.MethodPost, "/v1/chat/completions", chatBody("who is EMP001", false))
	requestID := body["pending_approval"].(map[string]interface{})["request_id"].(string)
	callsBefore := ts.upstream.callCount()

	resp, body := ts.do(t, http.MethodPost, "/v1/reject/"+requestID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject status = %d", resp.StatusCode)
	}
	if body["status"] != "rejected" {
		t.Errorf("status = %v", body["status"])
	}
	if ts.upstream.callCount() != callsBefore {
		t.Error("reject triggered an upstream model call")
	}

	// Approve after reject conflicts.
	resp, _ = ts.do(t, http.MethodPost, "/v1/approve/"+requestID, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("approve after reject status = %d, want 409", resp.StatusCode)
	}
}

func TestApprovalUnknownID(t *testing.T) {
	ts := newTestStack(t, config.ModeHITL, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{assistantText("unused")},
	})

	resp, _ := ts.do(t, http.MethodPost, "/v1/approve/req_ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, "/v1/result/req_ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("result status = %d, want 404", resp.StatusCode)
	}
}

func TestAutoModeExecutesWithoutApproval(t *testing.T) {
	ts := newTestStack(t, config.ModeAuto, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{
			assistantText(`{"name": "get_employee", "arguments": {"employee_id": "EMP001"}}`),
			assistantText("found them"),
		},
	})

	resp, body := ts.do(t, http.MethodPost, "/v1/chat/completions", chatBody("who is EMP001", false))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["approval_required"] != nil {
		t.Error("auto mode produced an approval request")
	}
	choices := body["choices"].([]interface{})
	msg := choices[0].(map[string]interface{})["message"].(map[string]interface{})
	if msg["content"] != "found them" {
		t.Errorf("content = %v", msg["content"])
	}
	if ts.upstream.callCount() != 2 {
		t.Errorf("upstream calls = %d, want 2", ts.upstream.callCount())
	}
}

func TestPseudoStreamEmitsChunksAndDone(t *testing.T) {
	ts := newTestStack(t, config.ModeAuto, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{assistantText("streamed answer")},
	})

	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(chatBody("hi", true))
	resp, err := http.Post(ts.api.URL+"/v1/chat/completions", "application/json", &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var dataLines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(dataLines) < 2 {
		t.Fatalf("data lines = %d, want at least 2", len(dataLines))
	}
	if dataLines[len(dataLines)-1] != "[DONE]" {
		t.Errorf("last line = %q, want [DONE]", dataLines[len(dataLines)-1])
	}
	var first map[string]interface{}
	if err := json.Unmarshal([]byte(dataLines[0]), &first); err != nil {
		t.Fatalf("first chunk: %v", err)
	}
	if first["object"] != "chat.completion.chunk" {
		t.Errorf("object = %v", first["object"])
	}
}

func TestBearerAuth(t *testing.T) {
	ts := newTestStack(t, config.ModeHITL, "secret-token", &scriptedUpstream{
		responses: []*chat.CompletionResponse{assistantText("ok")},
	})

	// No token.
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(chatBody("hi", false))
	resp, err := http.Post(ts.api.URL+"/v1/chat/completions", "application/json", &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", resp.StatusCode)
	}

	// Correct token.
	resp2, _ := ts.do(t, http.MethodPost, "/v1/chat/completions", chatBody("hi", false))
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("status with token = %d, want 200", resp2.StatusCode)
	}
}

func TestStatusProbeAndModels(t *testing.T) {
	ts := newTestStack(t, config.ModeHITL, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{assistantText("unused")},
	})

	resp, body := ts.do(t, http.MethodGet, "/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "online" {
		t.Errorf("status field = %v", body["status"])
	}

	resp, body = ts.do(t, http.MethodGet, "/v1/models", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("models status = %d", resp.StatusCode)
	}
	data := body["data"].([]interface{})
	if data[0].(map[string]interface{})["id"] != "qwen2.5-coder:7b" {
		t.Errorf("model id = %v", data[0])
	}
}

func TestIterationLimitReturnsServerError(t *testing.T) {
	// The model never stops asking for tools, so the loop hits the cap.
	ts := newTestStack(t, config.ModeAuto, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{
			assistantToolCall("get_employee", `{"employee_id":"7"}`),
		},
	})

	resp, body := ts.do(t, http.MethodPost, "/v1/chat/completions", chatBody("loop forever", false))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if body["error"] != "iteration limit exceeded" {
		t.Errorf("error = %v", body["error"])
	}
	if got := ts.upstream.callCount(); got != agent.DefaultMaxIterations {
		t.Errorf("upstream calls = %d, want %d", got, agent.DefaultMaxIterations)
	}
}

func TestModeSwitchAppliesToNewRequests(t *testing.T) {
	ts := newTestStack(t, config.ModeHITL, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{
			assistantToolCall("get_employee", `{"employee_id":"7"}`),
			assistantText("John Smith is in engineering."),
		},
	})

	ts.srv.SetMode(config.ModeAuto)

	resp, body := ts.do(t, http.MethodPost, "/v1/chat/completions", chatBody("who is employee 7?", false))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["approval_required"] == true {
		t.Error("auto mode produced an approval request after mode switch")
	}
	if got := ts.upstream.callCount(); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
}

func TestSSEMessageUnknownSession(t *testing.T) {
	ts := newTestStack(t, config.ModeHITL, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{assistantText("unused")},
	})

	resp, body := ts.do(t, http.MethodPost, "/sse/message?session_id=nope",
		map[string]string{"id": "1", "method": "tools/list"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "invalid session" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestChatCompletionsGetHint(t *testing.T) {
	ts := newTestStack(t, config.ModeHITL, "", &scriptedUpstream{
		responses: []*chat.CompletionResponse{assistantText("unused")},
	})

	req, _ := http.NewRequest(http.MethodGet, ts.api.URL+"/v1/chat/completions", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
