// Package providers implements the model backend client for
// OpenAI-compatible chat completion APIs (Ollama, vLLM, OpenAI).
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/toolgate/internal/chat"
)

// apiKeyNotNeeded is the sentinel meaning "send no Authorization header".
const apiKeyNotNeeded = "not-needed"

// Completer is the single contract the agent loop needs from a model backend.
type Completer interface {
	Complete(ctx context.Context, messages []chat.Message, tools []chat.ToolDefinition) (*chat.CompletionResponse, error)
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
}

// NewClient creates a backend client. timeout bounds each completion call;
// expiry fails the current loop iteration, it is never retried here.
func NewClient(name, baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.name }

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Complete sends the transcript and tool definitions to the backend and returns the
// parsed response. Requests are always non-streaming with temperature 0 so
// text-based tool-call extraction sees the complete body.
func (c *Client) Complete(ctx context.Context, messages []chat.Message, tools []chat.ToolDefinition) (*chat.CompletionResponse, error) {
	temp := 0.0
	payload := chat.CompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      false,
		Temperature: &temp,
	}
	if len(tools) > 0 {
		payload.Tools = tools
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	key := strings.TrimSpace(c.apiKey)
	if key != "" && !strings.EqualFold(key, apiKeyNotNeeded) {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncateBody(data)}
	}

	var completion chat.CompletionResponse
	if err := json.Unmarshal(data, &completion); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	slog.Debug("completion received",
		"provider", c.name,
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"tools", len(tools),
	)

	return &completion, nil
}

// Ping checks backend reachability via GET <base>/models with a short timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func truncateBody(data []byte) string {
	const maxLen = 512
	s := string(data)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
