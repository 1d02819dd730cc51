package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/toolgate/internal/chat"
)

// Registry manages tool registration and execution.
type Registry struct {
	tools       map[string]Tool
	mu          sync.RWMutex
	rateLimiter *RateLimiter // nil = no rate limiting
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// SetRateLimiter enables per-key tool rate limiting.
func (r *Registry) SetRateLimiter(rl *RateLimiter) {
	r.rateLimiter = rl
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Execute runs a tool by name. A missing tool or a panicking implementation
// yields a failure-shaped result; neither unwinds past this call.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	return r.ExecuteForKey(ctx, name, args, "")
}

// ExecuteForKey runs a tool with a rate-limit key (typically the session or
// user identifier). An empty key bypasses rate limiting.
func (r *Registry) ExecuteForKey(ctx context.Context, name string, args map[string]interface{}, key string) (result *Result) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return Errorf("Tool '%s' not found", name)
	}

	if r.rateLimiter != nil && key != "" {
		if err := r.rateLimiter.Allow(key); err != nil {
			return Errorf("%s", err.Error())
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", name, "panic", rec)
			result = Errorf("tool %s failed: %v", name, rec)
		}
	}()

	start := time.Now()
	result = tool.Execute(ctx, args)
	duration := time.Since(start)

	slog.Debug("tool executed",
		"tool", name,
		"duration_ms", duration.Milliseconds(),
		"success", result.Success,
	)

	return result
}

// Definitions returns provider-API tool definitions, sorted by name so the
// system-prompt hint and tools/list output are deterministic.
func (r *Registry) Definitions() []chat.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]chat.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, ToDefinition(tool))
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].Function.Name < defs[j].Function.Name
	})
	return defs
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// RateLimiter implements a sliding window rate limiter for tool executions.
// Tracks actions per key within a configurable window.
type RateLimiter struct {
	mu       sync.Mutex
	windows  map[string][]time.Time
	maxPerHr int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter with the given max actions per hour.
// Pass 0 to disable rate limiting.
func NewRateLimiter(maxPerHour int) *RateLimiter {
	if maxPerHour <= 0 {
		return nil
	}
	return &RateLimiter{
		windows:  make(map[string][]time.Time),
		maxPerHr: maxPerHour,
		window:   time.Hour,
	}
}

// Allow checks if a tool execution is allowed for the given key.
// Returns nil if allowed, or an error describing the rate limit.
func (rl *RateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	// Prune expired entries
	entries := rl.windows[key]
	start := 0
	for start < len(entries) && entries[start].Before(cutoff) {
		start++
	}
	entries = entries[start:]

	if len(entries) >= rl.maxPerHr {
		return fmt.Errorf("tool rate limit exceeded: %d actions/hour for key %s", rl.maxPerHr, key)
	}

	rl.windows[key] = append(entries, now)
	return nil
}
