// Package httpapi exposes the caller-facing HTTP surface: the OpenAI-style
// chat completions endpoint with HITL approvals, the approval management
// endpoints, and the SSE/WebSocket session transports.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/toolgate/internal/adapter"
	"github.com/nextlevelbuilder/toolgate/internal/agent"
	"github.com/nextlevelbuilder/toolgate/internal/approval"
	"github.com/nextlevelbuilder/toolgate/internal/config"
	"github.com/nextlevelbuilder/toolgate/internal/engine"
	"github.com/nextlevelbuilder/toolgate/internal/tools"
)

// Version is reported by the status probe and the initialize method.
const Version = "1.0.0"

// maxRequestBodySize limits request bodies to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1MB

// Server bundles the HTTP handlers with their dependencies.
type Server struct {
	cfg       *config.Config
	orch      *agent.Orchestrator
	adapter   *adapter.Adapter
	engine    *engine.Engine
	registry  *tools.Registry
	approvals *approval.Cache
	limiter   *RateLimiter

	mu     sync.RWMutex
	mode   config.Mode
	pinger func(ctx context.Context) error
}

// NewServer wires a server from its parts.
func NewServer(cfg *config.Config, orch *agent.Orchestrator, adpt *adapter.Adapter, eng *engine.Engine, registry *tools.Registry, approvals *approval.Cache) *Server {
	return &Server{
		cfg:       cfg,
		orch:      orch,
		adapter:   adpt,
		engine:    eng,
		registry:  registry,
		approvals: approvals,
		limiter:   NewRateLimiter(cfg.Limits.RequestsPerMinute, cfg.Limits.Burst),
		mode:      cfg.Agent.Mode,
	}
}

// SetMode switches the execution mode for subsequent chat requests.
// Used by config hot reload.
func (s *Server) SetMode(mode config.Mode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// Mode returns the current execution mode.
func (s *Server) Mode() config.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetHealthCheck installs the model backend reachability probe reported by
// the status route.
func (s *Server) SetHealthCheck(fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.pinger = fn
	s.mu.Unlock()
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleStatus)
	mux.HandleFunc("GET /v1/models", s.protect(s.handleModels))
	mux.HandleFunc("POST /v1/chat/completions", s.protect(s.handleChatCompletions))
	mux.HandleFunc("GET /v1/chat/completions", s.handleChatCompletionsGet)

	mux.HandleFunc("GET /v1/pending", s.protect(s.handleListPending))
	mux.HandleFunc("POST /v1/approve/{id}", s.protect(s.handleApprove))
	mux.HandleFunc("POST /v1/reject/{id}", s.protect(s.handleReject))
	mux.HandleFunc("GET /v1/result/{id}", s.protect(s.handleResult))

	mux.HandleFunc("GET /sse", s.protect(s.handleSSEConnect))
	mux.HandleFunc("POST /sse/message", s.protect(s.handleSSEMessage))
	mux.HandleFunc("GET /ws", s.protect(s.handleWebSocket))

	return mux
}

// protect wraps a handler with bearer auth and the request rate limiter.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatch(extractBearerToken(r), s.cfg.Server.Token) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !s.limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// Start runs the engine loop and the HTTP listener until the context is
// canceled, then shuts the listener down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.Addr(),
		Handler: s.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.engine.Run(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "mode", s.Mode())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// handleStatus is the unauthenticated status probe.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	pinger := s.pinger
	s.mu.RUnlock()

	llm := "unknown"
	if pinger != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pinger(pingCtx); err != nil {
			llm = "unreachable"
		} else {
			llm = "ok"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "online",
		"agent":   s.cfg.Agent.Name,
		"version": Version,
		"mode":    s.Mode(),
		"llm":     llm,
		"tools":   s.registry.Count(),
		"endpoints": map[string]string{
			"chat":    "POST /v1/chat/completions",
			"pending": "GET /v1/pending",
			"approve": "POST /v1/approve/{request_id}",
			"reject":  "POST /v1/reject/{request_id}",
			"result":  "GET /v1/result/{request_id}",
			"sse":     "GET /sse",
			"ws":      "GET /ws",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
