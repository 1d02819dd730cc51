package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/toolgate/internal/engine"
	"github.com/nextlevelbuilder/toolgate/pkg/protocol"
)

// handleSSEConnect establishes a session event stream. The first event names
// the message submission URL for this session; after that the stream carries
// response frames and keep-alive comments until the client disconnects.
func (s *Server) handleSSEConnect(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sessionID, outbound := s.engine.Register()
	defer s.engine.Unregister(sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	endpointURL := fmt.Sprintf("http://%s/sse/message?session_id=%s", r.Host, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpointURL)
	flusher.Flush()

	slog.Info("sse session connected", "session_id", sessionID)

	keepAlive := time.Duration(s.cfg.Engine.KeepAliveSeconds) * time.Second
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Info("sse session disconnected", "session_id", sessionID)
			return

		case frame, open := <-outbound:
			if !open {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				slog.Error("marshal sse frame", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// handleSSEMessage enqueues a request for an established session. It only
// accepts and queues; results arrive on the session's event stream.
func (s *Server) handleSSEMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var frame protocol.RequestFrame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	switch err := s.engine.Submit(sessionID, frame); {
	case errors.Is(err, engine.ErrUnknownSession):
		slog.Warn("submission for unknown session", "session_id", sessionID)
		writeError(w, http.StatusBadRequest, "invalid session")
	case errors.Is(err, engine.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "engine queue full")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	}
}
