package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/toolgate/internal/approval"
)

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.approvals.ListPending()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pending == nil {
		pending = []approval.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": pending,
		"count":   len(pending),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")

	resp, err := s.orch.Approve(r.Context(), requestID)
	if err != nil {
		s.writeApprovalError(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": requestID,
		"status":     "approved",
		"message":    "tools executed",
		"response":   resp,
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")

	resp, err := s.orch.Reject(requestID)
	if err != nil {
		s.writeApprovalError(w, requestID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id": requestID,
		"status":     "rejected",
		"message":    "tool execution rejected",
		"response":   resp,
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")

	req, err := s.approvals.Get(requestID)
	if err != nil {
		s.writeApprovalError(w, requestID, err)
		return
	}

	body := map[string]interface{}{
		"request_id": req.RequestID,
		"status":     req.Status,
	}
	if len(req.Result) > 0 {
		body["result"] = req.Result
	} else {
		body["result"] = nil
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) writeApprovalError(w http.ResponseWriter, requestID string, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		writeError(w, http.StatusNotFound, "request "+requestID+" not found")
	case errors.Is(err, approval.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("approval operation failed", "request_id", requestID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
