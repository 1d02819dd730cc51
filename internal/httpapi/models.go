package httpapi

import (
	"net/http"
	"time"
)

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"object": "list",
		"data": []map[string]interface{}{{
			"id":       s.cfg.LLM.Model,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": s.cfg.LLM.Provider,
		}},
	})
}
