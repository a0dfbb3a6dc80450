package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.claude == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model":       s.claude.Model(),
		"stats":       s.claude.Stats().Snapshot(),
		"queue_depth": s.orchestrator.QueueDepth(),
		"sessions":    s.sessions.Len(),
	})
}
