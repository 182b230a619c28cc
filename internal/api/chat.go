package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/clawinfra/pilink/internal/orchestrator"
)

// ChatRequest is the JSON body for POST /api/chat
type ChatRequest struct {
	Message string                     `json:"message"`
	History []orchestrator.ChatMessage `json:"history,omitempty"`
	// SessionID selects stored history instead of History. A new id is
	// issued when sessions are enabled and none is given.
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the JSON response for POST /api/chat
type ChatResponse struct {
	Response     string `json:"response"`
	FinishReason string `json:"finish_reason"`
	Rounds       int    `json:"rounds"`
	ToolCalls    int    `json:"tool_calls"`
	CapReached   bool   `json:"cap_reached,omitempty"`
	Model        string `json:"model,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// handleChat handles POST /api/chat: one orchestrated turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	loop, prompt := s.chatConfig()
	if loop == nil {
		writeError(w, http.StatusInternalServerError, "model provider not configured")
		return
	}

	ctx := r.Context()
	history := req.History
	if s.sessions != nil {
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		} else {
			stored, err := s.sessions.History(ctx, req.SessionID)
			if err != nil {
				s.logger.Error("load session failed", "session", req.SessionID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to load session")
				return
			}
			history = stored
		}
	}

	res, err := loop.Run(ctx, orchestrator.Turn{
		SystemPrompt: prompt,
		History:      history,
		Message:      req.Message,
	})
	if err != nil {
		s.logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred: "+err.Error())
		return
	}

	if s.sessions != nil {
		err := s.sessions.Append(ctx, req.SessionID,
			orchestrator.ChatMessage{Role: orchestrator.RoleUser, Content: req.Message},
			orchestrator.ChatMessage{Role: orchestrator.RoleAssistant, Content: res.Content},
		)
		if err != nil {
			// the turn already happened; the reply still goes out
			s.logger.Warn("save session failed", "session", req.SessionID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Response:     res.Content,
		FinishReason: res.FinishReason,
		Rounds:       res.Rounds,
		ToolCalls:    res.Metrics.ToolCalls,
		CapReached:   res.CapReached,
		Model:        res.Model,
		SessionID:    req.SessionID,
	})
}

// handleSessionRoutes handles DELETE /api/sessions/{id}
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, "sessions not enabled")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	if err := s.sessions.Clear(r.Context(), id); err != nil {
		s.logger.Error("clear session failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "Session cleared",
		"session_id": id,
	})
}
