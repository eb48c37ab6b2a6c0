package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/in-the-loop-labs/pair-review/internal/session"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	ReviewID      string `json:"reviewID"`
	ProviderHint  string `json:"providerHint,omitempty"`
	SeedContextID string `json:"seedContextID,omitempty"`
}

// SendMessageRequest is the request body for sending a message.
type SendMessageRequest struct {
	Content     string         `json:"content"`
	Context     string         `json:"context,omitempty"`
	ContextData map[string]any `json:"contextData,omitempty"`
}

// SendMessageResponse acknowledges an accepted turn. The response itself
// streams over the chat event channel.
type SendMessageResponse struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

// createSession handles POST /session
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	if req.ReviewID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "reviewID is required")
		return
	}

	sess, err := s.sessions.Create(r.Context(), req.ReviewID, req.SeedContextID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// sendMessage handles POST /session/{sessionID}/message. The turn is
// accepted with a 202; delta frames follow on the chat event channel. An
// unknown or expired session produces 410 with the distinguished code the
// client's stale-session recovery keys on.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}

	userMsg, err := s.sessions.StartTurn(r.Context(), sessionID, req.Content)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SendMessageResponse{
		SessionID: sessionID,
		MessageID: userMsg.ID,
	})
}

// abortSession handles POST /session/{sessionID}/abort
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	s.sessions.Abort(sessionID)
	writeSuccess(w)
}

// getMessages handles GET /session/{sessionID}/message
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := s.sessions.Messages(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	if messages == nil {
		messages = []types.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// writeSessionError maps session service errors to HTTP responses.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionGone):
		writeError(w, http.StatusGone, ErrCodeSessionGone, "session is no longer available")
	case errors.Is(err, session.ErrTurnActive):
		writeError(w, http.StatusConflict, ErrCodeTurnActive, "a response is already streaming for this session")
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
