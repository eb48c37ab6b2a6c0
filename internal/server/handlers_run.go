package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/in-the-loop-labs/pair-review/internal/event"
	"github.com/in-the-loop-labs/pair-review/internal/review"
	"github.com/in-the-loop-labs/pair-review/internal/storage"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// CreateRunRequest is the request body for registering an analysis run.
type CreateRunRequest struct {
	ReviewID string              `json:"reviewID"`
	Provider string              `json:"provider"`
	Model    string              `json:"model"`
	Levels   []types.LevelConfig `json:"levels"`
}

// OutcomeRequest is the request body for reporting a run's terminal state.
type OutcomeRequest struct {
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

// createRun handles POST /run
func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.ReviewID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "reviewID is required")
		return
	}

	run, err := s.reviews.CreateRun(r.Context(), req.ReviewID, req.Provider, req.Model, req.Levels)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// getRun handles GET /run/{runID}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.reviews.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ingestLevelStatus handles POST /run/{runID}/level/{level}. Analysis
// workers report per-level voice state here; it fans out as a progress
// frame on the analysis channel.
func (s *Server) ingestLevelStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	level := chi.URLParam(r, "level")

	var update types.LevelUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	if _, err := s.reviews.GetRun(r.Context(), runID); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "run not found")
		return
	}

	s.bus.PublishSync(event.TopicAnalysis, types.StreamEvent{
		Type:      types.EventProgress,
		SessionID: runID,
		Levels:    map[string]types.LevelUpdate{level: update},
	})

	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// ingestOutcome handles POST /run/{runID}/outcome. The run record moves to
// its terminal status and the analysis channel carries the terminal frame.
func (s *Server) ingestOutcome(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var req OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if !types.VoiceState(req.Outcome).Terminal() {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "outcome must be a terminal state")
		return
	}

	if _, err := s.reviews.UpdateRunStatus(r.Context(), runID, req.Outcome); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	evt := types.StreamEvent{
		SessionID: runID,
		Outcome:   req.Outcome,
		Message:   req.Message,
	}
	if req.Outcome == string(types.VoiceFailed) {
		evt.Type = types.EventError
	} else {
		evt.Type = types.EventComplete
	}
	s.bus.PublishSync(event.TopicAnalysis, evt)

	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// addSuggestion handles POST /run/{runID}/suggestion
func (s *Server) addSuggestion(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var sugg review.Suggestion
	if err := json.NewDecoder(r.Body).Decode(&sugg); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	sugg.RunID = runID

	saved, err := s.reviews.AddSuggestion(r.Context(), &sugg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, saved)
}

// getSuggestions handles GET /run/{runID}/suggestion
func (s *Server) getSuggestions(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	suggestions, err := s.reviews.Suggestions(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	if suggestions == nil {
		suggestions = []*review.Suggestion{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}
