package handler

import (
	"net/http"

	"github.com/mcoot/storyguess/internal/api/middleware"
	"github.com/mcoot/storyguess/internal/api/request"
	"github.com/mcoot/storyguess/internal/api/response"
	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/services/session"
)

// RoundHandler handles story, guess, and reaction endpoints
type RoundHandler struct {
	coord *session.Coordinator
}

// NewRoundHandler creates a new round handler
func NewRoundHandler(coord *session.Coordinator) *RoundHandler {
	return &RoundHandler{coord: coord}
}

// SubmitStory handles POST /api/v1/rooms/{code}/stories
func (h *RoundHandler) SubmitStory(w http.ResponseWriter, r *http.Request) {
	var req request.StoryRequest
	if err := decodeJSON(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	story, err := h.coord.SubmitStory(r.Context(), roomCode(r), middleware.GetLocalID(r.Context()), req.Content, model.Genre(req.Genre))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.StoryFromModel(story))
}

// SubmitGuess handles POST /api/v1/rooms/{code}/guesses
func (h *RoundHandler) SubmitGuess(w http.ResponseWriter, r *http.Request) {
	var req request.GuessRequest
	if err := decodeJSON(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	guess, err := h.coord.SubmitGuess(r.Context(), roomCode(r), middleware.GetLocalID(r.Context()),
		model.StoryID(req.StoryID), model.PlayerID(req.GuessedAuthorID))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.GuessFromModel(guess))
}

// React handles POST /api/v1/rooms/{code}/reactions
func (h *RoundHandler) React(w http.ResponseWriter, r *http.Request) {
	var req request.ReactionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	active, err := h.coord.React(r.Context(), roomCode(r), middleware.GetLocalID(r.Context()),
		model.StoryID(req.StoryID), model.ReactionKind(req.Kind))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.Reaction{StoryID: req.StoryID, Kind: req.Kind, Active: active})
}

// State handles GET /api/v1/rooms/{code}/state. Outsiders get the public view.
func (h *RoundHandler) State(w http.ResponseWriter, r *http.Request) {
	snap, err := h.coord.Snapshot(r.Context(), roomCode(r), middleware.GetLocalID(r.Context()))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.SnapshotFromSession(snap))
}

// Results handles GET /api/v1/rooms/{code}/results
func (h *RoundHandler) Results(w http.ResponseWriter, r *http.Request) {
	results, err := h.coord.GuessResults(r.Context(), roomCode(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"results": response.GuessResultsFromModel(results),
	})
}
