package handler

import (
	"net/http"

	"github.com/mcoot/storyguess/internal/api/middleware"
	"github.com/mcoot/storyguess/internal/api/sse"
	"github.com/mcoot/storyguess/internal/services/session"
)

// EventsHandler streams room change signals over SSE
type EventsHandler struct {
	coord *session.Coordinator
	hubs  *sse.HubManager
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(coord *session.Coordinator, hubs *sse.HubManager) *EventsHandler {
	return &EventsHandler{coord: coord, hubs: hubs}
}

// Stream handles GET /api/v1/rooms/{code}/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	room, err := h.coord.GetRoom(r.Context(), roomCode(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	hub, err := h.hubs.GetOrCreateHub(room)
	if err != nil {
		WriteError(w, err)
		return
	}

	sse.ServeSSE(w, r, hub, middleware.GetLocalID(r.Context()))
}
