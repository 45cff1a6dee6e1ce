package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/skip2/go-qrcode"

	"github.com/mcoot/storyguess/internal/api/middleware"
	"github.com/mcoot/storyguess/internal/api/request"
	"github.com/mcoot/storyguess/internal/api/response"
	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/services/session"
)

// qrSize is the edge length of generated join codes, in pixels
const qrSize = 320

// RoomHandler handles room lifecycle and lobby endpoints
type RoomHandler struct {
	coord     *session.Coordinator
	publicURL string
}

// NewRoomHandler creates a new room handler. publicURL is the base of join
// links; when empty it is derived from each request.
func NewRoomHandler(coord *session.Coordinator, publicURL string) *RoomHandler {
	return &RoomHandler{
		coord:     coord,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

func roomCode(r *http.Request) model.RoomCode {
	return model.NormalizeRoomCode(mux.Vars(r)["code"])
}

// joinURL is the link players follow to join a room
func (h *RoomHandler) joinURL(r *http.Request, code model.RoomCode) string {
	base := h.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/?room=" + url.QueryEscape(string(code))
}

// Create handles POST /api/v1/rooms
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateRoomRequest
	if err := decodeJSON(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	room, err := h.coord.CreateRoom(r.Context(), req.Name, req.MaxPlayers)
	if err != nil {
		WriteError(w, err)
		return
	}

	detail := response.RoomDetailFromModel(room, nil)
	detail.JoinURL = h.joinURL(r, room.Code)
	response.JSON(w, http.StatusCreated, detail)
}

// Get handles GET /api/v1/rooms/{code}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	code := roomCode(r)
	room, err := h.coord.GetRoom(r.Context(), code)
	if err != nil {
		WriteError(w, err)
		return
	}
	players, err := h.coord.ListPlayers(r.Context(), code)
	if err != nil {
		WriteError(w, err)
		return
	}

	detail := response.RoomDetailFromModel(room, players)
	detail.JoinURL = h.joinURL(r, room.Code)
	response.JSON(w, http.StatusOK, detail)
}

// QR handles GET /api/v1/rooms/{code}/qr with a PNG of the join link
func (h *RoomHandler) QR(w http.ResponseWriter, r *http.Request) {
	room, err := h.coord.GetRoom(r.Context(), roomCode(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	png, err := qrcode.Encode(h.joinURL(r, room.Code), qrcode.Medium, qrSize)
	if err != nil {
		WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}

// Join handles POST /api/v1/rooms/{code}/join
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	localID := middleware.GetLocalID(r.Context())

	var req request.JoinRequest
	if err := decodeJSON(r, &req, false); err != nil {
		WriteError(w, err)
		return
	}

	player, err := h.coord.Join(r.Context(), roomCode(r), localID, req.Name, req.Avatar)
	if err != nil {
		WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.IdentityCookie,
		Value:    string(localID),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, http.StatusOK, response.PlayerFromModel(player))
}

// Leave handles POST /api/v1/rooms/{code}/leave
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Leave(r.Context(), roomCode(r), middleware.GetLocalID(r.Context())); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}

// Ready handles POST /api/v1/rooms/{code}/ready
func (h *RoomHandler) Ready(w http.ResponseWriter, r *http.Request) {
	req := request.ReadyRequest{Ready: true}
	if err := decodeJSON(r, &req, true); err != nil {
		WriteError(w, err)
		return
	}

	if err := h.coord.SetReady(r.Context(), roomCode(r), middleware.GetLocalID(r.Context()), req.Ready); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}

// Start handles POST /api/v1/rooms/{code}/start
func (h *RoomHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.StartGame(r.Context(), roomCode(r), middleware.GetLocalID(r.Context())); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}

// PlayAgain handles POST /api/v1/rooms/{code}/play-again
func (h *RoomHandler) PlayAgain(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.PlayAgain(r.Context(), roomCode(r), middleware.GetLocalID(r.Context())); err != nil {
		WriteError(w, err)
		return
	}
	response.NoContent(w)
}
