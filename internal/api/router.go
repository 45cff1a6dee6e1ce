package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/storyguess/internal/api/handler"
	"github.com/mcoot/storyguess/internal/api/middleware"
	"github.com/mcoot/storyguess/internal/api/response"
	"github.com/mcoot/storyguess/internal/api/sse"
	logmw "github.com/mcoot/storyguess/internal/middleware"
	"github.com/mcoot/storyguess/internal/services/session"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger      *slog.Logger
	Coordinator *session.Coordinator
	HubManager  *sse.HubManager
	// PublicURL is the base of join links and QR codes (optional)
	PublicURL string
	// StorageName is reported by the health check
	StorageName string
	// WebSocket holds per-connection limits
	WebSocket handler.WSConfig
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	roomHandler := handler.NewRoomHandler(cfg.Coordinator, cfg.PublicURL)
	roundHandler := handler.NewRoundHandler(cfg.Coordinator)
	eventsHandler := handler.NewEventsHandler(cfg.Coordinator, cfg.HubManager)
	wsHandler := handler.NewWSHandler(cfg.Coordinator, cfg.WebSocket, cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Recovery(cfg.Logger))
	api.Use(logmw.Logging(cfg.Logger))
	api.Use(middleware.Identity())

	// Open routes: anyone with the code can look at a room
	api.HandleFunc("/health", healthHandler(cfg.StorageName)).Methods(http.MethodGet)
	api.HandleFunc("/rooms", roomHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{code}", roomHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/qr", roomHandler.QR).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/state", roundHandler.State).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/results", roundHandler.Results).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/events", eventsHandler.Stream).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{code}/ws", wsHandler.Serve).Methods(http.MethodGet)

	// Player actions need a local id
	actions := api.PathPrefix("/rooms/{code}").Subrouter()
	actions.Use(middleware.RequireIdentity())
	actions.HandleFunc("/join", roomHandler.Join).Methods(http.MethodPost)
	actions.HandleFunc("/leave", roomHandler.Leave).Methods(http.MethodPost)
	actions.HandleFunc("/ready", roomHandler.Ready).Methods(http.MethodPost)
	actions.HandleFunc("/start", roomHandler.Start).Methods(http.MethodPost)
	actions.HandleFunc("/stories", roundHandler.SubmitStory).Methods(http.MethodPost)
	actions.HandleFunc("/guesses", roundHandler.SubmitGuess).Methods(http.MethodPost)
	actions.HandleFunc("/reactions", roundHandler.React).Methods(http.MethodPost)
	actions.HandleFunc("/play-again", roomHandler.PlayAgain).Methods(http.MethodPost)

	return r
}

func healthHandler(storageName string) http.HandlerFunc {
	if storageName == "" {
		storageName = "memory"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, response.Health{Status: "ok", Storage: storageName})
	}
}
