package session

import (
	"context"
	"log/slog"

	"github.com/mcoot/storyguess/internal/dependencies/clock"
	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/services/room"
	"github.com/mcoot/storyguess/internal/services/scoring"
	"github.com/mcoot/storyguess/internal/storage"
)

// Coordinator is the entry point for clients. It validates and forwards
// actions to the room controller and turns store changes into per-viewer
// events. It holds no room state of its own.
type Coordinator struct {
	rooms   *room.Controller
	storage storage.Storage
	scoring *scoring.Service
	clock   clock.Clock
	logger  *slog.Logger
}

// NewCoordinator creates a new session Coordinator
func NewCoordinator(
	rooms *room.Controller,
	storage storage.Storage,
	scoring *scoring.Service,
	clock clock.Clock,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		rooms:   rooms,
		storage: storage,
		scoring: scoring,
		clock:   clock,
		logger:  logger,
	}
}

// CreateRoom creates a room in the lobby
func (c *Coordinator) CreateRoom(ctx context.Context, name string, maxPlayers int) (*model.Room, error) {
	return c.rooms.CreateRoom(ctx, name, maxPlayers)
}

// GetRoom looks up a room by code
func (c *Coordinator) GetRoom(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	return c.rooms.GetRoom(ctx, model.NormalizeRoomCode(string(code)))
}

// ListPlayers returns the room's players in join order
func (c *Coordinator) ListPlayers(ctx context.Context, code model.RoomCode) ([]*model.Player, error) {
	return c.rooms.ListPlayers(ctx, model.NormalizeRoomCode(string(code)))
}

// Join adds the caller to a room, or returns their existing player
func (c *Coordinator) Join(ctx context.Context, code model.RoomCode, localID model.LocalID, name, avatar string) (*model.Player, error) {
	return c.rooms.Join(ctx, model.NormalizeRoomCode(string(code)), localID, name, avatar)
}

// Leave removes the caller from a room
func (c *Coordinator) Leave(ctx context.Context, code model.RoomCode, localID model.LocalID) error {
	return c.rooms.Leave(ctx, model.NormalizeRoomCode(string(code)), localID)
}

// SetReady sets the caller's ready flag
func (c *Coordinator) SetReady(ctx context.Context, code model.RoomCode, localID model.LocalID, ready bool) error {
	return c.rooms.SetReady(ctx, model.NormalizeRoomCode(string(code)), localID, ready)
}

// StartGame starts the round early on the host's request
func (c *Coordinator) StartGame(ctx context.Context, code model.RoomCode, localID model.LocalID) error {
	return c.rooms.StartGame(ctx, model.NormalizeRoomCode(string(code)), localID)
}

// SubmitStory records the caller's story for the round
func (c *Coordinator) SubmitStory(ctx context.Context, code model.RoomCode, localID model.LocalID, content string, genre model.Genre) (*model.Story, error) {
	return c.rooms.SubmitStory(ctx, model.NormalizeRoomCode(string(code)), localID, content, genre)
}

// SubmitGuess records the caller's guess at the active story's author
func (c *Coordinator) SubmitGuess(ctx context.Context, code model.RoomCode, localID model.LocalID, storyID model.StoryID, guessedAuthorID model.PlayerID) (*model.Guess, error) {
	return c.rooms.SubmitGuess(ctx, model.NormalizeRoomCode(string(code)), localID, storyID, guessedAuthorID)
}

// React toggles one of the caller's reactions on the active story
func (c *Coordinator) React(ctx context.Context, code model.RoomCode, localID model.LocalID, storyID model.StoryID, kind model.ReactionKind) (bool, error) {
	return c.rooms.React(ctx, model.NormalizeRoomCode(string(code)), localID, storyID, kind)
}

// PlayAgain sends a revealed room back to the lobby
func (c *Coordinator) PlayAgain(ctx context.Context, code model.RoomCode, localID model.LocalID) error {
	return c.rooms.PlayAgain(ctx, model.NormalizeRoomCode(string(code)), localID)
}

// GuessResults returns the named guesses for the revealed story
func (c *Coordinator) GuessResults(ctx context.Context, code model.RoomCode) ([]*model.GuessResult, error) {
	return c.rooms.GuessResults(ctx, model.NormalizeRoomCode(string(code)))
}

// Snapshot returns the room as the given viewer should see it
func (c *Coordinator) Snapshot(ctx context.Context, code model.RoomCode, localID model.LocalID) (*Snapshot, error) {
	st, err := c.rooms.State(ctx, model.NormalizeRoomCode(string(code)))
	if err != nil {
		return nil, err
	}
	return project(st, localID, c.clock.Now(), c.scoring), nil
}

// Open starts a live session for one viewer. The session ends when ctx is
// done, the room closes, or Close is called.
func (c *Coordinator) Open(ctx context.Context, code model.RoomCode, localID model.LocalID) (*Session, error) {
	r, err := c.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	sub, err := c.storage.Subscribe(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	s := newSession(c, r, localID, sub)
	go s.run(ctx)

	c.logger.Debug("session opened",
		slog.String("room_code", string(r.Code)),
		slog.String("local_id", string(localID)),
	)
	return s, nil
}
