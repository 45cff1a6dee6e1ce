package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mcoot/storyguess/internal/dependencies/clock"
	"github.com/mcoot/storyguess/internal/dependencies/random"
	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/services/scoring"
	"github.com/mcoot/storyguess/internal/storage"
)

// Config holds the rules a controller applies to every room
type Config struct {
	StartCountdown time.Duration
	GuessCountdown time.Duration
	MinPlayers     int
	// ResetScoresOnPlayAgain zeroes every score when a room starts a new round.
	// When false, scores accumulate across rounds.
	ResetScoresOnPlayAgain bool
	// MaxCodeAttempts bounds room code generation on collisions
	MaxCodeAttempts int
}

// DefaultConfig returns the standard game rules
func DefaultConfig() Config {
	return Config{
		StartCountdown:  5 * time.Second,
		GuessCountdown:  10 * time.Second,
		MinPlayers:      model.DefaultMinPlayers,
		MaxCodeAttempts: 10,
	}
}

// Scheduler is told whenever a room's next deadline may have moved
type Scheduler interface {
	Schedule(roomID model.RoomID)
}

// Controller owns the room state machine: phase, transition guards and the
// writes each transition makes. All writes for a room are serialized.
type Controller struct {
	storage   storage.Storage
	scoring   *scoring.Service
	clock     clock.Clock
	random    random.Random
	cfg       Config
	logger    *slog.Logger
	locks     *roomLocks
	scheduler Scheduler
}

// NewController creates a new room Controller
func NewController(
	storage storage.Storage,
	scoring *scoring.Service,
	clock clock.Clock,
	random random.Random,
	cfg Config,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		storage: storage,
		scoring: scoring,
		clock:   clock,
		random:  random,
		cfg:     cfg,
		logger:  logger,
		locks:   newRoomLocks(),
	}
}

// SetScheduler registers the component that runs room deadlines
func (c *Controller) SetScheduler(s Scheduler) {
	c.scheduler = s
}

// Config returns the rules the controller applies
func (c *Controller) Config() Config {
	return c.cfg
}

// Now returns the controller's current time
func (c *Controller) Now() time.Time {
	return c.clock.Now()
}

func (c *Controller) schedule(id model.RoomID) {
	if c.scheduler != nil {
		c.scheduler.Schedule(id)
	}
}

// CreateRoom creates an empty room in the lobby. The first player to join becomes host.
func (c *Controller) CreateRoom(ctx context.Context, name string, maxPlayers int) (*model.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.ErrInvalidRoomName
	}
	if maxPlayers == 0 {
		maxPlayers = model.DefaultMaxPlayers
	}
	if maxPlayers < model.MinRoomCapacity || maxPlayers > model.MaxRoomCapacity {
		return nil, model.ErrInvalidCapacity
	}

	now := c.clock.Now()
	room := &model.Room{
		ID:         model.RoomID(c.random.ID()),
		Name:       name,
		Phase:      model.PhaseLobby,
		MinPlayers: min(c.cfg.MinPlayers, maxPlayers),
		MaxPlayers: maxPlayers,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Generate a unique room code
	for attempt := 0; ; attempt++ {
		if attempt >= c.cfg.MaxCodeAttempts {
			return nil, model.ErrCodeSpaceExhausted
		}
		room.Code = model.RoomCode(c.random.String(model.RoomCodeLength, model.RoomCodeAlphabet))
		exists, err := c.storage.RoomCodeExists(ctx, room.Code)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		err = c.storage.CreateRoom(ctx, room)
		if errors.Is(err, model.ErrRoomCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	c.logger.Info("room created",
		slog.String("room_id", string(room.ID)),
		slog.String("room_code", string(room.Code)),
		slog.Int("max_players", room.MaxPlayers),
	)
	return room, nil
}

// GetRoom retrieves a room by code
func (c *Controller) GetRoom(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	if !code.Valid() {
		return nil, model.ErrInvalidRoomCode
	}
	return c.storage.GetRoomByCode(ctx, code)
}

// ListPlayers returns the room's players in join order
func (c *Controller) ListPlayers(ctx context.Context, code model.RoomCode) ([]*model.Player, error) {
	room, err := c.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	return c.storage.ListPlayers(ctx, room.ID)
}

// GetPlayer returns the caller's player record in a room
func (c *Controller) GetPlayer(ctx context.Context, code model.RoomCode, localID model.LocalID) (*model.Player, error) {
	room, err := c.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	return c.storage.GetPlayer(ctx, room.ID, localID)
}

// lockRoom resolves the code, takes the room's write lock and reloads the
// room under it. The returned unlock must be called.
func (c *Controller) lockRoom(ctx context.Context, code model.RoomCode) (*model.Room, func(), error) {
	room, err := c.GetRoom(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	id := room.ID
	lock := c.locks.get(id)
	lock.Lock()
	room, err = c.storage.GetRoom(ctx, id)
	if err != nil {
		lock.Unlock()
		c.forgetIfGone(id, err)
		return nil, nil, err
	}
	return room, lock.Unlock, nil
}

// forgetIfGone drops the lock of a room deleted while its lock was awaited
func (c *Controller) forgetIfGone(id model.RoomID, err error) {
	if errors.Is(err, model.ErrRoomNotFound) {
		c.locks.forget(id)
	}
}

// rlockRoom is lockRoom with the shared lock
func (c *Controller) rlockRoom(ctx context.Context, code model.RoomCode) (*model.Room, func(), error) {
	room, err := c.GetRoom(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	id := room.ID
	lock := c.locks.get(id)
	lock.RLock()
	room, err = c.storage.GetRoom(ctx, id)
	if err != nil {
		lock.RUnlock()
		c.forgetIfGone(id, err)
		return nil, nil, err
	}
	return room, lock.RUnlock, nil
}

// Join adds a player to a room, or returns their existing record when the
// local id has joined before. Rejoining works in any phase; new players can
// only join in the lobby.
func (c *Controller) Join(ctx context.Context, code model.RoomCode, localID model.LocalID, name, avatar string) (*model.Player, error) {
	if localID == "" {
		return nil, model.ErrMissingIdentity
	}

	room, unlock, err := c.lockRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := c.storage.GetPlayer(ctx, room.ID, localID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, model.ErrPlayerNotFound) {
		return nil, err
	}

	if room.Phase != model.PhaseLobby {
		return nil, model.ErrRoomInProgress
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.ErrEmptyName
	}
	if utf8.RuneCountInString(name) > model.MaxNameLength {
		return nil, model.ErrNameTooLong
	}
	avatar = strings.TrimSpace(avatar)
	if avatar == "" {
		avatar = model.DefaultAvatar
	}

	players, err := c.storage.ListPlayers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if len(players) >= room.MaxPlayers {
		return nil, model.ErrRoomFull
	}

	player, _, err := c.storage.UpsertPlayer(ctx, &model.Player{
		ID:       model.PlayerID(c.random.ID()),
		RoomID:   room.ID,
		LocalID:  localID,
		Name:     name,
		Avatar:   avatar,
		IsHost:   len(players) == 0,
		JoinedAt: c.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("player joined",
		slog.String("room_code", string(room.Code)),
		slog.String("player_id", string(player.ID)),
		slog.Bool("is_host", player.IsHost),
	)

	// A new unready player breaks the ready guard
	if err := c.reevaluateCountdown(ctx, room, append(players, player)); err != nil {
		return nil, err
	}
	return player, nil
}

// SetReady sets a player's ready flag. Outside the lobby it does nothing.
func (c *Controller) SetReady(ctx context.Context, code model.RoomCode, localID model.LocalID, ready bool) error {
	room, unlock, err := c.lockRoom(ctx, code)
	if err != nil {
		return err
	}
	defer unlock()

	if room.Phase != model.PhaseLobby {
		return nil
	}

	player, err := c.storage.GetPlayer(ctx, room.ID, localID)
	if err != nil {
		return err
	}
	if player.IsReady != ready {
		if err := c.storage.SetPlayerReady(ctx, room.ID, localID, ready); err != nil {
			return err
		}
	}

	players, err := c.storage.ListPlayers(ctx, room.ID)
	if err != nil {
		return err
	}
	return c.reevaluateCountdown(ctx, room, players)
}

// StartGame lets the host skip the countdown once the ready guard holds
func (c *Controller) StartGame(ctx context.Context, code model.RoomCode, localID model.LocalID) error {
	room, unlock, err := c.lockRoom(ctx, code)
	if err != nil {
		return err
	}
	defer unlock()

	if room.Phase != model.PhaseLobby {
		return model.NewStaleStateError("start game", model.PhaseLobby, room.Phase)
	}

	player, err := c.storage.GetPlayer(ctx, room.ID, localID)
	if err != nil {
		return err
	}
	if !player.IsHost {
		return model.ErrNotHost
	}

	players, err := c.storage.ListPlayers(ctx, room.ID)
	if err != nil {
		return err
	}
	if len(players) < room.MinPlayers {
		return model.ErrInsufficientPlayers
	}
	if !allReady(players) {
		return model.ErrNotAllReady
	}

	return c.enterWriting(ctx, room, "host start")
}

// Leave removes a player. The last player out deletes the room; a departing
// host hands over to the earliest-joined remaining player.
func (c *Controller) Leave(ctx context.Context, code model.RoomCode, localID model.LocalID) error {
	room, unlock, err := c.lockRoom(ctx, code)
	if err != nil {
		return err
	}
	defer unlock()

	player, err := c.storage.GetPlayer(ctx, room.ID, localID)
	if err != nil {
		return err
	}
	if err := c.storage.DeletePlayer(ctx, room.ID, localID); err != nil {
		return err
	}

	players, err := c.storage.ListPlayers(ctx, room.ID)
	if err != nil {
		return err
	}

	c.logger.Info("player left",
		slog.String("room_code", string(room.Code)),
		slog.String("player_id", string(player.ID)),
		slog.String("phase", string(room.Phase)),
		slog.Int("remaining", len(players)),
	)

	if len(players) == 0 {
		if err := c.storage.DeleteRoom(ctx, room.ID); err != nil {
			return err
		}
		c.locks.forget(room.ID)
		c.logger.Info("room closed", slog.String("room_code", string(room.Code)))
		c.schedule(room.ID)
		return nil
	}

	if player.IsHost {
		next := players[0]
		next.IsHost = true
		if err := c.storage.UpdatePlayer(ctx, next); err != nil {
			return err
		}
		c.logger.Info("host migrated",
			slog.String("room_code", string(room.Code)),
			slog.String("new_host_id", string(next.ID)),
		)
	}

	switch room.Phase {
	case model.PhaseLobby:
		// The countdown restarts from full duration if the guard still holds
		if room.CountdownArmed() {
			room.CountdownEndsAt = time.Time{}
			if err := c.saveRoom(ctx, room); err != nil {
				return err
			}
		}
		return c.reevaluateCountdown(ctx, room, players)
	case model.PhaseWriting:
		return c.advanceIfAllWritten(ctx, room, players)
	case model.PhaseGuessing:
		return c.resolveIfComplete(ctx, room, players)
	}
	return nil
}

// validateStory trims content and checks it against the length cap and genre list
func validateStory(content string, genre model.Genre) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", model.ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > model.MaxStoryLength {
		return "", model.ErrContentTooLong
	}
	if !genre.Valid() {
		return "", model.ErrInvalidGenre
	}
	return content, nil
}

func (c *Controller) saveRoom(ctx context.Context, room *model.Room) error {
	room.UpdatedAt = c.clock.Now()
	if err := c.storage.UpdateRoom(ctx, room); err != nil {
		return fmt.Errorf("update room %s: %w", room.Code, err)
	}
	c.schedule(room.ID)
	return nil
}
