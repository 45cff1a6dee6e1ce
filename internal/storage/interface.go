package storage

import (
	"context"

	"github.com/mcoot/storyguess/internal/model"
)

// Storage is the room store: durable state for rooms and everything in them,
// plus a change feed scoped to a room. Every write emits a model.Change to
// the room's subscribers.
type Storage interface {
	// Room operations
	CreateRoom(ctx context.Context, room *model.Room) error
	RoomCodeExists(ctx context.Context, code model.RoomCode) (bool, error)
	GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error)
	GetRoomByCode(ctx context.Context, code model.RoomCode) (*model.Room, error)
	// UpdateRoom persists phase, deadlines and guessing state
	UpdateRoom(ctx context.Context, room *model.Room) error
	// DeleteRoom removes the room and every record in it
	DeleteRoom(ctx context.Context, id model.RoomID) error
	ListRoomIDs(ctx context.Context) ([]model.RoomID, error)

	// Player operations
	// UpsertPlayer inserts the player unless its local id is already in the
	// room, in which case the stored player is returned with created false.
	UpsertPlayer(ctx context.Context, player *model.Player) (stored *model.Player, created bool, err error)
	GetPlayer(ctx context.Context, roomID model.RoomID, localID model.LocalID) (*model.Player, error)
	// ListPlayers returns players in join order
	ListPlayers(ctx context.Context, roomID model.RoomID) ([]*model.Player, error)
	SetPlayerReady(ctx context.Context, roomID model.RoomID, localID model.LocalID, ready bool) error
	// UpdatePlayer persists host, ready and score fields
	UpdatePlayer(ctx context.Context, player *model.Player) error
	DeletePlayer(ctx context.Context, roomID model.RoomID, localID model.LocalID) error

	// Story operations
	// UpsertStory replaces the author's unrevealed story if one exists,
	// keeping its id and seq, otherwise inserts a new one.
	UpsertStory(ctx context.Context, story *model.Story) (*model.Story, error)
	GetStory(ctx context.Context, id model.StoryID) (*model.Story, error)
	// ListStories returns stories oldest first
	ListStories(ctx context.Context, roomID model.RoomID) ([]*model.Story, error)
	// GetActiveStory returns the oldest unrevealed story
	GetActiveStory(ctx context.Context, roomID model.RoomID) (*model.Story, error)
	// RevealStory marks the story revealed and adds credits to the score of
	// each listed player still in the room, all in one atomic write. It
	// reports false and changes nothing if the story is already revealed.
	RevealStory(ctx context.Context, id model.StoryID, credits map[model.PlayerID]int) (bool, error)

	// Guess operations
	// CreateGuess fails with model.ErrAlreadyGuessed if the player already
	// has a guess for the story. The check and insert are atomic.
	CreateGuess(ctx context.Context, guess *model.Guess) error
	ListGuesses(ctx context.Context, storyID model.StoryID) ([]*model.Guess, error)

	// Reaction operations
	AddReaction(ctx context.Context, reaction *model.Reaction) error
	RemoveReaction(ctx context.Context, reaction *model.Reaction) error
	ListReactions(ctx context.Context, storyID model.StoryID) ([]*model.Reaction, error)

	// ClearRound deletes the room's stories, guesses and reactions
	ClearRound(ctx context.Context, roomID model.RoomID) error

	// Subscribe delivers changes for one room until the subscription is closed
	// or ctx is done.
	Subscribe(ctx context.Context, roomID model.RoomID) (Subscription, error)
}

// Subscription is a live change feed for a room
type Subscription interface {
	Changes() <-chan model.Change
	Close() error
}
