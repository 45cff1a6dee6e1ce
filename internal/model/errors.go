package model

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors used across the application
var (
	// Not-found errors
	ErrRoomNotFound   = errors.New("room not found")
	ErrPlayerNotFound = errors.New("player not found")
	ErrStoryNotFound  = errors.New("story not found")

	// Capacity errors
	ErrRoomFull       = errors.New("room is full")
	ErrRoomInProgress = errors.New("room already has a game in progress")

	// Stale-state errors
	ErrWrongPhase     = errors.New("action not allowed in the current phase")
	ErrStoryNotActive = errors.New("story is not the active story")

	// Allocation errors
	ErrRoomCodeTaken      = errors.New("room code is already in use")
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique room code")

	// Validation errors
	ErrMissingIdentity     = errors.New("player identity is required")
	ErrInvalidRoomCode     = errors.New("invalid room code")
	ErrInvalidRoomName     = errors.New("room name must not be empty")
	ErrInvalidCapacity     = errors.New("max players out of range")
	ErrEmptyName           = errors.New("player name must not be empty")
	ErrNameTooLong         = errors.New("player name is too long")
	ErrEmptyContent        = errors.New("story must not be empty")
	ErrContentTooLong      = errors.New("story is too long")
	ErrInvalidGenre        = errors.New("unknown story genre")
	ErrAlreadyGuessed      = errors.New("player has already guessed this story")
	ErrSelfGuess           = errors.New("player may not guess themselves")
	ErrInvalidReaction     = errors.New("unknown reaction")
	ErrReactionLimit       = errors.New("story already has the maximum number of reaction kinds")
	ErrNotHost             = errors.New("player is not the host")
	ErrInsufficientPlayers = errors.New("not enough players to start")
	ErrNotAllReady         = errors.New("not every player is ready")
)

// StaleStateError reports an action submitted for a phase the room has left.
// Callers should resync from the store rather than retry.
type StaleStateError struct {
	Action string
	// Want lists every phase the action is accepted in
	Want []Phase
	Got  Phase
}

func (e *StaleStateError) Error() string {
	want := make([]string, len(e.Want))
	for i, p := range e.Want {
		want[i] = string(p)
	}
	return fmt.Sprintf("%s requires phase %s, room is in %s", e.Action, strings.Join(want, " or "), e.Got)
}

// Unwrap lets errors.Is match ErrWrongPhase
func (e *StaleStateError) Unwrap() error {
	return ErrWrongPhase
}

// NewStaleStateError builds a StaleStateError for an action accepted in one phase
func NewStaleStateError(action string, want, got Phase) *StaleStateError {
	return &StaleStateError{Action: action, Want: []Phase{want}, Got: got}
}

// NewStaleStateErrorAny builds a StaleStateError for an action accepted in
// any of several phases
func NewStaleStateErrorAny(action string, got Phase, want ...Phase) *StaleStateError {
	return &StaleStateError{Action: action, Want: want, Got: got}
}

// IsValidation reports whether err is a caller mistake that mutated nothing
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrMissingIdentity, ErrInvalidRoomCode, ErrInvalidRoomName, ErrInvalidCapacity, ErrEmptyName, ErrNameTooLong,
		ErrEmptyContent, ErrContentTooLong, ErrInvalidGenre, ErrAlreadyGuessed, ErrSelfGuess,
		ErrInvalidReaction, ErrReactionLimit, ErrNotHost, ErrInsufficientPlayers, ErrNotAllReady,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsStale reports whether err means the caller's view of the room is out of date
func IsStale(err error) bool {
	return errors.Is(err, ErrWrongPhase) || errors.Is(err, ErrStoryNotActive)
}
