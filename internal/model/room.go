package model

import (
	"slices"
	"strings"
	"time"
)

// RoomID durably identifies a room
type RoomID string

// RoomCode is a human-readable identifier for joining rooms
type RoomCode string

const (
	// RoomCodeLength is the length of generated room codes
	RoomCodeLength = 6
	// RoomCodeAlphabet is the characters used in room codes (no 0/O or 1/I)
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	DefaultMinPlayers = 3
	DefaultMaxPlayers = 5

	// Bounds for the maxPlayers chosen at room creation
	MinRoomCapacity = 3
	MaxRoomCapacity = 5
)

// NormalizeRoomCode upper-cases and trims user input
func NormalizeRoomCode(raw string) RoomCode {
	return RoomCode(strings.ToUpper(strings.TrimSpace(raw)))
}

// Valid reports whether the code has the shape of a generated room code
func (c RoomCode) Valid() bool {
	if len(c) != RoomCodeLength {
		return false
	}
	for _, r := range string(c) {
		if !strings.ContainsRune(RoomCodeAlphabet, r) {
			return false
		}
	}
	return true
}

// Room is one game session
type Room struct {
	ID         RoomID
	Code       RoomCode
	Name       string
	Phase      Phase
	MinPlayers int
	MaxPlayers int
	Round      int

	// CountdownEndsAt is the start countdown deadline; zero when not armed
	CountdownEndsAt time.Time

	// Guessing state, set on entering guessing and kept through reveal
	ActiveStoryID StoryID
	GuessEndsAt   time.Time
	Guessers      []PlayerID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CountdownArmed reports whether the start countdown is running
func (r *Room) CountdownArmed() bool {
	return r.Phase == PhaseLobby && !r.CountdownEndsAt.IsZero()
}

// IsGuesser reports whether the player was eligible to guess the active story
func (r *Room) IsGuesser(id PlayerID) bool {
	return slices.Contains(r.Guessers, id)
}

// NextDeadline returns the earliest pending deadline for the room's phase
func (r *Room) NextDeadline() (time.Time, bool) {
	switch {
	case r.CountdownArmed():
		return r.CountdownEndsAt, true
	case r.Phase == PhaseGuessing && !r.GuessEndsAt.IsZero():
		return r.GuessEndsAt, true
	}
	return time.Time{}, false
}

// Remaining returns the time left until deadline, clamped at zero
func Remaining(deadline, now time.Time) time.Duration {
	if deadline.IsZero() || !now.Before(deadline) {
		return 0
	}
	return deadline.Sub(now)
}
