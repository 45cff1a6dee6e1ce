package model

import (
	"slices"
	"strings"
	"time"
)

// GuessID identifies a guess
type GuessID string

// Guess is one player's answer to who wrote a story.
// An empty GuessedAuthorID means no guess was made.
type Guess struct {
	ID              GuessID
	RoomID          RoomID
	StoryID         StoryID
	PlayerID        PlayerID
	GuessedAuthorID PlayerID
	IsCorrect       bool
	Points          int
	CreatedAt       time.Time
}

// IsEmpty reports whether the guess names no author
func (g *Guess) IsEmpty() bool {
	return g.GuessedAuthorID == ""
}

// GuessResult is a guess joined with the names needed to display it
type GuessResult struct {
	GuessID         GuessID
	PlayerID        PlayerID
	PlayerName      string
	GuessedAuthorID PlayerID
	GuessedName     string
	IsCorrect       bool
	Points          int
	StoryContent    string
}

// UnknownPlayerName is shown for players who have left the room
const UnknownPlayerName = "Unknown"

// SortGuesses orders guesses by creation time, then guesser id
func SortGuesses(guesses []*Guess) {
	slices.SortStableFunc(guesses, func(a, b *Guess) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.PlayerID), string(b.PlayerID))
	})
}
