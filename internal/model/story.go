package model

import (
	"slices"
	"time"
)

// StoryID identifies a story
type StoryID string

// MaxStoryLength is the hard cap on story content, in runes
const MaxStoryLength = 200

// Genre is an optional label an author can attach to a story
type Genre string

const (
	GenreNone         Genre = ""
	GenreFunny        Genre = "funny"
	GenreEmbarrassing Genre = "embarrassing"
	GenreScary        Genre = "scary"
	GenreRomantic     Genre = "romantic"
	GenreAdventure    Genre = "adventure"
)

var genres = []Genre{GenreFunny, GenreEmbarrassing, GenreScary, GenreRomantic, GenreAdventure}

// Genres returns the selectable genres
func Genres() []Genre {
	return slices.Clone(genres)
}

// Valid reports whether g is empty or a known genre
func (g Genre) Valid() bool {
	return g == GenreNone || slices.Contains(genres, g)
}

// Story is a short text written by one player
type Story struct {
	ID         StoryID
	RoomID     RoomID
	AuthorID   PlayerID
	Content    string
	Genre      Genre
	IsRevealed bool
	Seq        int64 // creation order, assigned by the store
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SortStories orders stories oldest first
func SortStories(stories []*Story) {
	sortBySeq(stories, func(s *Story) int64 { return s.Seq })
}

// OldestUnrevealed returns the unrevealed story with the lowest seq, or nil
func OldestUnrevealed(stories []*Story) *Story {
	var oldest *Story
	for _, s := range stories {
		if s.IsRevealed {
			continue
		}
		if oldest == nil || s.Seq < oldest.Seq {
			oldest = s
		}
	}
	return oldest
}

func sortBySeq[T any](items []T, seq func(T) int64) {
	slices.SortStableFunc(items, func(a, b T) int {
		switch sa, sb := seq(a), seq(b); {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	})
}
