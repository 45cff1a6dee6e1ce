package model

import (
	"slices"
	"strings"
)

// ReactionKind is one of a fixed set of emoji reactions
type ReactionKind string

const (
	ReactionThumbsUp ReactionKind = "thumbsup"
	ReactionPray     ReactionKind = "pray"
	ReactionJoy      ReactionKind = "joy"
	ReactionLove     ReactionKind = "love"
	ReactionClap     ReactionKind = "clap"
	ReactionFire     ReactionKind = "fire"
	ReactionGrin     ReactionKind = "grin"
	ReactionSmile    ReactionKind = "smile"
	ReactionThinking ReactionKind = "thinking"
	ReactionWow      ReactionKind = "wow"
)

// MaxReactionKindsPerStory caps how many distinct kinds a story can collect
const MaxReactionKindsPerStory = 4

var reactionKinds = []ReactionKind{
	ReactionThumbsUp, ReactionPray, ReactionJoy, ReactionLove, ReactionClap,
	ReactionFire, ReactionGrin, ReactionSmile, ReactionThinking, ReactionWow,
}

// ReactionKinds returns every selectable reaction
func ReactionKinds() []ReactionKind {
	return slices.Clone(reactionKinds)
}

// Valid reports whether k is a known reaction
func (k ReactionKind) Valid() bool {
	return slices.Contains(reactionKinds, k)
}

// Reaction records one player's reaction to a story
type Reaction struct {
	RoomID   RoomID
	StoryID  StoryID
	PlayerID PlayerID
	Kind     ReactionKind
}

// ReactionCount is the number of players who reacted with a kind
type ReactionCount struct {
	Kind  ReactionKind
	Count int
}

// CountReactions groups reactions by kind, in the canonical kind order
func CountReactions(reactions []*Reaction) []ReactionCount {
	byKind := make(map[ReactionKind]int)
	for _, r := range reactions {
		byKind[r.Kind]++
	}
	var counts []ReactionCount
	for _, k := range reactionKinds {
		if n := byKind[k]; n > 0 {
			counts = append(counts, ReactionCount{Kind: k, Count: n})
		}
	}
	return counts
}

// SortReactions orders reactions by player, then kind
func SortReactions(reactions []*Reaction) {
	slices.SortStableFunc(reactions, func(a, b *Reaction) int {
		if c := strings.Compare(string(a.PlayerID), string(b.PlayerID)); c != 0 {
			return c
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
}
