package scoring

import (
	"slices"

	"github.com/mcoot/storyguess/internal/model"
)

// CorrectGuessPoints is the flat reward for naming the right author
const CorrectGuessPoints = 10

// ScoreGuess decides whether a guess names the story's author and what it earns.
// An empty guess is never correct.
func ScoreGuess(authorID, guessedAuthorID model.PlayerID) (isCorrect bool, points int) {
	if guessedAuthorID == "" || guessedAuthorID != authorID {
		return false, 0
	}
	return true, CorrectGuessPoints
}

// Service provides scoring over guesses and players
type Service struct{}

// New creates a new ScoringService
func New() *Service {
	return &Service{}
}

// ScoreGuess fills in correctness and points on a guess for the given story
func (s *Service) ScoreGuess(story *model.Story, guess *model.Guess) {
	guess.IsCorrect, guess.Points = ScoreGuess(story.AuthorID, guess.GuessedAuthorID)
}

// RoundPoints sums points per guesser
func (s *Service) RoundPoints(guesses []*model.Guess) map[model.PlayerID]int {
	totals := make(map[model.PlayerID]int)
	for _, g := range guesses {
		totals[g.PlayerID] += g.Points
	}
	return totals
}

// LeaderboardEntry is one row of a room's standings
type LeaderboardEntry struct {
	Rank     int
	PlayerID model.PlayerID
	Name     string
	Avatar   string
	Score    int
}

// Leaderboard orders players by score, highest first, ties in join order.
// Tied players share a rank.
func (s *Service) Leaderboard(players []*model.Player) []LeaderboardEntry {
	ordered := slices.Clone(players)
	slices.SortStableFunc(ordered, func(a, b *model.Player) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	entries := make([]LeaderboardEntry, len(ordered))
	for i, p := range ordered {
		rank := i + 1
		if i > 0 && p.Score == ordered[i-1].Score {
			rank = entries[i-1].Rank
		}
		entries[i] = LeaderboardEntry{
			Rank:     rank,
			PlayerID: p.ID,
			Name:     p.Name,
			Avatar:   p.Avatar,
			Score:    p.Score,
		}
	}
	return entries
}
