package response

import (
	"time"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/services/scoring"
	"github.com/mcoot/storyguess/internal/services/session"
)

// Room is the public summary of a room
type Room struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Phase      string    `json:"phase"`
	Round      int       `json:"round"`
	MinPlayers int       `json:"min_players"`
	MaxPlayers int       `json:"max_players"`
	JoinURL    string    `json:"join_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RoomFromModel converts a model.Room
func RoomFromModel(r *model.Room) Room {
	return Room{
		ID:         string(r.ID),
		Code:       string(r.Code),
		Name:       r.Name,
		Phase:      string(r.Phase),
		Round:      r.Round,
		MinPlayers: r.MinPlayers,
		MaxPlayers: r.MaxPlayers,
		CreatedAt:  r.CreatedAt,
	}
}

// Player represents a player in API responses
type Player struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Avatar       string `json:"avatar"`
	IsHost       bool   `json:"is_host"`
	IsReady      bool   `json:"is_ready"`
	Score        int    `json:"score"`
	HasSubmitted bool   `json:"has_submitted,omitempty"`
	HasGuessed   bool   `json:"has_guessed,omitempty"`
}

// PlayerFromModel converts a model.Player
func PlayerFromModel(p *model.Player) Player {
	return Player{
		ID:      string(p.ID),
		Name:    p.Name,
		Avatar:  p.Avatar,
		IsHost:  p.IsHost,
		IsReady: p.IsReady,
		Score:   p.Score,
	}
}

func playerFromView(v session.PlayerView) Player {
	return Player{
		ID:           string(v.ID),
		Name:         v.Name,
		Avatar:       v.Avatar,
		IsHost:       v.IsHost,
		IsReady:      v.IsReady,
		Score:        v.Score,
		HasSubmitted: v.HasSubmitted,
		HasGuessed:   v.HasGuessed,
	}
}

// RoomDetail is a room with its players
type RoomDetail struct {
	Room
	Players []Player `json:"players"`
}

// RoomDetailFromModel converts a room and its players
func RoomDetailFromModel(r *model.Room, players []*model.Player) RoomDetail {
	d := RoomDetail{Room: RoomFromModel(r), Players: make([]Player, 0, len(players))}
	for _, p := range players {
		d.Players = append(d.Players, PlayerFromModel(p))
	}
	return d
}

// Story is a story as its author sees it
type Story struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Genre   string `json:"genre,omitempty"`
}

// StoryFromModel converts a model.Story
func StoryFromModel(s *model.Story) Story {
	return Story{ID: string(s.ID), Content: s.Content, Genre: string(s.Genre)}
}

// Guess is the caller's accepted guess. Correctness stays hidden until reveal.
type Guess struct {
	ID              string `json:"id"`
	StoryID         string `json:"story_id"`
	GuessedAuthorID string `json:"guessed_author_id"`
}

// GuessFromModel converts a model.Guess
func GuessFromModel(g *model.Guess) Guess {
	return Guess{ID: string(g.ID), StoryID: string(g.StoryID), GuessedAuthorID: string(g.GuessedAuthorID)}
}

// GuessResult is one named guess on a revealed story
type GuessResult struct {
	GuessID         string `json:"guess_id"`
	PlayerID        string `json:"player_id"`
	PlayerName      string `json:"player_name"`
	GuessedAuthorID string `json:"guessed_author_id"`
	GuessedName     string `json:"guessed_name"`
	IsCorrect       bool   `json:"is_correct"`
	Points          int    `json:"points"`
	StoryContent    string `json:"story_content"`
}

// GuessResultsFromModel converts guess results
func GuessResultsFromModel(results []*model.GuessResult) []GuessResult {
	out := make([]GuessResult, 0, len(results))
	for _, r := range results {
		out = append(out, GuessResult{
			GuessID:         string(r.GuessID),
			PlayerID:        string(r.PlayerID),
			PlayerName:      r.PlayerName,
			GuessedAuthorID: string(r.GuessedAuthorID),
			GuessedName:     r.GuessedName,
			IsCorrect:       r.IsCorrect,
			Points:          r.Points,
			StoryContent:    r.StoryContent,
		})
	}
	return out
}

// Reaction reports the caller's reaction state after a toggle
type Reaction struct {
	StoryID string `json:"story_id"`
	Kind    string `json:"kind"`
	Active  bool   `json:"active"`
}

// ActiveStory is the story being guessed. The author is set only once revealed.
type ActiveStory struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Genre      string `json:"genre,omitempty"`
	IsRevealed bool   `json:"is_revealed"`
	IsOwn      bool   `json:"is_own"`
	AuthorID   string `json:"author_id,omitempty"`
	AuthorName string `json:"author_name,omitempty"`
}

// GuessOption is a player the caller may name as author
type GuessOption struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ReactionCount is the tally for one reaction kind
type ReactionCount struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// LeaderboardEntry is one row of the standings
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Score    int    `json:"score"`
}

// LeaderboardFromModel converts scoring entries
func LeaderboardFromModel(entries []scoring.LeaderboardEntry) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LeaderboardEntry{
			Rank:     e.Rank,
			PlayerID: string(e.PlayerID),
			Name:     e.Name,
			Avatar:   e.Avatar,
			Score:    e.Score,
		})
	}
	return out
}

// Snapshot is the per-viewer room state
type Snapshot struct {
	RoomCode   string    `json:"room_code"`
	RoomName   string    `json:"room_name"`
	Phase      string    `json:"phase"`
	Round      int       `json:"round"`
	MinPlayers int       `json:"min_players"`
	MaxPlayers int       `json:"max_players"`
	ServerTime time.Time `json:"server_time"`

	CountdownRemainingMS int64 `json:"countdown_remaining_ms"`
	GuessRemainingMS     int64 `json:"guess_remaining_ms"`

	Self    *Player  `json:"self"`
	Players []Player `json:"players"`

	MyStory      *Story        `json:"my_story,omitempty"`
	ActiveStory  *ActiveStory  `json:"active_story,omitempty"`
	GuessOptions []GuessOption `json:"guess_options,omitempty"`
	CanGuess     bool          `json:"can_guess"`
	MyGuess      string        `json:"my_guess,omitempty"`

	Reactions   []ReactionCount `json:"reactions,omitempty"`
	MyReactions []string        `json:"my_reactions,omitempty"`

	Results     []GuessResult      `json:"results,omitempty"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// SnapshotFromSession converts a session snapshot
func SnapshotFromSession(s *session.Snapshot) Snapshot {
	out := Snapshot{
		RoomCode:             string(s.RoomCode),
		RoomName:             s.RoomName,
		Phase:                string(s.Phase),
		Round:                s.Round,
		MinPlayers:           s.MinPlayers,
		MaxPlayers:           s.MaxPlayers,
		ServerTime:           s.ServerTime,
		CountdownRemainingMS: s.CountdownRemaining.Milliseconds(),
		GuessRemainingMS:     s.GuessRemaining.Milliseconds(),
		Players:              make([]Player, 0, len(s.Players)),
		CanGuess:             s.CanGuess,
		MyGuess:              string(s.MyGuess),
		Leaderboard:          LeaderboardFromModel(s.Leaderboard),
	}
	if s.Self != nil {
		self := playerFromView(*s.Self)
		out.Self = &self
	}
	for _, p := range s.Players {
		out.Players = append(out.Players, playerFromView(p))
	}
	if s.MyStory != nil {
		story := StoryFromModel(s.MyStory)
		out.MyStory = &story
	}
	if a := s.ActiveStory; a != nil {
		out.ActiveStory = &ActiveStory{
			ID:         string(a.ID),
			Content:    a.Content,
			Genre:      string(a.Genre),
			IsRevealed: a.IsRevealed,
			IsOwn:      a.IsOwn,
			AuthorID:   string(a.AuthorID),
			AuthorName: a.AuthorName,
		}
	}
	for _, o := range s.GuessOptions {
		out.GuessOptions = append(out.GuessOptions, GuessOption{ID: string(o.ID), Name: o.Name, Avatar: o.Avatar})
	}
	for _, rc := range s.Reactions {
		out.Reactions = append(out.Reactions, ReactionCount{Kind: string(rc.Kind), Count: rc.Count})
	}
	for _, k := range s.MyReactions {
		out.MyReactions = append(out.MyReactions, string(k))
	}
	if s.Results != nil {
		out.Results = GuessResultsFromModel(s.Results)
	}
	return out
}

// Event is a session event as sent to websocket clients
type Event struct {
	Type     string    `json:"type"`
	RoomCode string    `json:"room_code"`
	Phase    string    `json:"phase,omitempty"`
	Table    string    `json:"table,omitempty"`
	RecordID string    `json:"record_id,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// EventFromSession converts a session event
func EventFromSession(e session.Event) Event {
	out := Event{
		Type:     string(e.Type),
		RoomCode: string(e.RoomCode),
		Phase:    string(e.Phase),
		Table:    string(e.Table),
		RecordID: e.RecordID,
	}
	if e.Snapshot != nil {
		snap := SnapshotFromSession(e.Snapshot)
		out.Snapshot = &snap
	}
	return out
}

// Health is the health check response
type Health struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}
