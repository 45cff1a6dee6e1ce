package session

import (
	"time"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/services/room"
	"github.com/mcoot/storyguess/internal/services/scoring"
)

// PlayerView is a player as any viewer may see them
type PlayerView struct {
	ID           model.PlayerID
	Name         string
	Avatar       string
	IsHost       bool
	IsReady      bool
	Score        int
	HasSubmitted bool
	HasGuessed   bool
}

// StoryView is the active story. AuthorID and AuthorName stay empty until
// the story is revealed.
type StoryView struct {
	ID         model.StoryID
	Content    string
	Genre      model.Genre
	IsRevealed bool
	IsOwn      bool
	AuthorID   model.PlayerID
	AuthorName string
}

// GuessOption is a player the viewer may name as the author
type GuessOption struct {
	ID     model.PlayerID
	Name   string
	Avatar string
}

// Snapshot is one viewer's projection of a room
type Snapshot struct {
	RoomCode   model.RoomCode
	RoomName   string
	Phase      model.Phase
	Round      int
	MinPlayers int
	MaxPlayers int
	ServerTime time.Time

	CountdownRemaining time.Duration
	GuessRemaining     time.Duration

	// Self is nil when the viewer has not joined the room
	Self    *PlayerView
	Players []PlayerView

	MyStory      *model.Story
	ActiveStory  *StoryView
	GuessOptions []GuessOption
	CanGuess     bool
	MyGuess      model.PlayerID

	Reactions   []model.ReactionCount
	MyReactions []model.ReactionKind

	Results     []*model.GuessResult
	Leaderboard []scoring.LeaderboardEntry
}

// project builds the snapshot for localID from a consistent room read
func project(st *room.State, localID model.LocalID, now time.Time, sc *scoring.Service) *Snapshot {
	r := st.Room
	snap := &Snapshot{
		RoomCode:    r.Code,
		RoomName:    r.Name,
		Phase:       r.Phase,
		Round:       r.Round,
		MinPlayers:  r.MinPlayers,
		MaxPlayers:  r.MaxPlayers,
		ServerTime:  now,
		Leaderboard: sc.Leaderboard(st.Players),
	}
	if r.CountdownArmed() {
		snap.CountdownRemaining = model.Remaining(r.CountdownEndsAt, now)
	}
	if r.Phase == model.PhaseGuessing {
		snap.GuessRemaining = model.Remaining(r.GuessEndsAt, now)
	}

	viewer := model.FindLocalPlayer(st.Players, localID)

	written := make(map[model.PlayerID]*model.Story)
	for _, s := range st.Stories {
		if !s.IsRevealed {
			written[s.AuthorID] = s
		}
	}
	guessed := make(map[model.PlayerID]*model.Guess)
	for _, g := range st.Guesses {
		guessed[g.PlayerID] = g
	}

	for _, p := range st.Players {
		view := PlayerView{
			ID:      p.ID,
			Name:    p.Name,
			Avatar:  p.Avatar,
			IsHost:  p.IsHost,
			IsReady: p.IsReady,
			Score:   p.Score,
		}
		if r.Phase == model.PhaseWriting {
			view.HasSubmitted = written[p.ID] != nil
		}
		if r.Phase == model.PhaseGuessing || r.Phase == model.PhaseReveal {
			view.HasGuessed = guessed[p.ID] != nil
		}
		snap.Players = append(snap.Players, view)
		if viewer != nil && p.ID == viewer.ID {
			self := view
			snap.Self = &self
		}
	}

	if viewer != nil && r.Phase == model.PhaseWriting {
		snap.MyStory = written[viewer.ID]
	}

	if st.ActiveStory == nil || (r.Phase != model.PhaseGuessing && r.Phase != model.PhaseReveal) {
		return snap
	}

	story := st.ActiveStory
	active := &StoryView{
		ID:         story.ID,
		Content:    story.Content,
		Genre:      story.Genre,
		IsRevealed: story.IsRevealed,
		IsOwn:      viewer != nil && viewer.ID == story.AuthorID,
	}
	if r.Phase == model.PhaseReveal {
		active.AuthorID = story.AuthorID
		active.AuthorName = model.UnknownPlayerName
		if author := model.FindPlayer(st.Players, story.AuthorID); author != nil {
			active.AuthorName = author.Name
		}
	}
	snap.ActiveStory = active

	snap.Reactions = model.CountReactions(st.Reactions)
	if viewer != nil {
		for _, rc := range st.Reactions {
			if rc.PlayerID == viewer.ID {
				snap.MyReactions = append(snap.MyReactions, rc.Kind)
			}
		}
		if g := guessed[viewer.ID]; g != nil {
			snap.MyGuess = g.GuessedAuthorID
		}
	}

	if r.Phase == model.PhaseGuessing {
		for _, p := range st.Players {
			if viewer != nil && p.ID == viewer.ID {
				continue
			}
			snap.GuessOptions = append(snap.GuessOptions, GuessOption{ID: p.ID, Name: p.Name, Avatar: p.Avatar})
		}
		// A departed author is still the right answer
		if model.FindPlayer(st.Players, story.AuthorID) == nil {
			snap.GuessOptions = append(snap.GuessOptions, GuessOption{
				ID:     story.AuthorID,
				Name:   model.UnknownPlayerName,
				Avatar: model.DefaultAvatar,
			})
		}
		snap.CanGuess = viewer != nil && r.IsGuesser(viewer.ID) && guessed[viewer.ID] == nil
	}

	if r.Phase == model.PhaseReveal {
		snap.Results = room.BuildGuessResults(story, st.Guesses, st.Players)
	}
	return snap
}
