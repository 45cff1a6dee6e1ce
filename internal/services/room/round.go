package room

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mcoot/storyguess/internal/model"
)

// SubmitStory records or replaces the player's story for the round. The last
// story in moves the room to guessing.
func (c *Controller) SubmitStory(ctx context.Context, code model.RoomCode, localID model.LocalID, content string, genre model.Genre) (*model.Story, error) {
	room, unlock, err := c.lockRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if room.Phase != model.PhaseWriting {
		return nil, model.NewStaleStateError("submit story", model.PhaseWriting, room.Phase)
	}
	player, err := c.storage.GetPlayer(ctx, room.ID, localID)
	if err != nil {
		return nil, err
	}
	content, err = validateStory(content, genre)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	story, err := c.storage.UpsertStory(ctx, &model.Story{
		ID:        model.StoryID(c.random.ID()),
		RoomID:    room.ID,
		AuthorID:  player.ID,
		Content:   content,
		Genre:     genre,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("story submitted",
		slog.String("room_code", string(room.Code)),
		slog.String("player_id", string(player.ID)),
		slog.String("story_id", string(story.ID)),
	)

	players, err := c.storage.ListPlayers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if err := c.advanceIfAllWritten(ctx, room, players); err != nil {
		return nil, err
	}
	return story, nil
}

// SubmitGuess records a guess at the active story's author. Guesses for the
// same story are accepted concurrently; resolution then runs under the
// room's write lock.
func (c *Controller) SubmitGuess(ctx context.Context, code model.RoomCode, localID model.LocalID, storyID model.StoryID, guessedAuthorID model.PlayerID) (*model.Guess, error) {
	room, runlock, err := c.rlockRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	guess, err := c.recordGuess(ctx, room, localID, storyID, guessedAuthorID)
	runlock()
	if err != nil {
		return nil, err
	}

	room, unlock, err := c.lockRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if room.Phase != model.PhaseGuessing || room.ActiveStoryID != storyID {
		// Resolved by someone else in between
		return guess, nil
	}
	// The guess is already stored, so a failed resolution is left to the
	// next Advance instead of failing the submit
	players, err := c.storage.ListPlayers(ctx, room.ID)
	if err == nil {
		err = c.resolveIfComplete(ctx, room, players)
	}
	if err != nil {
		c.logger.Warn("guess resolution deferred",
			slog.String("room_code", string(room.Code)),
			slog.String("story_id", string(storyID)),
			slog.String("error", err.Error()),
		)
		c.schedule(room.ID)
	}
	return guess, nil
}

func (c *Controller) recordGuess(ctx context.Context, room *model.Room, localID model.LocalID, storyID model.StoryID, guessedAuthorID model.PlayerID) (*model.Guess, error) {
	if room.Phase != model.PhaseGuessing {
		return nil, model.NewStaleStateError("submit guess", model.PhaseGuessing, room.Phase)
	}
	if storyID != room.ActiveStoryID {
		return nil, model.ErrStoryNotActive
	}

	player, err := c.storage.GetPlayer(ctx, room.ID, localID)
	if err != nil {
		return nil, err
	}
	story, err := c.storage.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if player.ID == story.AuthorID || guessedAuthorID == player.ID {
		return nil, model.ErrSelfGuess
	}

	// The author may have left, so they are always a valid answer
	if guessedAuthorID != story.AuthorID {
		players, err := c.storage.ListPlayers(ctx, room.ID)
		if err != nil {
			return nil, err
		}
		if model.FindPlayer(players, guessedAuthorID) == nil {
			return nil, model.ErrPlayerNotFound
		}
	}

	guess := &model.Guess{
		ID:              model.GuessID(c.random.ID()),
		RoomID:          room.ID,
		StoryID:         story.ID,
		PlayerID:        player.ID,
		GuessedAuthorID: guessedAuthorID,
		CreatedAt:       c.clock.Now(),
	}
	c.scoring.ScoreGuess(story, guess)
	if err := c.storage.CreateGuess(ctx, guess); err != nil {
		return nil, err
	}

	c.logger.Info("guess submitted",
		slog.String("room_code", string(room.Code)),
		slog.String("player_id", string(player.ID)),
		slog.String("story_id", string(story.ID)),
		slog.Bool("correct", guess.IsCorrect),
	)
	return guess, nil
}

// React toggles the player's reaction of the given kind on the active story.
// It reports whether the reaction is now present.
func (c *Controller) React(ctx context.Context, code model.RoomCode, localID model.LocalID, storyID model.StoryID, kind model.ReactionKind) (bool, error) {
	room, unlock, err := c.lockRoom(ctx, code)
	if err != nil {
		return false, err
	}
	defer unlock()

	if room.Phase != model.PhaseGuessing && room.Phase != model.PhaseReveal {
		return false, model.NewStaleStateErrorAny("react", room.Phase, model.PhaseGuessing, model.PhaseReveal)
	}
	if storyID != room.ActiveStoryID {
		return false, model.ErrStoryNotActive
	}
	if !kind.Valid() {
		return false, model.ErrInvalidReaction
	}
	player, err := c.storage.GetPlayer(ctx, room.ID, localID)
	if err != nil {
		return false, err
	}

	reactions, err := c.storage.ListReactions(ctx, storyID)
	if err != nil {
		return false, err
	}
	reaction := &model.Reaction{RoomID: room.ID, StoryID: storyID, PlayerID: player.ID, Kind: kind}

	kinds := make(map[model.ReactionKind]bool)
	for _, r := range reactions {
		if r.PlayerID == player.ID && r.Kind == kind {
			return false, c.storage.RemoveReaction(ctx, reaction)
		}
		kinds[r.Kind] = true
	}
	if !kinds[kind] && len(kinds) >= model.MaxReactionKindsPerStory {
		return false, model.ErrReactionLimit
	}
	if err := c.storage.AddReaction(ctx, reaction); err != nil {
		return false, err
	}
	return true, nil
}

// PlayAgain returns a revealed room to the lobby for another round
func (c *Controller) PlayAgain(ctx context.Context, code model.RoomCode, localID model.LocalID) error {
	room, unlock, err := c.lockRoom(ctx, code)
	if err != nil {
		return err
	}
	defer unlock()

	if room.Phase != model.PhaseReveal {
		return model.NewStaleStateError("play again", model.PhaseReveal, room.Phase)
	}
	if _, err := c.storage.GetPlayer(ctx, room.ID, localID); err != nil {
		return err
	}

	if err := c.storage.ClearRound(ctx, room.ID); err != nil {
		return err
	}
	players, err := c.storage.ListPlayers(ctx, room.ID)
	if err != nil {
		return err
	}
	for _, p := range players {
		changed := p.IsReady || (c.cfg.ResetScoresOnPlayAgain && p.Score != 0)
		if !changed {
			continue
		}
		p.IsReady = false
		if c.cfg.ResetScoresOnPlayAgain {
			p.Score = 0
		}
		if err := c.storage.UpdatePlayer(ctx, p); err != nil {
			return err
		}
	}

	if err := transition(room, "play again", model.PhaseReveal, model.PhaseLobby); err != nil {
		return err
	}
	room.ActiveStoryID = ""
	room.Guessers = nil
	room.GuessEndsAt = time.Time{}
	room.CountdownEndsAt = time.Time{}
	if err := c.saveRoom(ctx, room); err != nil {
		return err
	}

	c.logger.Info("play again",
		slog.String("room_code", string(room.Code)),
		slog.Int("round", room.Round),
		slog.Bool("scores_reset", c.cfg.ResetScoresOnPlayAgain),
	)
	return nil
}

// GuessResults lists the guesses made on the revealed story, named for display
func (c *Controller) GuessResults(ctx context.Context, code model.RoomCode) ([]*model.GuessResult, error) {
	room, err := c.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if room.Phase != model.PhaseReveal {
		return nil, model.NewStaleStateError("guess results", model.PhaseReveal, room.Phase)
	}

	story, err := c.storage.GetStory(ctx, room.ActiveStoryID)
	if err != nil {
		return nil, err
	}
	guesses, err := c.storage.ListGuesses(ctx, story.ID)
	if err != nil {
		return nil, err
	}
	players, err := c.storage.ListPlayers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return BuildGuessResults(story, guesses, players), nil
}

// BuildGuessResults names each guess for display, oldest first. Departed players
// show as model.UnknownPlayerName.
func BuildGuessResults(story *model.Story, guesses []*model.Guess, players []*model.Player) []*model.GuessResult {
	nameOf := func(id model.PlayerID) string {
		if p := model.FindPlayer(players, id); p != nil {
			return p.Name
		}
		return model.UnknownPlayerName
	}

	model.SortGuesses(guesses)
	results := make([]*model.GuessResult, 0, len(guesses))
	for _, g := range guesses {
		r := &model.GuessResult{
			GuessID:         g.ID,
			PlayerID:        g.PlayerID,
			PlayerName:      nameOf(g.PlayerID),
			GuessedAuthorID: g.GuessedAuthorID,
			IsCorrect:       g.IsCorrect,
			Points:          g.Points,
			StoryContent:    story.Content,
		}
		if !g.IsEmpty() {
			r.GuessedName = nameOf(g.GuessedAuthorID)
		}
		results = append(results, r)
	}
	return results
}

// State is a consistent read of everything in a room
type State struct {
	Room        *model.Room
	Players     []*model.Player
	Stories     []*model.Story
	ActiveStory *model.Story
	Guesses     []*model.Guess
	Reactions   []*model.Reaction
}

// State reads the room and its records under the room's shared lock
func (c *Controller) State(ctx context.Context, code model.RoomCode) (*State, error) {
	room, runlock, err := c.rlockRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	defer runlock()

	st := &State{Room: room}
	if st.Players, err = c.storage.ListPlayers(ctx, room.ID); err != nil {
		return nil, err
	}
	if st.Stories, err = c.storage.ListStories(ctx, room.ID); err != nil {
		return nil, err
	}
	if room.ActiveStoryID == "" {
		return st, nil
	}

	st.ActiveStory, err = c.storage.GetStory(ctx, room.ActiveStoryID)
	if errors.Is(err, model.ErrStoryNotFound) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	if st.Guesses, err = c.storage.ListGuesses(ctx, st.ActiveStory.ID); err != nil {
		return nil, err
	}
	if st.Reactions, err = c.storage.ListReactions(ctx, st.ActiveStory.ID); err != nil {
		return nil, err
	}
	return st, nil
}
