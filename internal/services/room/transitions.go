package room

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mcoot/storyguess/internal/model"
)

func allReady(players []*model.Player) bool {
	for _, p := range players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

// canStart is the lobby guard: enough players and all of them ready
func canStart(room *model.Room, players []*model.Player) bool {
	return len(players) >= room.MinPlayers && allReady(players)
}

// transition moves room from one phase to the next, refusing anything the
// phase graph does not allow
func transition(room *model.Room, action string, from, to model.Phase) error {
	if room.Phase != from || !from.CanTransitionTo(to) {
		return model.NewStaleStateError(action, from, room.Phase)
	}
	room.Phase = to
	return nil
}

// reevaluateCountdown arms the start countdown when the lobby guard holds and
// cancels it when the guard breaks
func (c *Controller) reevaluateCountdown(ctx context.Context, room *model.Room, players []*model.Player) error {
	if room.Phase != model.PhaseLobby {
		return nil
	}

	holds := canStart(room, players)
	switch {
	case holds && !room.CountdownArmed():
		room.CountdownEndsAt = c.clock.Now().Add(c.cfg.StartCountdown)
		c.logger.Info("start countdown armed",
			slog.String("room_code", string(room.Code)),
			slog.Time("ends_at", room.CountdownEndsAt),
		)
	case !holds && room.CountdownArmed():
		room.CountdownEndsAt = time.Time{}
		c.logger.Info("start countdown cancelled", slog.String("room_code", string(room.Code)))
	default:
		return nil
	}
	return c.saveRoom(ctx, room)
}

func (c *Controller) enterWriting(ctx context.Context, room *model.Room, reason string) error {
	if err := transition(room, "start game", model.PhaseLobby, model.PhaseWriting); err != nil {
		return err
	}
	room.Round++
	room.CountdownEndsAt = time.Time{}
	if err := c.saveRoom(ctx, room); err != nil {
		return err
	}

	c.logger.Info("writing started",
		slog.String("room_code", string(room.Code)),
		slog.Int("round", room.Round),
		slog.String("reason", reason),
	)
	return nil
}

// advanceIfAllWritten enters guessing once every player in the room has an
// unrevealed story
func (c *Controller) advanceIfAllWritten(ctx context.Context, room *model.Room, players []*model.Player) error {
	if room.Phase != model.PhaseWriting || len(players) == 0 {
		return nil
	}

	stories, err := c.storage.ListStories(ctx, room.ID)
	if err != nil {
		return err
	}
	written := make(map[model.PlayerID]bool, len(stories))
	for _, s := range stories {
		if !s.IsRevealed {
			written[s.AuthorID] = true
		}
	}
	for _, p := range players {
		if !written[p.ID] {
			return nil
		}
	}

	return c.enterGuessing(ctx, room, players)
}

func (c *Controller) enterGuessing(ctx context.Context, room *model.Room, players []*model.Player) error {
	active, err := c.storage.GetActiveStory(ctx, room.ID)
	if err != nil {
		return err
	}
	if err := transition(room, "start guessing", model.PhaseWriting, model.PhaseGuessing); err != nil {
		return err
	}

	room.ActiveStoryID = active.ID
	room.Guessers = room.Guessers[:0]
	for _, p := range players {
		if p.ID != active.AuthorID {
			room.Guessers = append(room.Guessers, p.ID)
		}
	}
	room.GuessEndsAt = c.clock.Now().Add(c.cfg.GuessCountdown)
	if err := c.saveRoom(ctx, room); err != nil {
		return err
	}

	c.logger.Info("guessing started",
		slog.String("room_code", string(room.Code)),
		slog.String("story_id", string(active.ID)),
		slog.Int("guessers", len(room.Guessers)),
	)

	// With nobody eligible to guess the story resolves straight away
	return c.resolveIfComplete(ctx, room, players)
}

// resolveIfComplete reveals the active story once every guesser still in the
// room has a guess
func (c *Controller) resolveIfComplete(ctx context.Context, room *model.Room, players []*model.Player) error {
	if room.Phase != model.PhaseGuessing {
		return nil
	}

	guesses, err := c.storage.ListGuesses(ctx, room.ActiveStoryID)
	if err != nil {
		return err
	}
	guessed := make(map[model.PlayerID]bool, len(guesses))
	for _, g := range guesses {
		guessed[g.PlayerID] = true
	}
	for _, id := range room.Guessers {
		if model.FindPlayer(players, id) != nil && !guessed[id] {
			return nil
		}
	}

	return c.enterReveal(ctx, room, "all guessed")
}

// enterReveal records an empty guess for every outstanding guesser, credits
// points to players still in the room and reveals the active story
func (c *Controller) enterReveal(ctx context.Context, room *model.Room, reason string) error {
	story, err := c.storage.GetStory(ctx, room.ActiveStoryID)
	if err != nil {
		return err
	}
	guesses, err := c.storage.ListGuesses(ctx, story.ID)
	if err != nil {
		return err
	}

	guessed := make(map[model.PlayerID]bool, len(guesses))
	for _, g := range guesses {
		guessed[g.PlayerID] = true
	}
	for _, id := range room.Guessers {
		if guessed[id] {
			continue
		}
		empty := &model.Guess{
			ID:        model.GuessID(c.random.ID()),
			RoomID:    room.ID,
			StoryID:   story.ID,
			PlayerID:  id,
			CreatedAt: c.clock.Now(),
		}
		err := c.storage.CreateGuess(ctx, empty)
		if err != nil && !errors.Is(err, model.ErrAlreadyGuessed) {
			return err
		}
	}

	// Credit and reveal land together, so a retry after any failure here
	// finds either nothing written or the story already revealed
	if !story.IsRevealed {
		if _, err := c.storage.RevealStory(ctx, story.ID, c.scoring.RoundPoints(guesses)); err != nil {
			return err
		}
	}

	if err := transition(room, "reveal", model.PhaseGuessing, model.PhaseReveal); err != nil {
		return err
	}
	room.GuessEndsAt = time.Time{}
	if err := c.saveRoom(ctx, room); err != nil {
		return err
	}

	c.logger.Info("story revealed",
		slog.String("room_code", string(room.Code)),
		slog.String("story_id", string(story.ID)),
		slog.String("reason", reason),
	)
	return nil
}

// Advance applies any deadline that has passed for the room and returns the
// next pending deadline, if there is one
func (c *Controller) Advance(ctx context.Context, roomID model.RoomID) (time.Time, bool, error) {
	lock := c.locks.get(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := c.storage.GetRoom(ctx, roomID)
	if err != nil {
		// Closed and expired rooms give their lock back
		c.forgetIfGone(roomID, err)
		return time.Time{}, false, err
	}

	now := c.clock.Now()
	switch {
	case room.CountdownArmed() && !now.Before(room.CountdownEndsAt):
		players, err := c.storage.ListPlayers(ctx, room.ID)
		if err != nil {
			return time.Time{}, false, err
		}
		// The guard is checked again at expiry
		if canStart(room, players) {
			err = c.enterWriting(ctx, room, "countdown")
		} else {
			room.CountdownEndsAt = time.Time{}
			err = c.saveRoom(ctx, room)
		}
		if err != nil {
			return time.Time{}, false, err
		}
	case room.Phase == model.PhaseGuessing && !room.GuessEndsAt.IsZero() && !now.Before(room.GuessEndsAt):
		if err := c.enterReveal(ctx, room, "guess timer"); err != nil {
			return time.Time{}, false, err
		}
	case room.Phase == model.PhaseGuessing:
		// Picks up a resolution that failed after its last guess was stored
		players, err := c.storage.ListPlayers(ctx, room.ID)
		if err != nil {
			return time.Time{}, false, err
		}
		if err := c.resolveIfComplete(ctx, room, players); err != nil {
			return time.Time{}, false, err
		}
	}

	next, ok := room.NextDeadline()
	return next, ok, nil
}
