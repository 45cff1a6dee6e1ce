// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/storage"
)

// Suite runs the storage contract against the backend returned by NewStorage.
// Backends embed it in their own test suites.
type Suite struct {
	suite.Suite
	NewStorage func() storage.Storage

	store storage.Storage
	ctx   context.Context
	now   time.Time
}

func (s *Suite) SetupTest() {
	s.store = s.NewStorage()
	s.ctx = context.Background()
	s.now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// Store returns the backend under test
func (s *Suite) Store() storage.Storage {
	return s.store
}

func (s *Suite) createRoom(id, code string) *model.Room {
	room := &model.Room{
		ID:         model.RoomID(id),
		Code:       model.RoomCode(code),
		Name:       "Room " + code,
		Phase:      model.PhaseLobby,
		MinPlayers: model.DefaultMinPlayers,
		MaxPlayers: model.DefaultMaxPlayers,
		CreatedAt:  s.now,
		UpdatedAt:  s.now,
	}
	s.Require().NoError(s.store.CreateRoom(s.ctx, room))
	return room
}

func (s *Suite) addPlayer(room *model.Room, id, localID, name string) *model.Player {
	p, created, err := s.store.UpsertPlayer(s.ctx, &model.Player{
		ID:       model.PlayerID(id),
		RoomID:   room.ID,
		LocalID:  model.LocalID(localID),
		Name:     name,
		Avatar:   model.DefaultAvatar,
		JoinedAt: s.now,
	})
	s.Require().NoError(err)
	s.Require().True(created)
	return p
}

func (s *Suite) addStory(room *model.Room, id string, author model.PlayerID, content string) *model.Story {
	st, err := s.store.UpsertStory(s.ctx, &model.Story{
		ID:        model.StoryID(id),
		RoomID:    room.ID,
		AuthorID:  author,
		Content:   content,
		CreatedAt: s.now,
		UpdatedAt: s.now,
	})
	s.Require().NoError(err)
	return st
}

// Room operations

func (s *Suite) TestCreateAndGetRoom() {
	room := s.createRoom("room-1", "ABC234")

	got, err := s.store.GetRoom(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Equal(room.Code, got.Code)
	s.Equal(model.PhaseLobby, got.Phase)
	s.True(got.CreatedAt.Equal(s.now))

	byCode, err := s.store.GetRoomByCode(s.ctx, "ABC234")
	s.Require().NoError(err)
	s.Equal(room.ID, byCode.ID)

	exists, err := s.store.RoomCodeExists(s.ctx, "ABC234")
	s.Require().NoError(err)
	s.True(exists)
}

func (s *Suite) TestGetRoomNotFound() {
	_, err := s.store.GetRoom(s.ctx, "missing")
	s.ErrorIs(err, model.ErrRoomNotFound)

	_, err = s.store.GetRoomByCode(s.ctx, "ZZZZZZ")
	s.ErrorIs(err, model.ErrRoomNotFound)

	exists, err := s.store.RoomCodeExists(s.ctx, "ZZZZZZ")
	s.Require().NoError(err)
	s.False(exists)
}

func (s *Suite) TestUpdateRoomPersistsGuessingState() {
	room := s.createRoom("room-1", "ABC234")
	room.Phase = model.PhaseGuessing
	room.Round = 2
	room.ActiveStoryID = "story-1"
	room.GuessEndsAt = s.now.Add(10 * time.Second)
	room.Guessers = []model.PlayerID{"p2", "p3"}
	s.Require().NoError(s.store.UpdateRoom(s.ctx, room))

	got, err := s.store.GetRoom(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Equal(model.PhaseGuessing, got.Phase)
	s.Equal(2, got.Round)
	s.Equal(model.StoryID("story-1"), got.ActiveStoryID)
	s.True(got.GuessEndsAt.Equal(s.now.Add(10 * time.Second)))
	s.Equal([]model.PlayerID{"p2", "p3"}, got.Guessers)
	s.True(got.CountdownEndsAt.IsZero())
}

func (s *Suite) TestUpdateMissingRoom() {
	err := s.store.UpdateRoom(s.ctx, &model.Room{ID: "missing", Phase: model.PhaseLobby})
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *Suite) TestDeleteRoomRemovesEverything() {
	room := s.createRoom("room-1", "ABC234")
	p1 := s.addPlayer(room, "p1", "local-1", "Ann")
	story := s.addStory(room, "story-1", p1.ID, "hello")
	s.Require().NoError(s.store.CreateGuess(s.ctx, &model.Guess{
		ID: "g1", RoomID: room.ID, StoryID: story.ID, PlayerID: "p2", CreatedAt: s.now,
	}))

	s.Require().NoError(s.store.DeleteRoom(s.ctx, room.ID))

	_, err := s.store.GetRoom(s.ctx, room.ID)
	s.ErrorIs(err, model.ErrRoomNotFound)
	exists, err := s.store.RoomCodeExists(s.ctx, room.Code)
	s.Require().NoError(err)
	s.False(exists)
	players, err := s.store.ListPlayers(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Empty(players)
	_, err = s.store.GetStory(s.ctx, story.ID)
	s.ErrorIs(err, model.ErrStoryNotFound)
	guesses, err := s.store.ListGuesses(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Empty(guesses)

	s.NoError(s.store.DeleteRoom(s.ctx, room.ID), "delete is idempotent")
}

func (s *Suite) TestListRoomIDs() {
	s.createRoom("room-1", "ABC234")
	s.createRoom("room-2", "DEF567")

	ids, err := s.store.ListRoomIDs(s.ctx)
	s.Require().NoError(err)
	s.ElementsMatch([]model.RoomID{"room-1", "room-2"}, ids)
}

// Player operations

func (s *Suite) TestUpsertPlayerIsIdempotent() {
	room := s.createRoom("room-1", "ABC234")
	first := s.addPlayer(room, "p1", "local-1", "Ann")

	again, created, err := s.store.UpsertPlayer(s.ctx, &model.Player{
		ID: "p-other", RoomID: room.ID, LocalID: "local-1", Name: "Someone else",
	})
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, again.ID)
	s.Equal("Ann", again.Name)

	players, err := s.store.ListPlayers(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Len(players, 1)
}

func (s *Suite) TestUpsertPlayerMissingRoom() {
	_, _, err := s.store.UpsertPlayer(s.ctx, &model.Player{ID: "p1", RoomID: "missing", LocalID: "l1"})
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *Suite) TestListPlayersInJoinOrder() {
	room := s.createRoom("room-1", "ABC234")
	s.addPlayer(room, "p-c", "local-c", "Cat")
	s.addPlayer(room, "p-a", "local-a", "Ann")
	s.addPlayer(room, "p-b", "local-b", "Bob")

	players, err := s.store.ListPlayers(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Require().Len(players, 3)
	s.Equal(model.PlayerID("p-c"), players[0].ID)
	s.Equal(model.PlayerID("p-a"), players[1].ID)
	s.Equal(model.PlayerID("p-b"), players[2].ID)
	s.Less(players[0].Seq, players[1].Seq)
}

func (s *Suite) TestSetPlayerReadyAndUpdate() {
	room := s.createRoom("room-1", "ABC234")
	p := s.addPlayer(room, "p1", "local-1", "Ann")

	s.Require().NoError(s.store.SetPlayerReady(s.ctx, room.ID, p.LocalID, true))
	got, err := s.store.GetPlayer(s.ctx, room.ID, p.LocalID)
	s.Require().NoError(err)
	s.True(got.IsReady)

	got.IsHost = true
	got.Score = 20
	s.Require().NoError(s.store.UpdatePlayer(s.ctx, got))
	got, err = s.store.GetPlayer(s.ctx, room.ID, p.LocalID)
	s.Require().NoError(err)
	s.True(got.IsHost)
	s.Equal(20, got.Score)
	s.Equal(p.Seq, got.Seq)

	s.ErrorIs(s.store.SetPlayerReady(s.ctx, room.ID, "nobody", true), model.ErrPlayerNotFound)
	s.ErrorIs(s.store.UpdatePlayer(s.ctx, &model.Player{RoomID: room.ID, LocalID: "nobody"}), model.ErrPlayerNotFound)
}

func (s *Suite) TestDeletePlayer() {
	room := s.createRoom("room-1", "ABC234")
	p := s.addPlayer(room, "p1", "local-1", "Ann")

	s.Require().NoError(s.store.DeletePlayer(s.ctx, room.ID, p.LocalID))
	_, err := s.store.GetPlayer(s.ctx, room.ID, p.LocalID)
	s.ErrorIs(err, model.ErrPlayerNotFound)
	s.NoError(s.store.DeletePlayer(s.ctx, room.ID, p.LocalID), "delete is idempotent")
}

// Story operations

func (s *Suite) TestUpsertStoryOverwritesUnrevealed() {
	room := s.createRoom("room-1", "ABC234")
	first := s.addStory(room, "story-1", "p1", "I once slept through a final exam.")

	second, err := s.store.UpsertStory(s.ctx, &model.Story{
		ID:        "story-2",
		RoomID:    room.ID,
		AuthorID:  "p1",
		Content:   "Actually it was two exams.",
		Genre:     model.GenreEmbarrassing,
		CreatedAt: s.now.Add(time.Second),
		UpdatedAt: s.now.Add(time.Second),
	})
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal(first.Seq, second.Seq)
	s.Equal("Actually it was two exams.", second.Content)
	s.Equal(model.GenreEmbarrassing, second.Genre)

	stories, err := s.store.ListStories(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Len(stories, 1)
}

func (s *Suite) TestActiveStoryIsOldestUnrevealed() {
	room := s.createRoom("room-1", "ABC234")
	_, err := s.store.GetActiveStory(s.ctx, room.ID)
	s.ErrorIs(err, model.ErrStoryNotFound)

	first := s.addStory(room, "story-1", "p1", "one")
	second := s.addStory(room, "story-2", "p2", "two")
	s.addStory(room, "story-3", "p3", "three")

	active, err := s.store.GetActiveStory(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Equal(first.ID, active.ID)

	ok, err := s.store.RevealStory(s.ctx, first.ID, nil)
	s.Require().NoError(err)
	s.True(ok)
	active, err = s.store.GetActiveStory(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Equal(second.ID, active.ID)

	revealed, err := s.store.GetStory(s.ctx, first.ID)
	s.Require().NoError(err)
	s.True(revealed.IsRevealed)

	_, err = s.store.RevealStory(s.ctx, "missing", nil)
	s.ErrorIs(err, model.ErrStoryNotFound)
}

func (s *Suite) TestRevealStoryCreditsOnce() {
	room := s.createRoom("room-1", "ABC234")
	author := s.addPlayer(room, "p1", "l1", "Ann")
	guesser := s.addPlayer(room, "p2", "l2", "Bob")
	story := s.addStory(room, "story-1", author.ID, "I once slept through a final exam.")

	credits := map[model.PlayerID]int{guesser.ID: 10, "departed": 10}
	ok, err := s.store.RevealStory(s.ctx, story.ID, credits)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.RevealStory(s.ctx, story.ID, credits)
	s.Require().NoError(err)
	s.False(ok, "a second reveal changes nothing")

	bob, err := s.store.GetPlayer(s.ctx, room.ID, guesser.LocalID)
	s.Require().NoError(err)
	s.Equal(10, bob.Score)
	ann, err := s.store.GetPlayer(s.ctx, room.ID, author.LocalID)
	s.Require().NoError(err)
	s.Equal(0, ann.Score)

	revealed, err := s.store.GetStory(s.ctx, story.ID)
	s.Require().NoError(err)
	s.True(revealed.IsRevealed)
}

func (s *Suite) TestUpsertAfterRevealCreatesNewStory() {
	room := s.createRoom("room-1", "ABC234")
	first := s.addStory(room, "story-1", "p1", "one")
	_, err := s.store.RevealStory(s.ctx, first.ID, nil)
	s.Require().NoError(err)

	second := s.addStory(room, "story-2", "p1", "two")
	s.NotEqual(first.ID, second.ID)

	stories, err := s.store.ListStories(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Len(stories, 2)
}

// Guess operations

func (s *Suite) TestCreateGuessAtMostOncePerPlayer() {
	room := s.createRoom("room-1", "ABC234")
	story := s.addStory(room, "story-1", "p1", "one")

	guess := &model.Guess{
		ID: "g1", RoomID: room.ID, StoryID: story.ID, PlayerID: "p2",
		GuessedAuthorID: "p1", IsCorrect: true, Points: 10, CreatedAt: s.now,
	}
	s.Require().NoError(s.store.CreateGuess(s.ctx, guess))

	dup := *guess
	dup.ID = "g2"
	dup.GuessedAuthorID = "p3"
	s.ErrorIs(s.store.CreateGuess(s.ctx, &dup), model.ErrAlreadyGuessed)

	guesses, err := s.store.ListGuesses(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Require().Len(guesses, 1)
	s.Equal(model.PlayerID("p1"), guesses[0].GuessedAuthorID)
	s.True(guesses[0].IsCorrect)
	s.Equal(10, guesses[0].Points)
}

func (s *Suite) TestConcurrentGuessesFromOnePlayer() {
	room := s.createRoom("room-1", "ABC234")
	story := s.addStory(room, "story-1", "p1", "one")

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.store.CreateGuess(s.ctx, &model.Guess{
				ID: model.GuessID(fmt.Sprintf("g%d", i)), RoomID: room.ID, StoryID: story.ID,
				PlayerID: "p2", CreatedAt: s.now,
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			s.ErrorIs(err, model.ErrAlreadyGuessed)
		}
	}
	s.Equal(1, succeeded)
}

func (s *Suite) TestCreateGuessMissingStory() {
	err := s.store.CreateGuess(s.ctx, &model.Guess{ID: "g1", RoomID: "room-1", StoryID: "missing", PlayerID: "p2"})
	s.ErrorIs(err, model.ErrStoryNotFound)
}

// Reaction operations

func (s *Suite) TestReactions() {
	room := s.createRoom("room-1", "ABC234")
	story := s.addStory(room, "story-1", "p1", "one")

	wow := &model.Reaction{RoomID: room.ID, StoryID: story.ID, PlayerID: "p2", Kind: model.ReactionWow}
	joy := &model.Reaction{RoomID: room.ID, StoryID: story.ID, PlayerID: "p2", Kind: model.ReactionJoy}
	s.Require().NoError(s.store.AddReaction(s.ctx, wow))
	s.Require().NoError(s.store.AddReaction(s.ctx, wow), "adding twice is a no-op")
	s.Require().NoError(s.store.AddReaction(s.ctx, joy))

	reactions, err := s.store.ListReactions(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Len(reactions, 2)

	s.Require().NoError(s.store.RemoveReaction(s.ctx, wow))
	reactions, err = s.store.ListReactions(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Require().Len(reactions, 1)
	s.Equal(model.ReactionJoy, reactions[0].Kind)
}

// Round operations

func (s *Suite) TestClearRound() {
	room := s.createRoom("room-1", "ABC234")
	p1 := s.addPlayer(room, "p1", "local-1", "Ann")
	story := s.addStory(room, "story-1", p1.ID, "hello")
	s.Require().NoError(s.store.CreateGuess(s.ctx, &model.Guess{
		ID: "g1", RoomID: room.ID, StoryID: story.ID, PlayerID: "p2", CreatedAt: s.now,
	}))
	s.Require().NoError(s.store.AddReaction(s.ctx, &model.Reaction{
		RoomID: room.ID, StoryID: story.ID, PlayerID: "p2", Kind: model.ReactionClap,
	}))

	s.Require().NoError(s.store.ClearRound(s.ctx, room.ID))

	stories, err := s.store.ListStories(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Empty(stories)
	guesses, err := s.store.ListGuesses(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Empty(guesses)
	reactions, err := s.store.ListReactions(s.ctx, story.ID)
	s.Require().NoError(err)
	s.Empty(reactions)

	players, err := s.store.ListPlayers(s.ctx, room.ID)
	s.Require().NoError(err)
	s.Len(players, 1, "players survive a round reset")
}

// Change feed

func (s *Suite) TestSubscribeReceivesRoomChanges() {
	room := s.createRoom("room-1", "ABC234")
	other := s.createRoom("room-2", "DEF567")

	sub, err := s.store.Subscribe(s.ctx, room.ID)
	s.Require().NoError(err)
	defer sub.Close()

	s.addPlayer(other, "p9", "local-9", "Elsewhere")
	p := s.addPlayer(room, "p1", "local-1", "Ann")

	change := s.nextChange(sub)
	s.Equal(model.TablePlayers, change.Table)
	s.Equal(model.OpInsert, change.Op)
	s.Equal(room.ID, change.RoomID)
	s.Equal(string(p.ID), change.RecordID)

	room.Phase = model.PhaseWriting
	s.Require().NoError(s.store.UpdateRoom(s.ctx, room))
	change = s.nextChange(sub)
	s.Equal(model.TableRooms, change.Table)
	s.Equal(model.OpUpdate, change.Op)

	s.Require().NoError(s.store.DeleteRoom(s.ctx, room.ID))
	change = s.nextChange(sub)
	s.Equal(model.TableRooms, change.Table)
	s.Equal(model.OpDelete, change.Op)
}

func (s *Suite) TestSubscriptionCloses() {
	room := s.createRoom("room-1", "ABC234")
	sub, err := s.store.Subscribe(s.ctx, room.ID)
	s.Require().NoError(err)

	s.Require().NoError(sub.Close())
	s.Eventually(func() bool {
		select {
		case _, ok := <-sub.Changes():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *Suite) nextChange(sub storage.Subscription) model.Change {
	select {
	case change, ok := <-sub.Changes():
		s.Require().True(ok, "subscription closed unexpectedly")
		return change
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for change")
	}
	return model.Change{}
}

func (s *Suite) TestCreateRoomRejectsTakenCode() {
	s.createRoom("room-1", "ABC234")
	err := s.store.CreateRoom(s.ctx, &model.Room{ID: "room-2", Code: "ABC234", Phase: model.PhaseLobby})
	s.ErrorIs(err, model.ErrRoomCodeTaken)
}
