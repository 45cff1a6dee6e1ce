package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/services/room"
	"github.com/mcoot/storyguess/internal/services/scoring"
	"github.com/mcoot/storyguess/internal/testutil"
)

type IntegrationSuite struct {
	suite.Suite
	app *TestApp
	ctx context.Context
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupTest() {
	s.app = NewTestApp()
	s.ctx = context.Background()
}

func (s *IntegrationSuite) TearDownTest() {
	s.Require().NoError(s.app.Close())
}

// Test: Complete game flow from room creation to a second lobby
func (s *IntegrationSuite) TestCompleteGameFlow() {
	coord := s.app.Coordinator
	s.app.MockRandom.QueueString("PARTY2")

	// Step 1: Create a room
	r, err := coord.CreateRoom(s.ctx, "Friday Night", 0)
	s.Require().NoError(err)
	s.Equal(model.RoomCode("PARTY2"), r.Code)
	s.Equal(model.PhaseLobby, r.Phase)

	// Step 2: Three players join and ready up
	ids := []model.LocalID{"dev-ann", "dev-bob", "dev-cat"}
	players := make(map[model.LocalID]*model.Player)
	for i, name := range []string{"Ann", "Bob", "Cat"} {
		p, err := coord.Join(s.ctx, r.Code, ids[i], name, "")
		s.Require().NoError(err)
		players[ids[i]] = p
	}
	s.True(players["dev-ann"].IsHost)

	for _, id := range ids {
		s.Require().NoError(coord.SetReady(s.ctx, r.Code, id, true))
	}
	snap, err := coord.Snapshot(s.ctx, r.Code, "dev-ann")
	s.Require().NoError(err)
	s.Equal(5*time.Second, snap.CountdownRemaining)

	// Step 3: The countdown expires
	s.Require().NoError(s.app.ExpireDeadlines(s.ctx, 5*time.Second))
	r, err = coord.GetRoom(s.ctx, r.Code)
	s.Require().NoError(err)
	s.Equal(model.PhaseWriting, r.Phase)
	s.Equal(1, r.Round)

	// Step 4: Everyone writes a story
	for i, id := range ids {
		_, err := coord.SubmitStory(s.ctx, r.Code, id, "story number "+string(rune('A'+i)), model.GenreFunny)
		s.Require().NoError(err)
	}
	r, err = coord.GetRoom(s.ctx, r.Code)
	s.Require().NoError(err)
	s.Equal(model.PhaseGuessing, r.Phase)
	s.Len(r.Guessers, 2)

	// Step 5: One guesser answers, the other times out
	active, err := s.app.Storage.GetActiveStory(s.ctx, r.ID)
	s.Require().NoError(err)

	var guessers []model.LocalID
	for _, id := range ids {
		if players[id].ID != active.AuthorID {
			guessers = append(guessers, id)
		}
	}
	_, err = coord.SubmitGuess(s.ctx, r.Code, guessers[0], active.ID, active.AuthorID)
	s.Require().NoError(err)

	s.Require().NoError(s.app.ExpireDeadlines(s.ctx, 10*time.Second))
	r, err = coord.GetRoom(s.ctx, r.Code)
	s.Require().NoError(err)
	s.Equal(model.PhaseReveal, r.Phase)

	// Step 6: Results show one correct guess and one empty guess
	results, err := coord.GuessResults(s.ctx, r.Code)
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	correct := 0
	for _, res := range results {
		if res.IsCorrect {
			correct++
			s.Equal(scoring.CorrectGuessPoints, res.Points)
		}
	}
	s.Equal(1, correct)

	snap, err = coord.Snapshot(s.ctx, r.Code, guessers[0])
	s.Require().NoError(err)
	s.Require().NotEmpty(snap.Leaderboard)
	s.Equal(1, snap.Leaderboard[0].Rank)
	s.Equal(scoring.CorrectGuessPoints, snap.Leaderboard[0].Score)

	// Step 7: Play again returns everyone to the lobby with scores kept
	s.Require().NoError(coord.PlayAgain(s.ctx, r.Code, "dev-bob"))
	r, err = coord.GetRoom(s.ctx, r.Code)
	s.Require().NoError(err)
	s.Equal(model.PhaseLobby, r.Phase)

	list, err := coord.ListPlayers(s.ctx, r.Code)
	s.Require().NoError(err)
	total := 0
	for _, p := range list {
		s.False(p.IsReady)
		total += p.Score
	}
	s.Equal(scoring.CorrectGuessPoints, total)
}

// Test: The last player leaving deletes the room
func (s *IntegrationSuite) TestRoomDeletedWhenEmpty() {
	coord := s.app.Coordinator
	s.app.MockRandom.QueueString("EMPTY2")

	r, err := coord.CreateRoom(s.ctx, "Short Lived", 3)
	s.Require().NoError(err)
	_, err = coord.Join(s.ctx, r.Code, "dev-1", "Solo", "")
	s.Require().NoError(err)

	s.Require().NoError(coord.Leave(s.ctx, r.Code, "dev-1"))

	_, err = coord.GetRoom(s.ctx, r.Code)
	s.ErrorIs(err, model.ErrRoomNotFound)
	ids, err := s.app.Storage.ListRoomIDs(s.ctx)
	s.Require().NoError(err)
	s.Empty(ids)
}

// The production wiring runs deadlines on the real supervisor
func TestAppStartRunsCountdown(t *testing.T) {
	ctx := context.Background()
	cfg := room.DefaultConfig()
	cfg.StartCountdown = 50 * time.Millisecond

	app, err := New(ctx, Config{Logger: testutil.NopLogger(), Room: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = app.Close() }()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r, err := app.Coordinator.CreateRoom(ctx, "Live", 3)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	for _, id := range []model.LocalID{"a", "b", "c"} {
		if _, err := app.Coordinator.Join(ctx, r.Code, id, "Player "+string(id), ""); err != nil {
			t.Fatalf("Join: %v", err)
		}
		if err := app.Coordinator.SetReady(ctx, r.Code, id, true); err != nil {
			t.Fatalf("SetReady: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := app.Coordinator.GetRoom(ctx, r.Code)
		if err != nil {
			t.Fatalf("GetRoom: %v", err)
		}
		if got.Phase == model.PhaseWriting {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("countdown never started the game")
}

func TestNewRejectsUnknownStorage(t *testing.T) {
	_, err := New(context.Background(), Config{StorageType: "sqlite"})
	if err == nil {
		t.Fatal("expected an error for an unknown storage type")
	}

	_, err = New(context.Background(), Config{StorageType: StorageTypeRedis})
	if err == nil {
		t.Fatal("expected an error when Redis config is missing")
	}
}
