package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/storage"
	"github.com/mcoot/storyguess/internal/storage/storagetest"
)

type StorageSuite struct {
	storagetest.Suite
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, &StorageSuite{
		Suite: storagetest.Suite{
			NewStorage: func() storage.Storage { return New() },
		},
	})
}

func (s *StorageSuite) TestReturnedRecordsAreCopies() {
	ctx := context.Background()
	store := s.Store()
	room := &model.Room{ID: "room-1", Code: "ABC234", Phase: model.PhaseLobby, Guessers: []model.PlayerID{"p1"}}
	s.Require().NoError(store.CreateRoom(ctx, room))

	room.Guessers[0] = "changed"
	got, err := store.GetRoom(ctx, "room-1")
	s.Require().NoError(err)
	s.Equal(model.PlayerID("p1"), got.Guessers[0])

	got.Phase = model.PhaseReveal
	again, err := store.GetRoom(ctx, "room-1")
	s.Require().NoError(err)
	s.Equal(model.PhaseLobby, again.Phase)
}

func (s *StorageSuite) TestSubscriptionClosesWithContext() {
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := s.Store().Subscribe(ctx, "room-1")
	s.Require().NoError(err)

	cancel()
	_, ok := <-sub.Changes()
	s.False(ok)
}
