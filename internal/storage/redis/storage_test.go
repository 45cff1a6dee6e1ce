package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/storage"
	"github.com/mcoot/storyguess/internal/storage/storagetest"
)

type StorageSuite struct {
	storagetest.Suite
	mini   *miniredis.Miniredis
	client *redis.Client
}

func TestStorageSuite(t *testing.T) {
	s := &StorageSuite{}
	s.NewStorage = func() storage.Storage {
		s.mini = miniredis.RunT(s.T())
		s.client = redis.NewClient(&redis.Options{Addr: s.mini.Addr()})
		return NewWithClient(s.client, DefaultConfig())
	}
	suite.Run(t, s)
}

func (s *StorageSuite) TearDownTest() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *StorageSuite) TestRoomKeysCarryTTL() {
	ctx := context.Background()
	room := &model.Room{ID: "room-1", Code: "ABC234", Phase: model.PhaseLobby}
	s.Require().NoError(s.Store().CreateRoom(ctx, room))

	s.True(s.mini.Exists(roomKey(room.ID)))
	s.Equal(24*time.Hour, s.mini.TTL(roomKey(room.ID)))
	s.Equal(24*time.Hour, s.mini.TTL(roomCodeIndexKey(room.Code)))

	s.mini.FastForward(25 * time.Hour)
	_, err := s.Store().GetRoom(ctx, room.ID)
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *StorageSuite) TestPlayersStoredInRoomHash() {
	ctx := context.Background()
	room := &model.Room{ID: "room-1", Code: "ABC234", Phase: model.PhaseLobby}
	s.Require().NoError(s.Store().CreateRoom(ctx, room))
	_, _, err := s.Store().UpsertPlayer(ctx, &model.Player{ID: "p1", RoomID: room.ID, LocalID: "local-1", Name: "Ann"})
	s.Require().NoError(err)

	fields, err := s.mini.HKeys(playersKey(room.ID))
	s.Require().NoError(err)
	s.Equal([]string{"local-1"}, fields)
}

func (s *StorageSuite) TestNewRejectsBadURL() {
	cfg := DefaultConfig()
	cfg.URL = "not-a-url"
	_, err := New(cfg)
	s.Error(err)
}
