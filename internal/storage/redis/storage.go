package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface.
// Changes are published on a per-room pub/sub channel.
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Storage{
		client: client,
		cfg:    cfg,
	}, nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

func (s *Storage) publish(ctx context.Context, table model.Table, op model.ChangeOp, roomID model.RoomID, recordID string) error {
	data, err := json.Marshal(model.Change{
		Table:    table,
		Op:       op,
		RoomID:   roomID,
		RecordID: recordID,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, changesChannel(roomID), data).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (s *Storage) nextSeq(ctx context.Context) (int64, error) {
	return s.client.Incr(ctx, seqKey()).Result()
}

// Room operations

func (s *Storage) CreateRoom(ctx context.Context, room *model.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, roomCodeIndexKey(room.Code), string(room.ID), s.cfg.RoomTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrRoomCodeTaken
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, roomKey(room.ID), data, s.cfg.RoomTTL)
	pipe.SAdd(ctx, roomsIndexKey(), string(room.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return s.publish(ctx, model.TableRooms, model.OpInsert, room.ID, string(room.ID))
}

func (s *Storage) RoomCodeExists(ctx context.Context, code model.RoomCode) (bool, error) {
	exists, err := s.client.Exists(ctx, roomCodeIndexKey(code)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (s *Storage) GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error) {
	data, err := s.client.Get(ctx, roomKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrRoomNotFound
		}
		return nil, err
	}

	var room model.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Storage) GetRoomByCode(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	id, err := s.client.Get(ctx, roomCodeIndexKey(code)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrRoomNotFound
		}
		return nil, err
	}
	return s.GetRoom(ctx, model.RoomID(id))
}

func (s *Storage) UpdateRoom(ctx context.Context, room *model.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}

	// XX: only overwrite an existing room
	ok, err := s.client.SetXX(ctx, roomKey(room.ID), data, s.cfg.RoomTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrRoomNotFound
	}

	pipe := s.client.Pipeline()
	pipe.Expire(ctx, roomCodeIndexKey(room.Code), s.cfg.RoomTTL)
	pipe.Expire(ctx, playersKey(room.ID), s.cfg.RoomTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return s.publish(ctx, model.TableRooms, model.OpUpdate, room.ID, string(room.ID))
}

func (s *Storage) DeleteRoom(ctx context.Context, id model.RoomID) error {
	room, err := s.GetRoom(ctx, id)
	if errors.Is(err, model.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.clearRound(ctx, id); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, roomKey(id), roomCodeIndexKey(room.Code), playersKey(id))
	pipe.SRem(ctx, roomsIndexKey(), string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return s.publish(ctx, model.TableRooms, model.OpDelete, id, string(id))
}

func (s *Storage) ListRoomIDs(ctx context.Context) ([]model.RoomID, error) {
	members, err := s.client.SMembers(ctx, roomsIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]model.RoomID, 0, len(members))
	for _, m := range members {
		ids = append(ids, model.RoomID(m))
	}
	return ids, nil
}

// Player operations

func (s *Storage) UpsertPlayer(ctx context.Context, player *model.Player) (*model.Player, bool, error) {
	exists, err := s.client.Exists(ctx, roomKey(player.RoomID)).Result()
	if err != nil {
		return nil, false, err
	}
	if exists == 0 {
		return nil, false, model.ErrRoomNotFound
	}

	if existing, err := s.GetPlayer(ctx, player.RoomID, player.LocalID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, model.ErrPlayerNotFound) {
		return nil, false, err
	}

	seq, err := s.nextSeq(ctx)
	if err != nil {
		return nil, false, err
	}
	stored := *player
	stored.Seq = seq
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, false, err
	}

	// HSETNX keeps a concurrent join with the same local id from creating a duplicate
	created, err := s.client.HSetNX(ctx, playersKey(player.RoomID), string(player.LocalID), data).Result()
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.GetPlayer(ctx, player.RoomID, player.LocalID)
		return existing, false, err
	}
	s.client.Expire(ctx, playersKey(player.RoomID), s.cfg.RoomTTL)

	if err := s.publish(ctx, model.TablePlayers, model.OpInsert, player.RoomID, string(player.ID)); err != nil {
		return nil, false, err
	}
	return &stored, true, nil
}

func (s *Storage) GetPlayer(ctx context.Context, roomID model.RoomID, localID model.LocalID) (*model.Player, error) {
	data, err := s.client.HGet(ctx, playersKey(roomID), string(localID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	var player model.Player
	if err := json.Unmarshal(data, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

func (s *Storage) ListPlayers(ctx context.Context, roomID model.RoomID) ([]*model.Player, error) {
	values, err := s.client.HVals(ctx, playersKey(roomID)).Result()
	if err != nil {
		return nil, err
	}

	players := make([]*model.Player, 0, len(values))
	for _, v := range values {
		var player model.Player
		if err := json.Unmarshal([]byte(v), &player); err != nil {
			return nil, err
		}
		players = append(players, &player)
	}
	model.SortPlayers(players)
	return players, nil
}

func (s *Storage) SetPlayerReady(ctx context.Context, roomID model.RoomID, localID model.LocalID, ready bool) error {
	player, err := s.GetPlayer(ctx, roomID, localID)
	if err != nil {
		return err
	}
	player.IsReady = ready
	return s.writePlayer(ctx, player)
}

func (s *Storage) UpdatePlayer(ctx context.Context, player *model.Player) error {
	existing, err := s.GetPlayer(ctx, player.RoomID, player.LocalID)
	if err != nil {
		return err
	}
	existing.Name = player.Name
	existing.Avatar = player.Avatar
	existing.IsHost = player.IsHost
	existing.IsReady = player.IsReady
	existing.Score = player.Score
	return s.writePlayer(ctx, existing)
}

func (s *Storage) writePlayer(ctx context.Context, player *model.Player) error {
	data, err := json.Marshal(player)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, playersKey(player.RoomID), string(player.LocalID), data).Err(); err != nil {
		return err
	}
	return s.publish(ctx, model.TablePlayers, model.OpUpdate, player.RoomID, string(player.ID))
}

func (s *Storage) DeletePlayer(ctx context.Context, roomID model.RoomID, localID model.LocalID) error {
	player, err := s.GetPlayer(ctx, roomID, localID)
	if errors.Is(err, model.ErrPlayerNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.client.HDel(ctx, playersKey(roomID), string(localID)).Err(); err != nil {
		return err
	}
	return s.publish(ctx, model.TablePlayers, model.OpDelete, roomID, string(player.ID))
}

// Story operations

func (s *Storage) UpsertStory(ctx context.Context, story *model.Story) (*model.Story, error) {
	exists, err := s.client.Exists(ctx, roomKey(story.RoomID)).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, model.ErrRoomNotFound
	}

	op := model.OpInsert
	stored := *story

	existingID, err := s.client.HGet(ctx, authorStoryIndexKey(story.RoomID), string(story.AuthorID)).Result()
	switch {
	case err == nil:
		existing, err := s.GetStory(ctx, model.StoryID(existingID))
		if err != nil && !errors.Is(err, model.ErrStoryNotFound) {
			return nil, err
		}
		if existing != nil && !existing.IsRevealed {
			op = model.OpUpdate
			stored = *existing
			stored.Content = story.Content
			stored.Genre = story.Genre
			stored.UpdatedAt = story.UpdatedAt
		}
	case !errors.Is(err, redis.Nil):
		return nil, err
	}

	if op == model.OpInsert {
		seq, err := s.nextSeq(ctx)
		if err != nil {
			return nil, err
		}
		stored.Seq = seq
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, storyKey(stored.ID), data, s.cfg.RoomTTL)
	pipe.SAdd(ctx, roomStoriesIndexKey(stored.RoomID), string(stored.ID))
	pipe.HSet(ctx, authorStoryIndexKey(stored.RoomID), string(stored.AuthorID), string(stored.ID))
	pipe.Expire(ctx, roomStoriesIndexKey(stored.RoomID), s.cfg.RoomTTL)
	pipe.Expire(ctx, authorStoryIndexKey(stored.RoomID), s.cfg.RoomTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	if err := s.publish(ctx, model.TableStories, op, stored.RoomID, string(stored.ID)); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (s *Storage) GetStory(ctx context.Context, id model.StoryID) (*model.Story, error) {
	data, err := s.client.Get(ctx, storyKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrStoryNotFound
		}
		return nil, err
	}

	var story model.Story
	if err := json.Unmarshal(data, &story); err != nil {
		return nil, err
	}
	return &story, nil
}

func (s *Storage) ListStories(ctx context.Context, roomID model.RoomID) ([]*model.Story, error) {
	ids, err := s.client.SMembers(ctx, roomStoriesIndexKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*model.Story{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = storyKey(model.StoryID(id))
	}

	// MGET batches the story fetches into one round trip
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	stories := make([]*model.Story, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var story model.Story
		if err := json.Unmarshal([]byte(str), &story); err != nil {
			return nil, err
		}
		stories = append(stories, &story)
	}
	model.SortStories(stories)
	return stories, nil
}

func (s *Storage) GetActiveStory(ctx context.Context, roomID model.RoomID) (*model.Story, error) {
	stories, err := s.ListStories(ctx, roomID)
	if err != nil {
		return nil, err
	}
	active := model.OldestUnrevealed(stories)
	if active == nil {
		return nil, model.ErrStoryNotFound
	}
	return active, nil
}

// revealAttempts bounds the WATCH retries when another writer touches the
// story or the room's players mid-reveal
const revealAttempts = 5

func (s *Storage) RevealStory(ctx context.Context, id model.StoryID, credits map[model.PlayerID]int) (bool, error) {
	for attempt := 0; attempt < revealAttempts; attempt++ {
		var (
			story    model.Story
			credited []model.PlayerID
			revealed bool
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, storyKey(id)).Bytes()
			if errors.Is(err, redis.Nil) {
				return model.ErrStoryNotFound
			}
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, &story); err != nil {
				return err
			}
			if story.IsRevealed {
				return nil
			}

			if err := tx.Watch(ctx, playersKey(story.RoomID)).Err(); err != nil {
				return err
			}
			raw, err := tx.HGetAll(ctx, playersKey(story.RoomID)).Result()
			if err != nil {
				return err
			}
			updates := make(map[string]any)
			for localID, v := range raw {
				var p model.Player
				if err := json.Unmarshal([]byte(v), &p); err != nil {
					return err
				}
				points := credits[p.ID]
				if points == 0 {
					continue
				}
				p.Score += points
				encoded, err := json.Marshal(&p)
				if err != nil {
					return err
				}
				updates[localID] = encoded
				credited = append(credited, p.ID)
			}

			story.IsRevealed = true
			storyData, err := json.Marshal(&story)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(updates) > 0 {
					pipe.HSet(ctx, playersKey(story.RoomID), updates)
				}
				pipe.Set(ctx, storyKey(id), storyData, s.cfg.RoomTTL)
				return nil
			})
			if err != nil {
				return err
			}
			revealed = true
			return nil
		}, storyKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil || !revealed {
			return false, err
		}

		for _, playerID := range credited {
			if err := s.publish(ctx, model.TablePlayers, model.OpUpdate, story.RoomID, string(playerID)); err != nil {
				return true, err
			}
		}
		return true, s.publish(ctx, model.TableStories, model.OpUpdate, story.RoomID, string(id))
	}
	return false, fmt.Errorf("reveal story %s: %w", id, redis.TxFailedErr)
}

// Guess operations

func (s *Storage) CreateGuess(ctx context.Context, guess *model.Guess) error {
	exists, err := s.client.Exists(ctx, storyKey(guess.StoryID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return model.ErrStoryNotFound
	}

	data, err := json.Marshal(guess)
	if err != nil {
		return err
	}

	created, err := s.client.HSetNX(ctx, guessesKey(guess.StoryID), string(guess.PlayerID), data).Result()
	if err != nil {
		return err
	}
	if !created {
		return model.ErrAlreadyGuessed
	}
	s.client.Expire(ctx, guessesKey(guess.StoryID), s.cfg.RoomTTL)

	return s.publish(ctx, model.TableGuesses, model.OpInsert, guess.RoomID, string(guess.ID))
}

func (s *Storage) ListGuesses(ctx context.Context, storyID model.StoryID) ([]*model.Guess, error) {
	values, err := s.client.HVals(ctx, guessesKey(storyID)).Result()
	if err != nil {
		return nil, err
	}

	guesses := make([]*model.Guess, 0, len(values))
	for _, v := range values {
		var guess model.Guess
		if err := json.Unmarshal([]byte(v), &guess); err != nil {
			return nil, err
		}
		guesses = append(guesses, &guess)
	}
	model.SortGuesses(guesses)
	return guesses, nil
}

// Reaction operations

func (s *Storage) AddReaction(ctx context.Context, reaction *model.Reaction) error {
	exists, err := s.client.Exists(ctx, storyKey(reaction.StoryID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return model.ErrStoryNotFound
	}

	data, err := json.Marshal(reaction)
	if err != nil {
		return err
	}
	added, err := s.client.HSetNX(ctx, reactionsKey(reaction.StoryID), reactionField(reaction.PlayerID, reaction.Kind), data).Result()
	if err != nil {
		return err
	}
	if !added {
		return nil
	}
	s.client.Expire(ctx, reactionsKey(reaction.StoryID), s.cfg.RoomTTL)
	return s.publish(ctx, model.TableReactions, model.OpInsert, reaction.RoomID, string(reaction.StoryID))
}

func (s *Storage) RemoveReaction(ctx context.Context, reaction *model.Reaction) error {
	removed, err := s.client.HDel(ctx, reactionsKey(reaction.StoryID), reactionField(reaction.PlayerID, reaction.Kind)).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return nil
	}
	return s.publish(ctx, model.TableReactions, model.OpDelete, reaction.RoomID, string(reaction.StoryID))
}

func (s *Storage) ListReactions(ctx context.Context, storyID model.StoryID) ([]*model.Reaction, error) {
	values, err := s.client.HVals(ctx, reactionsKey(storyID)).Result()
	if err != nil {
		return nil, err
	}

	reactions := make([]*model.Reaction, 0, len(values))
	for _, v := range values {
		var reaction model.Reaction
		if err := json.Unmarshal([]byte(v), &reaction); err != nil {
			return nil, err
		}
		reactions = append(reactions, &reaction)
	}
	model.SortReactions(reactions)
	return reactions, nil
}

// Round operations

func (s *Storage) ClearRound(ctx context.Context, roomID model.RoomID) error {
	n, err := s.client.SCard(ctx, roomStoriesIndexKey(roomID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if err := s.clearRound(ctx, roomID); err != nil {
		return err
	}
	return s.publish(ctx, model.TableStories, model.OpDelete, roomID, "")
}

func (s *Storage) clearRound(ctx context.Context, roomID model.RoomID) error {
	ids, err := s.client.SMembers(ctx, roomStoriesIndexKey(roomID)).Result()
	if err != nil {
		return err
	}

	keys := []string{roomStoriesIndexKey(roomID), authorStoryIndexKey(roomID)}
	for _, id := range ids {
		storyID := model.StoryID(id)
		keys = append(keys, storyKey(storyID), guessesKey(storyID), reactionsKey(storyID))
	}
	return s.client.Del(ctx, keys...).Err()
}

// Change feed

func (s *Storage) Subscribe(ctx context.Context, roomID model.RoomID) (storage.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, changesChannel(roomID))

	// Wait for the subscription to be confirmed so no change published
	// after Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to room %s: %w", roomID, err)
	}

	sub := &subscription{
		pubsub: pubsub,
		ch:     make(chan model.Change, 32),
		done:   make(chan struct{}),
	}
	go sub.run(ctx)
	return sub, nil
}
