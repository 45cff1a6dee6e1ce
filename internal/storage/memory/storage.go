package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/storage"
)

// Storage is an in-memory implementation of the storage interface.
// Records are copied in and out so callers never share state with the store.
type Storage struct {
	mu sync.RWMutex

	rooms       map[model.RoomID]*model.Room
	codeIndex   map[model.RoomCode]model.RoomID
	players     map[model.RoomID]map[model.LocalID]*model.Player
	stories     map[model.StoryID]*model.Story
	roomStories map[model.RoomID][]model.StoryID
	guesses     map[model.StoryID]map[model.PlayerID]*model.Guess
	reactions   map[model.StoryID]map[reactionKey]*model.Reaction
	seq         int64

	feed *feed
}

type reactionKey struct {
	playerID model.PlayerID
	kind     model.ReactionKind
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		rooms:       make(map[model.RoomID]*model.Room),
		codeIndex:   make(map[model.RoomCode]model.RoomID),
		players:     make(map[model.RoomID]map[model.LocalID]*model.Player),
		stories:     make(map[model.StoryID]*model.Story),
		roomStories: make(map[model.RoomID][]model.StoryID),
		guesses:     make(map[model.StoryID]map[model.PlayerID]*model.Guess),
		reactions:   make(map[model.StoryID]map[reactionKey]*model.Reaction),
		feed:        newFeed(),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

func (s *Storage) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *Storage) publish(table model.Table, op model.ChangeOp, roomID model.RoomID, recordID string) {
	s.feed.publish(model.Change{
		Table:    table,
		Op:       op,
		RoomID:   roomID,
		RecordID: recordID,
		At:       time.Now().UTC(),
	})
}

// Room operations

func (s *Storage) CreateRoom(ctx context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codeIndex[room.Code]; ok {
		return model.ErrRoomCodeTaken
	}
	s.rooms[room.ID] = cloneRoom(room)
	s.codeIndex[room.Code] = room.ID
	s.players[room.ID] = make(map[model.LocalID]*model.Player)
	s.publish(model.TableRooms, model.OpInsert, room.ID, string(room.ID))
	return nil
}

func (s *Storage) RoomCodeExists(ctx context.Context, code model.RoomCode) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.codeIndex[code]
	return ok, nil
}

func (s *Storage) GetRoom(ctx context.Context, id model.RoomID) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (s *Storage) GetRoomByCode(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.codeIndex[code]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	return cloneRoom(s.rooms[id]), nil
}

func (s *Storage) UpdateRoom(ctx context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; !ok {
		return model.ErrRoomNotFound
	}
	s.rooms[room.ID] = cloneRoom(room)
	s.publish(model.TableRooms, model.OpUpdate, room.ID, string(room.ID))
	return nil
}

func (s *Storage) DeleteRoom(ctx context.Context, id model.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil
	}
	s.clearRoundLocked(id)
	delete(s.codeIndex, room.Code)
	delete(s.players, id)
	delete(s.rooms, id)
	s.publish(model.TableRooms, model.OpDelete, id, string(id))
	return nil
}

func (s *Storage) ListRoomIDs(ctx context.Context) ([]model.RoomID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]model.RoomID, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Player operations

func (s *Storage) UpsertPlayer(ctx context.Context, player *model.Player) (*model.Player, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	players, ok := s.players[player.RoomID]
	if !ok {
		return nil, false, model.ErrRoomNotFound
	}
	if existing, ok := players[player.LocalID]; ok {
		return clonePlayer(existing), false, nil
	}
	stored := clonePlayer(player)
	stored.Seq = s.nextSeq()
	players[player.LocalID] = stored
	s.publish(model.TablePlayers, model.OpInsert, player.RoomID, string(player.ID))
	return clonePlayer(stored), true, nil
}

func (s *Storage) GetPlayer(ctx context.Context, roomID model.RoomID, localID model.LocalID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[roomID][localID]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	return clonePlayer(player), nil
}

func (s *Storage) ListPlayers(ctx context.Context, roomID model.RoomID) ([]*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	players := make([]*model.Player, 0, len(s.players[roomID]))
	for _, p := range s.players[roomID] {
		players = append(players, clonePlayer(p))
	}
	model.SortPlayers(players)
	return players, nil
}

func (s *Storage) SetPlayerReady(ctx context.Context, roomID model.RoomID, localID model.LocalID, ready bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	player, ok := s.players[roomID][localID]
	if !ok {
		return model.ErrPlayerNotFound
	}
	player.IsReady = ready
	s.publish(model.TablePlayers, model.OpUpdate, roomID, string(player.ID))
	return nil
}

func (s *Storage) UpdatePlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.players[player.RoomID][player.LocalID]
	if !ok {
		return model.ErrPlayerNotFound
	}
	existing.Name = player.Name
	existing.Avatar = player.Avatar
	existing.IsHost = player.IsHost
	existing.IsReady = player.IsReady
	existing.Score = player.Score
	s.publish(model.TablePlayers, model.OpUpdate, player.RoomID, string(player.ID))
	return nil
}

func (s *Storage) DeletePlayer(ctx context.Context, roomID model.RoomID, localID model.LocalID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	player, ok := s.players[roomID][localID]
	if !ok {
		return nil
	}
	delete(s.players[roomID], localID)
	s.publish(model.TablePlayers, model.OpDelete, roomID, string(player.ID))
	return nil
}

// Story operations

func (s *Storage) UpsertStory(ctx context.Context, story *model.Story) (*model.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[story.RoomID]; !ok {
		return nil, model.ErrRoomNotFound
	}
	for _, id := range s.roomStories[story.RoomID] {
		existing := s.stories[id]
		if existing.AuthorID == story.AuthorID && !existing.IsRevealed {
			existing.Content = story.Content
			existing.Genre = story.Genre
			existing.UpdatedAt = story.UpdatedAt
			s.publish(model.TableStories, model.OpUpdate, story.RoomID, string(existing.ID))
			return cloneStory(existing), nil
		}
	}
	stored := cloneStory(story)
	stored.Seq = s.nextSeq()
	s.stories[stored.ID] = stored
	s.roomStories[story.RoomID] = append(s.roomStories[story.RoomID], stored.ID)
	s.publish(model.TableStories, model.OpInsert, story.RoomID, string(stored.ID))
	return cloneStory(stored), nil
}

func (s *Storage) GetStory(ctx context.Context, id model.StoryID) (*model.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	story, ok := s.stories[id]
	if !ok {
		return nil, model.ErrStoryNotFound
	}
	return cloneStory(story), nil
}

func (s *Storage) ListStories(ctx context.Context, roomID model.RoomID) ([]*model.Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stories := make([]*model.Story, 0, len(s.roomStories[roomID]))
	for _, id := range s.roomStories[roomID] {
		stories = append(stories, cloneStory(s.stories[id]))
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

func (s *Storage) RevealStory(ctx context.Context, id model.StoryID, credits map[model.PlayerID]int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[id]
	if !ok {
		return false, model.ErrStoryNotFound
	}
	if story.IsRevealed {
		return false, nil
	}
	for _, p := range s.players[story.RoomID] {
		if points := credits[p.ID]; points != 0 {
			p.Score += points
			s.publish(model.TablePlayers, model.OpUpdate, story.RoomID, string(p.ID))
		}
	}
	story.IsRevealed = true
	s.publish(model.TableStories, model.OpUpdate, story.RoomID, string(id))
	return true, nil
}

// Guess operations

func (s *Storage) CreateGuess(ctx context.Context, guess *model.Guess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stories[guess.StoryID]; !ok {
		return model.ErrStoryNotFound
	}
	byPlayer := s.guesses[guess.StoryID]
	if byPlayer == nil {
		byPlayer = make(map[model.PlayerID]*model.Guess)
		s.guesses[guess.StoryID] = byPlayer
	}
	if _, ok := byPlayer[guess.PlayerID]; ok {
		return model.ErrAlreadyGuessed
	}
	stored := *guess
	byPlayer[guess.PlayerID] = &stored
	s.publish(model.TableGuesses, model.OpInsert, guess.RoomID, string(guess.ID))
	return nil
}

func (s *Storage) ListGuesses(ctx context.Context, storyID model.StoryID) ([]*model.Guess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	guesses := make([]*model.Guess, 0, len(s.guesses[storyID]))
	for _, g := range s.guesses[storyID] {
		stored := *g
		guesses = append(guesses, &stored)
	}
	model.SortGuesses(guesses)
	return guesses, nil
}

// Reaction operations

func (s *Storage) AddReaction(ctx context.Context, reaction *model.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stories[reaction.StoryID]; !ok {
		return model.ErrStoryNotFound
	}
	byKey := s.reactions[reaction.StoryID]
	if byKey == nil {
		byKey = make(map[reactionKey]*model.Reaction)
		s.reactions[reaction.StoryID] = byKey
	}
	key := reactionKey{playerID: reaction.PlayerID, kind: reaction.Kind}
	if _, ok := byKey[key]; ok {
		return nil
	}
	stored := *reaction
	byKey[key] = &stored
	s.publish(model.TableReactions, model.OpInsert, reaction.RoomID, string(reaction.StoryID))
	return nil
}

func (s *Storage) RemoveReaction(ctx context.Context, reaction *model.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reactionKey{playerID: reaction.PlayerID, kind: reaction.Kind}
	if _, ok := s.reactions[reaction.StoryID][key]; !ok {
		return nil
	}
	delete(s.reactions[reaction.StoryID], key)
	s.publish(model.TableReactions, model.OpDelete, reaction.RoomID, string(reaction.StoryID))
	return nil
}

func (s *Storage) ListReactions(ctx context.Context, storyID model.StoryID) ([]*model.Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reactions := make([]*model.Reaction, 0, len(s.reactions[storyID]))
	for _, r := range s.reactions[storyID] {
		stored := *r
		reactions = append(reactions, &stored)
	}
	model.SortReactions(reactions)
	return reactions, nil
}

func (s *Storage) ClearRound(ctx context.Context, roomID model.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.roomStories[roomID]) == 0 {
		return nil
	}
	s.clearRoundLocked(roomID)
	s.publish(model.TableStories, model.OpDelete, roomID, "")
	return nil
}

func (s *Storage) clearRoundLocked(roomID model.RoomID) {
	for _, id := range s.roomStories[roomID] {
		delete(s.stories, id)
		delete(s.guesses, id)
		delete(s.reactions, id)
	}
	delete(s.roomStories, roomID)
}

// Change feed

func (s *Storage) Subscribe(ctx context.Context, roomID model.RoomID) (storage.Subscription, error) {
	return s.feed.subscribe(ctx, roomID), nil
}

// Helpers

func cloneRoom(r *model.Room) *model.Room {
	c := *r
	c.Guessers = slices.Clone(r.Guessers)
	return &c
}

func clonePlayer(p *model.Player) *model.Player {
	c := *p
	return &c
}

func cloneStory(st *model.Story) *model.Story {
	c := *st
	return &c
}
