package redis

import (
	"fmt"

	"github.com/mcoot/storyguess/internal/model"
)

// Key prefix for all game-related data
const keyPrefix = "storyguess"

// roomKey returns the Redis key for a Room
func roomKey(id model.RoomID) string {
	return fmt.Sprintf("%s:room:%s", keyPrefix, id)
}

// roomCodeIndexKey returns the Redis key for the code -> room_id index
func roomCodeIndexKey(code model.RoomCode) string {
	return fmt.Sprintf("%s:idx:room_code:%s", keyPrefix, code)
}

// roomsIndexKey returns the Redis key for the SET of all room ids
func roomsIndexKey() string {
	return fmt.Sprintf("%s:idx:rooms", keyPrefix)
}

// playersKey returns the Redis key for the HASH of local_id -> Player in a room
func playersKey(roomID model.RoomID) string {
	return fmt.Sprintf("%s:players:%s", keyPrefix, roomID)
}

// storyKey returns the Redis key for a Story
func storyKey(id model.StoryID) string {
	return fmt.Sprintf("%s:story:%s", keyPrefix, id)
}

// roomStoriesIndexKey returns the Redis key for the SET of story ids in a room
func roomStoriesIndexKey(roomID model.RoomID) string {
	return fmt.Sprintf("%s:idx:room_stories:%s", keyPrefix, roomID)
}

// authorStoryIndexKey returns the Redis key for the HASH of author -> unrevealed story id
func authorStoryIndexKey(roomID model.RoomID) string {
	return fmt.Sprintf("%s:idx:author_story:%s", keyPrefix, roomID)
}

// guessesKey returns the Redis key for the HASH of player_id -> Guess for a story
func guessesKey(storyID model.StoryID) string {
	return fmt.Sprintf("%s:guesses:%s", keyPrefix, storyID)
}

// reactionsKey returns the Redis key for the HASH of player_id:kind -> Reaction for a story
func reactionsKey(storyID model.StoryID) string {
	return fmt.Sprintf("%s:reactions:%s", keyPrefix, storyID)
}

// reactionField returns the hash field for one player's reaction kind
func reactionField(playerID model.PlayerID, kind model.ReactionKind) string {
	return fmt.Sprintf("%s:%s", playerID, kind)
}

// seqKey returns the Redis key for the counter ordering players and stories
func seqKey() string {
	return fmt.Sprintf("%s:seq", keyPrefix)
}

// changesChannel returns the pub/sub channel carrying a room's changes
func changesChannel(roomID model.RoomID) string {
	return fmt.Sprintf("%s:changes:%s", keyPrefix, roomID)
}
