package request

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"max_players,omitempty"`
}

// JoinRequest is the request body for joining a room
type JoinRequest struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ReadyRequest is the request body for setting the ready flag
type ReadyRequest struct {
	Ready bool `json:"ready"`
}

// StoryRequest is the request body for submitting a story
type StoryRequest struct {
	Content string `json:"content"`
	Genre   string `json:"genre,omitempty"`
}

// GuessRequest is the request body for guessing a story's author
type GuessRequest struct {
	StoryID         string `json:"story_id"`
	GuessedAuthorID string `json:"guessed_author_id"`
}

// ReactionRequest is the request body for toggling a reaction
type ReactionRequest struct {
	StoryID string `json:"story_id"`
	Kind    string `json:"kind"`
}
