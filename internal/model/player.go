package model

import "time"

// PlayerID is the server-assigned identifier of a player within a room
type PlayerID string

// LocalID is the client-generated opaque identity of a participant
type LocalID string

const (
	MaxNameLength = 24
	DefaultAvatar = "😊"
)

// Player is one participant in one room
type Player struct {
	ID       PlayerID
	RoomID   RoomID
	LocalID  LocalID
	Name     string
	Avatar   string
	IsHost   bool
	IsReady  bool
	Score    int
	Seq      int64 // join order, assigned by the store
	JoinedAt time.Time
}

// SortPlayers orders players by join order
func SortPlayers(players []*Player) {
	sortBySeq(players, func(p *Player) int64 { return p.Seq })
}

// FindPlayer returns the player with the given id, or nil
func FindPlayer(players []*Player, id PlayerID) *Player {
	for _, p := range players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// FindLocalPlayer returns the player with the given local id, or nil
func FindLocalPlayer(players []*Player, localID LocalID) *Player {
	for _, p := range players {
		if p.LocalID == localID {
			return p
		}
	}
	return nil
}
