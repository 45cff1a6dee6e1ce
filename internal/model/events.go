package model

import "time"

// Table names the kind of record a change touched
type Table string

const (
	TableRooms     Table = "rooms"
	TablePlayers   Table = "players"
	TableStories   Table = "stories"
	TableGuesses   Table = "guesses"
	TableReactions Table = "reactions"
)

// ChangeOp is the kind of write that produced a change
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change is a notification emitted by the room store after every write
type Change struct {
	Table    Table
	Op       ChangeOp
	RoomID   RoomID
	RecordID string
	At       time.Time
}

// EventType identifies the type of outbound event
type EventType string

const (
	EventRoomUpdated      EventType = "room_updated"
	EventPhaseChanged     EventType = "phase_changed"
	EventPlayersChanged   EventType = "players_changed"
	EventStoryChanged     EventType = "story_changed"
	EventGuessesChanged   EventType = "guesses_changed"
	EventReactionsChanged EventType = "reactions_changed"
	EventRoomClosed       EventType = "room_closed"
)

// EventTypeForChange maps a store change to the event clients see.
// Room updates that move the phase are reported separately by the caller.
func EventTypeForChange(c Change) EventType {
	switch c.Table {
	case TableRooms:
		if c.Op == OpDelete {
			return EventRoomClosed
		}
		return EventRoomUpdated
	case TablePlayers:
		return EventPlayersChanged
	case TableStories:
		return EventStoryChanged
	case TableGuesses:
		return EventGuessesChanged
	case TableReactions:
		return EventReactionsChanged
	}
	return EventRoomUpdated
}
