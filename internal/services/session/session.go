package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/storage"
)

const eventBuffer = 16

// Event is a normalized room change with the viewer's fresh snapshot.
// Snapshot is nil for room_closed.
type Event struct {
	Type     model.EventType
	RoomCode model.RoomCode
	Phase    model.Phase
	Table    model.Table
	RecordID string
	Snapshot *Snapshot
}

// Session is one viewer's live view of a room
type Session struct {
	coord   *Coordinator
	code    model.RoomCode
	roomID  model.RoomID
	localID model.LocalID
	sub     storage.Subscription

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	lastPhase model.Phase
}

func newSession(coord *Coordinator, r *model.Room, localID model.LocalID, sub storage.Subscription) *Session {
	return &Session{
		coord:     coord,
		code:      r.Code,
		roomID:    r.ID,
		localID:   localID,
		sub:       sub,
		events:    make(chan Event, eventBuffer),
		done:      make(chan struct{}),
		lastPhase: r.Phase,
	}
}

// RoomCode returns the code of the session's room
func (s *Session) RoomCode() model.RoomCode {
	return s.code
}

// LocalID returns the viewer's local id
func (s *Session) LocalID() model.LocalID {
	return s.localID
}

// Events yields one event per store change. The channel closes when the
// session ends.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Snapshot returns the viewer's current snapshot
func (s *Session) Snapshot(ctx context.Context) (*Snapshot, error) {
	return s.coord.Snapshot(ctx, s.code, s.localID)
}

// Close ends the session
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.sub.Close()
	})
	return err
}

func (s *Session) run(ctx context.Context) {
	defer close(s.events)
	defer func() { _ = s.Close() }()

	for {
		var change model.Change
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case c, ok := <-s.sub.Changes():
			if !ok {
				return
			}
			change = c
		}

		ev, closed, err := s.eventFor(ctx, change)
		if err != nil {
			s.coord.logger.Warn("failed to build session event",
				slog.String("room_code", string(s.code)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !s.send(ctx, ev) || closed {
			return
		}
	}
}

// eventFor refetches the snapshot and classifies the change. closed reports
// that the room is gone.
func (s *Session) eventFor(ctx context.Context, change model.Change) (Event, bool, error) {
	ev := Event{
		Type:     model.EventTypeForChange(change),
		RoomCode: s.code,
		Table:    change.Table,
		RecordID: change.RecordID,
	}
	if ev.Type == model.EventRoomClosed {
		return ev, true, nil
	}

	snap, err := s.coord.Snapshot(ctx, s.code, s.localID)
	if errors.Is(err, model.ErrRoomNotFound) {
		ev.Type = model.EventRoomClosed
		return ev, true, nil
	}
	if err != nil {
		return Event{}, false, err
	}

	ev.Phase = snap.Phase
	ev.Snapshot = snap
	if change.Table == model.TableRooms && snap.Phase != s.lastPhase {
		ev.Type = model.EventPhaseChanged
	}
	s.lastPhase = snap.Phase
	return ev, false, nil
}

func (s *Session) send(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}
