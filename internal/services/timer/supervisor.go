package timer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/storyguess/internal/dependencies/clock"
	"github.com/mcoot/storyguess/internal/model"
)

// DefaultRetryDelay is how long a loop waits after a failed advance
const DefaultRetryDelay = time.Second

// Advancer applies expired deadlines for a room and reports the next one
type Advancer interface {
	Advance(ctx context.Context, roomID model.RoomID) (next time.Time, ok bool, err error)
}

// RoomLister lists every room that may have a pending deadline
type RoomLister interface {
	ListRoomIDs(ctx context.Context) ([]model.RoomID, error)
}

// Supervisor runs one goroutine per room with a pending deadline. Each loop
// sleeps until the room's next deadline, advances the room, and exits once
// nothing is pending.
type Supervisor struct {
	advancer   Advancer
	clock      clock.Clock
	logger     *slog.Logger
	retryDelay time.Duration

	mu      sync.Mutex
	loops   map[model.RoomID]chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a new Supervisor
func New(advancer Advancer, clock clock.Clock, logger *slog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		advancer:   advancer,
		clock:      clock,
		logger:     logger,
		retryDelay: DefaultRetryDelay,
		loops:      make(map[model.RoomID]chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetRetryDelay overrides the delay after a failed advance
func (s *Supervisor) SetRetryDelay(d time.Duration) {
	s.retryDelay = d
}

// Schedule makes sure a loop is running for the room and has it recompute
// its next deadline
func (s *Supervisor) Schedule(roomID model.RoomID) {
	s.Wake(roomID)
}

// Wake unblocks the room's loop, starting one if none is running
func (s *Supervisor) Wake(roomID model.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	wake, ok := s.loops[roomID]
	if !ok {
		wake = make(chan struct{}, 1)
		s.loops[roomID] = wake
		s.wg.Add(1)
		go s.run(roomID, wake)
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

// Active reports whether a loop is running for the room
func (s *Supervisor) Active(roomID model.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[roomID]
	return ok
}

// Resume starts a loop for every stored room so deadlines survive a restart
func (s *Supervisor) Resume(ctx context.Context, rooms RoomLister) error {
	ids, err := rooms.ListRoomIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.Wake(id)
	}
	s.logger.Info("timer supervisor resumed", slog.Int("rooms", len(ids)))
	return nil
}

// Stop ends every loop and waits for them to exit
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// finish removes the loop unless a wake arrived since the last advance
func (s *Supervisor) finish(roomID model.RoomID, wake chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-wake:
		return false
	default:
	}
	delete(s.loops, roomID)
	return true
}

func (s *Supervisor) run(roomID model.RoomID, wake chan struct{}) {
	defer s.wg.Done()

	for {
		var wait time.Duration
		next, ok, err := s.advancer.Advance(s.ctx, roomID)
		switch {
		case s.ctx.Err() != nil:
			s.finish(roomID, wake)
			return
		case errors.Is(err, model.ErrRoomNotFound), err == nil && !ok:
			if s.finish(roomID, wake) {
				return
			}
			continue
		case err != nil:
			s.logger.Error("failed to advance room",
				slog.String("room_id", string(roomID)),
				slog.String("error", err.Error()),
			)
			wait = s.retryDelay
		default:
			wait = max(next.Sub(s.clock.Now()), 0)
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			s.finish(roomID, wake)
			return
		case <-timer.C:
		case <-wake:
			timer.Stop()
		}
	}
}
