package memory

import (
	"context"
	"sync"

	"github.com/mcoot/storyguess/internal/model"
)

const subscriberBuffer = 32

// feed fans changes out to per-room subscribers
type feed struct {
	mu   sync.Mutex
	subs map[model.RoomID]map[*subscription]struct{}
}

func newFeed() *feed {
	return &feed{subs: make(map[model.RoomID]map[*subscription]struct{})}
}

func (f *feed) subscribe(ctx context.Context, roomID model.RoomID) *subscription {
	sub := &subscription{
		feed:   f,
		roomID: roomID,
		ch:     make(chan model.Change, subscriberBuffer),
	}
	f.mu.Lock()
	if f.subs[roomID] == nil {
		f.subs[roomID] = make(map[*subscription]struct{})
	}
	f.subs[roomID][sub] = struct{}{}
	f.mu.Unlock()

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			_ = sub.Close()
		}()
	}
	return sub
}

func (f *feed) publish(change model.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[change.RoomID] {
		select {
		case sub.ch <- change:
		default:
			// Lagging subscriber: drop the oldest so the latest change still lands
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- change:
			default:
			}
		}
	}
}

func (f *feed) remove(sub *subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs, ok := f.subs[sub.roomID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(f.subs, sub.roomID)
	}
}

type subscription struct {
	feed   *feed
	roomID model.RoomID
	ch     chan model.Change
	once   sync.Once
}

func (s *subscription) Changes() <-chan model.Change {
	return s.ch
}

func (s *subscription) Close() error {
	s.once.Do(func() { s.feed.remove(s) })
	return nil
}
