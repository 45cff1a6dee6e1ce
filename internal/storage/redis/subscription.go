package redis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/storyguess/internal/model"
)

// subscription adapts a Redis PubSub to storage.Subscription
type subscription struct {
	pubsub *redis.PubSub
	ch     chan model.Change
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.ch)
	msgs := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var change model.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				continue
			}
			select {
			case s.ch <- change:
			case <-s.done:
				return
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}
}

func (s *subscription) Changes() <-chan model.Change {
	return s.ch
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.pubsub.Close()
	})
	return s.err
}
