package postgres

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/mcoot/storyguess/internal/model"
)

// subscription adapts a LISTENing connection to storage.Subscription
type subscription struct {
	conn   *pgx.Conn
	ch     chan model.Change
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)
	defer s.conn.Close(context.Background())

	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			return
		}
		var change model.Change
		if err := json.Unmarshal([]byte(n.Payload), &change); err != nil {
			continue
		}
		select {
		case s.ch <- change:
		case <-ctx.Done():
			return
		}
	}
}

func (s *subscription) Changes() <-chan model.Change {
	return s.ch
}

func (s *subscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}
