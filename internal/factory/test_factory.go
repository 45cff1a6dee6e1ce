package factory

import (
	"context"
	"errors"
	"time"

	"github.com/mcoot/storyguess/internal/dependencies/mocks"
	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/services/room"
	"github.com/mcoot/storyguess/internal/storage/memory"
	"github.com/mcoot/storyguess/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates an App configured for testing with mocked dependencies.
// The supervisor is not started; tests drive deadlines with ExpireDeadlines.
func NewTestApp() *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	app := newWithDependencies(store, mockClock, mockRandom, room.DefaultConfig(), testutil.NopLogger())

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}

// ExpireDeadlines advances the mock clock by d and applies whatever deadline
// has passed for every room, the way the supervisor would
func (t *TestApp) ExpireDeadlines(ctx context.Context, d time.Duration) error {
	t.MockClock.Advance(d)

	ids, err := t.Storage.ListRoomIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, _, err := t.RoomController.Advance(ctx, id); err != nil && !errors.Is(err, model.ErrRoomNotFound) {
			return err
		}
	}
	return nil
}
