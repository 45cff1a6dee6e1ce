package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mcoot/storyguess/internal/api/sse"
	"github.com/mcoot/storyguess/internal/dependencies/clock"
	"github.com/mcoot/storyguess/internal/dependencies/random"
	"github.com/mcoot/storyguess/internal/services/room"
	"github.com/mcoot/storyguess/internal/services/scoring"
	"github.com/mcoot/storyguess/internal/services/session"
	"github.com/mcoot/storyguess/internal/services/timer"
	"github.com/mcoot/storyguess/internal/storage"
	"github.com/mcoot/storyguess/internal/storage/memory"
	pgstorage "github.com/mcoot/storyguess/internal/storage/postgres"
	redisstorage "github.com/mcoot/storyguess/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	ScoringService *scoring.Service
	RoomController *room.Controller
	Coordinator    *session.Coordinator
	Supervisor     *timer.Supervisor
	HubManager     *sse.HubManager

	logger *slog.Logger
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory", "redis" or "postgres")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// PostgresConfig holds Postgres connection settings (required if StorageType is "postgres")
	PostgresConfig *pgstorage.Config
	// Room holds game timing and capacity rules
	// If zero value, defaults to room.DefaultConfig()
	Room room.Config
}

// New creates a new application with all dependencies wired. Deadlines are
// not run until Start is called.
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	store, err := newStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	roomCfg := cfg.Room
	if roomCfg == (room.Config{}) {
		roomCfg = room.DefaultConfig()
	}

	return newWithDependencies(store, clock.New(), random.New(), roomCfg, logger), nil
}

func newStorage(ctx context.Context, cfg Config) (storage.Storage, error) {
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		return memory.New(), nil
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		return redisstorage.New(*cfg.RedisConfig)
	case StorageTypePostgres:
		if cfg.PostgresConfig == nil {
			return nil, errors.New("PostgresConfig required when StorageType is postgres")
		}
		return pgstorage.New(ctx, *cfg.PostgresConfig)
	default:
		return nil, fmt.Errorf("invalid StorageType %q: must be 'memory', 'redis' or 'postgres'", storageType)
	}
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(store storage.Storage, clk clock.Clock, rnd random.Random, roomCfg room.Config, logger *slog.Logger) *App {
	scoringService := scoring.New()
	roomController := room.NewController(store, scoringService, clk, rnd, roomCfg, logger)
	coordinator := session.NewCoordinator(roomController, store, scoringService, clk, logger)
	supervisor := timer.New(roomController, clk, logger)
	hubManager := sse.NewHubManager(store, logger)

	return &App{
		Storage:        store,
		Clock:          clk,
		Random:         rnd,
		ScoringService: scoringService,
		RoomController: roomController,
		Coordinator:    coordinator,
		Supervisor:     supervisor,
		HubManager:     hubManager,
		logger:         logger,
	}
}

// Start hands room deadlines to the supervisor and resumes any that were
// pending when the process last stopped
func (a *App) Start(ctx context.Context) error {
	a.RoomController.SetScheduler(a.Supervisor)
	if err := a.Supervisor.Resume(ctx, a.Storage); err != nil {
		return fmt.Errorf("resume deadlines: %w", err)
	}
	return nil
}

// Close stops background work and releases the storage backend
func (a *App) Close() error {
	a.Supervisor.Stop()
	a.HubManager.Close()
	if closer, ok := a.Storage.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
