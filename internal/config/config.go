// Package config loads server settings from flags and STORYGUESS_ environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/mcoot/storyguess/internal/api"
	"github.com/mcoot/storyguess/internal/api/handler"
	"github.com/mcoot/storyguess/internal/factory"
	"github.com/mcoot/storyguess/internal/model"
	"github.com/mcoot/storyguess/internal/services/room"
	pgstorage "github.com/mcoot/storyguess/internal/storage/postgres"
	redisstorage "github.com/mcoot/storyguess/internal/storage/redis"
)

// EnvPrefix is prepended to every environment variable
const EnvPrefix = "STORYGUESS"

// Config holds server configuration
type Config struct {
	Addr      string
	LogLevel  string
	PublicURL string

	Storage     string
	RedisURL    string
	RedisTTL    time.Duration
	PostgresURL string

	StartCountdown         time.Duration
	GuessCountdown         time.Duration
	MinPlayers             int
	ResetScoresOnPlayAgain bool

	WSRate  float64
	WSBurst int
}

// Default returns the configuration used when nothing is set
func Default() Config {
	rc := room.DefaultConfig()
	ws := handler.DefaultWSConfig()
	return Config{
		Addr:                   ":8080",
		LogLevel:               "info",
		Storage:                factory.StorageTypeMemory,
		RedisURL:               redisstorage.DefaultConfig().URL,
		RedisTTL:               redisstorage.DefaultConfig().RoomTTL,
		PostgresURL:            pgstorage.DefaultConfig().URL,
		StartCountdown:         rc.StartCountdown,
		GuessCountdown:         rc.GuessCountdown,
		MinPlayers:             rc.MinPlayers,
		ResetScoresOnPlayAgain: rc.ResetScoresOnPlayAgain,
		WSRate:                 float64(ws.Rate),
		WSBurst:                ws.Burst,
	}
}

// Validate checks the configuration before the server starts
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("--addr must not be empty")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.Storage {
	case factory.StorageTypeMemory:
	case factory.StorageTypeRedis:
		if c.RedisURL == "" {
			return errors.New("--redis-url is required when --storage=redis")
		}
	case factory.StorageTypePostgres:
		if c.PostgresURL == "" {
			return errors.New("--postgres-url is required when --storage=postgres")
		}
	default:
		return fmt.Errorf("invalid storage %q (must be memory, redis or postgres)", c.Storage)
	}
	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid public url: %q", c.PublicURL)
		}
	}
	if c.StartCountdown <= 0 || c.GuessCountdown <= 0 {
		return errors.New("countdowns must be positive")
	}
	if c.MinPlayers < model.MinRoomCapacity || c.MinPlayers > model.MaxRoomCapacity {
		return fmt.Errorf("invalid min players (must be between %d-%d inclusive): %d",
			model.MinRoomCapacity, model.MaxRoomCapacity, c.MinPlayers)
	}
	if c.WSRate <= 0 || c.WSBurst < 1 {
		return errors.New("--ws-rate must be positive and --ws-burst at least 1")
	}
	return nil
}

// Level parses the log level
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}

// Room returns the game rules
func (c *Config) Room() room.Config {
	rc := room.DefaultConfig()
	rc.StartCountdown = c.StartCountdown
	rc.GuessCountdown = c.GuessCountdown
	rc.MinPlayers = c.MinPlayers
	rc.ResetScoresOnPlayAgain = c.ResetScoresOnPlayAgain
	return rc
}

// Factory returns the application factory settings
func (c *Config) Factory(logger *slog.Logger) factory.Config {
	fc := factory.Config{
		Logger:      logger,
		StorageType: c.Storage,
		Room:        c.Room(),
	}
	switch c.Storage {
	case factory.StorageTypeRedis:
		rc := redisstorage.DefaultConfig()
		rc.URL = c.RedisURL
		rc.RoomTTL = c.RedisTTL
		fc.RedisConfig = &rc
	case factory.StorageTypePostgres:
		pc := pgstorage.DefaultConfig()
		pc.URL = c.PostgresURL
		fc.PostgresConfig = &pc
	}
	return fc
}

// Server returns the HTTP server settings
func (c *Config) Server() api.ServerConfig {
	sc := api.DefaultServerConfig()
	sc.Addr = c.Addr
	return sc
}

// WebSocket returns the per-connection websocket limits
func (c *Config) WebSocket() handler.WSConfig {
	return handler.WSConfig{Rate: rate.Limit(c.WSRate), Burst: c.WSBurst}
}

// Bind registers every setting as a flag on cmd and lets STORYGUESS_*
// environment variables fill in flags that were not given
func Bind(cmd *cobra.Command, cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	d := Default()
	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Addr, "addr", "a", d.Addr, "address to listen on (env: STORYGUESS_ADDR)")
	fs.StringVar(&cfg.LogLevel, "log-level", d.LogLevel, "debug, info, warn or error (env: STORYGUESS_LOG_LEVEL)")
	fs.StringVar(&cfg.PublicURL, "public-url", d.PublicURL, "base URL for join links, derived from requests if empty (env: STORYGUESS_PUBLIC_URL)")
	fs.StringVar(&cfg.Storage, "storage", d.Storage, "room store backend: memory, redis or postgres (env: STORYGUESS_STORAGE)")
	fs.StringVar(&cfg.RedisURL, "redis-url", d.RedisURL, "redis connection URL (env: STORYGUESS_REDIS_URL)")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", d.RedisTTL, "idle room lifetime in redis (env: STORYGUESS_REDIS_TTL)")
	fs.StringVar(&cfg.PostgresURL, "postgres-url", d.PostgresURL, "postgres connection URL (env: STORYGUESS_POSTGRES_URL)")
	fs.DurationVar(&cfg.StartCountdown, "start-countdown", d.StartCountdown, "lobby countdown once everyone is ready (env: STORYGUESS_START_COUNTDOWN)")
	fs.DurationVar(&cfg.GuessCountdown, "guess-countdown", d.GuessCountdown, "time allowed to guess each story (env: STORYGUESS_GUESS_COUNTDOWN)")
	fs.IntVar(&cfg.MinPlayers, "min-players", d.MinPlayers, "players needed to start (env: STORYGUESS_MIN_PLAYERS)")
	fs.BoolVar(&cfg.ResetScoresOnPlayAgain, "reset-scores-on-play-again", d.ResetScoresOnPlayAgain, "zero scores when a new round starts (env: STORYGUESS_RESET_SCORES_ON_PLAY_AGAIN)")
	fs.Float64Var(&cfg.WSRate, "ws-rate", d.WSRate, "websocket actions per second per connection (env: STORYGUESS_WS_RATE)")
	fs.IntVar(&cfg.WSBurst, "ws-burst", d.WSBurst, "websocket action burst per connection (env: STORYGUESS_WS_BURST)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}
