package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/storyguess/internal/factory"
)

func bound(t *testing.T, args ...string) *Config {
	t.Helper()
	cfg := &Config{}
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	Bind(cmd, cfg)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return cfg
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := bound(t)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, factory.StorageTypeMemory, cfg.Storage)
	assert.Equal(t, 5*time.Second, cfg.StartCountdown)
	assert.Equal(t, 10*time.Second, cfg.GuessCountdown)
	assert.Equal(t, 3, cfg.MinPlayers)
}

func TestFlagsOverrideDefaults(t *testing.T) {
	cfg := bound(t, "--addr", "127.0.0.1:9000", "--guess-countdown", "30s", "--reset-scores-on-play-again")

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.GuessCountdown)
	assert.True(t, cfg.ResetScoresOnPlayAgain)
	assert.True(t, cfg.Room().ResetScoresOnPlayAgain)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server().Addr)
}

func TestEnvironmentFillsUnsetFlags(t *testing.T) {
	t.Setenv("STORYGUESS_STORAGE", "redis")
	t.Setenv("STORYGUESS_REDIS_URL", "redis://cache:6379/2")
	t.Setenv("STORYGUESS_START_COUNTDOWN", "2s")
	t.Setenv("STORYGUESS_ADDR", ":7000")

	cfg := bound(t, "--addr", ":9999")

	// Flags win over the environment
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "redis", cfg.Storage)
	assert.Equal(t, 2*time.Second, cfg.StartCountdown)

	fc := cfg.Factory(slog.Default())
	require.NotNil(t, fc.RedisConfig)
	assert.Equal(t, "redis://cache:6379/2", fc.RedisConfig.URL)
	assert.Nil(t, fc.PostgresConfig)
	assert.Equal(t, 2*time.Second, fc.Room.StartCountdown)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"unknown storage", func(c *Config) { c.Storage = "sqlite" }},
		{"redis without url", func(c *Config) { c.Storage = "redis"; c.RedisURL = "" }},
		{"postgres without url", func(c *Config) { c.Storage = "postgres"; c.PostgresURL = "" }},
		{"relative public url", func(c *Config) { c.PublicURL = "/join" }},
		{"zero countdown", func(c *Config) { c.StartCountdown = 0 }},
		{"too few min players", func(c *Config) { c.MinPlayers = 2 }},
		{"too many min players", func(c *Config) { c.MinPlayers = 6 }},
		{"zero ws burst", func(c *Config) { c.WSBurst = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}
