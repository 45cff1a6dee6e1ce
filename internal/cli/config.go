package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Config holds CLI configuration
type Config struct {
	ServerURL string
	// LocalID is this device's player identity
	LocalID string
	IDFile  string
	Output  string
	Verbose bool
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		ServerURL: getEnvOrDefault("STORYGUESS_SERVER", "http://localhost:8080"),
		LocalID:   os.Getenv("STORYGUESS_ID"),
		IDFile:    getEnvOrDefault("STORYGUESS_ID_FILE", defaultIDFile()),
		Output:    "text",
		Verbose:   false,
	}
}

// LoadLocalID reads the identity from file if not already set. A new
// identity is generated and saved the first time.
func (c *Config) LoadLocalID() error {
	if c.LocalID != "" {
		return nil
	}

	data, err := os.ReadFile(c.IDFile)
	if err == nil {
		c.LocalID = strings.TrimSpace(string(data))
		if c.LocalID != "" {
			return nil
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	return c.SaveLocalID(uuid.NewString())
}

// SaveLocalID saves the identity to the id file
func (c *Config) SaveLocalID(id string) error {
	c.LocalID = id

	dir := filepath.Dir(c.IDFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	return os.WriteFile(c.IDFile, []byte(id), 0600)
}

func defaultIDFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".storyguess/id"
	}
	return filepath.Join(home, ".storyguess", "id")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
