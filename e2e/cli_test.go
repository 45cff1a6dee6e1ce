package e2e_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/storyguess/internal/api"
	"github.com/mcoot/storyguess/internal/api/response"
	"github.com/mcoot/storyguess/internal/factory"
	"github.com/mcoot/storyguess/internal/testutil"
)

// cliRunner manages CLI binary execution for one player device
type cliRunner struct {
	binaryPath string
	serverURL  string
	idFile     string
}

func buildCLI(t *testing.T) string {
	t.Helper()

	projectRoot := findProjectRoot(t)
	binaryPath := filepath.Join(t.TempDir(), "storyguess-test")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/storyguess")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build CLI: %s", string(output))
	return binaryPath
}

func newCLIRunner(t *testing.T, binaryPath, serverURL string) *cliRunner {
	t.Helper()
	return &cliRunner{
		binaryPath: binaryPath,
		serverURL:  serverURL,
		idFile:     filepath.Join(t.TempDir(), "id"),
	}
}

func (r *cliRunner) run(args ...string) (string, error) {
	fullArgs := append([]string{
		"--server", r.serverURL,
		"--id-file", r.idFile,
		"--output", "json",
	}, args...)

	cmd := exec.Command(r.binaryPath, fullArgs...)
	cmd.Env = append(os.Environ(), "STORYGUESS_ID=")
	output, err := cmd.Output()
	return string(output), err
}

// mustRun runs a command and decodes its JSON output into out
func (r *cliRunner) mustRun(t *testing.T, out any, args ...string) {
	t.Helper()
	output, err := r.run(args...)
	require.NoError(t, err, "output: %s", output)
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(output), out), "output: %s", output)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// startTestServer runs the production wiring on a free port
func startTestServer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	logger := testutil.NopLogger()

	app, err := factory.New(ctx, factory.Config{Logger: logger})
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx))

	router := api.NewRouter(api.RouterConfig{
		Logger:      logger,
		Coordinator: app.Coordinator,
		HubManager:  app.HubManager,
		StorageName: factory.StorageTypeMemory,
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := api.NewServer(router, api.DefaultServerConfig(), logger)
	go func() {
		if err := server.Serve(listener); err != nil {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := "http://" + listener.Addr().String()
	waitForServer(t, serverURL+"/api/v1/health")

	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		_ = app.Close()
	})
	return serverURL
}

func waitForServer(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 100 * time.Millisecond}
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatal("server did not become ready in time")
}

type messageResponse struct {
	Message string `json:"message"`
}

// Tests

func TestCLI_HealthCheck(t *testing.T) {
	serverURL := startTestServer(t)
	cli := newCLIRunner(t, buildCLI(t), serverURL)

	var resp response.Health
	cli.mustRun(t, &resp, "health")
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "memory", resp.Storage)
}

func TestCLI_IdentityPersists(t *testing.T) {
	serverURL := startTestServer(t)
	cli := newCLIRunner(t, buildCLI(t), serverURL)

	var first, second messageResponse
	cli.mustRun(t, &first, "whoami")
	cli.mustRun(t, &second, "whoami")
	assert.NotEmpty(t, first.Message)
	assert.Equal(t, first.Message, second.Message)
}

func TestCLI_RoomCommands(t *testing.T) {
	serverURL := startTestServer(t)
	cli := newCLIRunner(t, buildCLI(t), serverURL)

	var created response.RoomDetail
	cli.mustRun(t, &created, "room", "create", "Board Game Club", "--max-players", "4")
	assert.Equal(t, "lobby", created.Phase)
	assert.Equal(t, 4, created.MaxPlayers)
	assert.NotEmpty(t, created.JoinURL)

	var player response.Player
	cli.mustRun(t, &player, "join", created.Code, "Alice")
	assert.Equal(t, "Alice", player.Name)
	assert.True(t, player.IsHost)

	var detail response.RoomDetail
	cli.mustRun(t, &detail, "room", "get", created.Code)
	require.Len(t, detail.Players, 1)

	qrFile := filepath.Join(t.TempDir(), "join.png")
	cli.mustRun(t, nil, "room", "qr", created.Code, "--file", qrFile)
	info, err := os.Stat(qrFile)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	var msg messageResponse
	cli.mustRun(t, &msg, "leave", created.Code)
	assert.Equal(t, "Left room", msg.Message)

	// The room is gone once empty
	_, err = cli.run("room", "get", created.Code)
	assert.Error(t, err)
}

func TestCLI_FullRound(t *testing.T) {
	serverURL := startTestServer(t)
	binary := buildCLI(t)
	clis := []*cliRunner{
		newCLIRunner(t, binary, serverURL),
		newCLIRunner(t, binary, serverURL),
		newCLIRunner(t, binary, serverURL),
	}
	names := []string{"Alice", "Bob", "Carol"}

	var created response.RoomDetail
	clis[0].mustRun(t, &created, "room", "create", "Story Night")
	code := created.Code

	for i, c := range clis {
		c.mustRun(t, nil, "join", code, names[i])
		c.mustRun(t, nil, "ready", code)
	}

	// The host skips the countdown
	clis[0].mustRun(t, nil, "start", code)

	for i, c := range clis {
		var story response.Story
		c.mustRun(t, &story, "story", code, names[i]+" once got lost in a museum", "--genre", "adventure")
		assert.NotEmpty(t, story.ID)
	}

	// Find the author and the active story
	var authorID, storyID string
	var guessers []*cliRunner
	for _, c := range clis {
		var snap response.Snapshot
		c.mustRun(t, &snap, "state", code)
		require.Equal(t, "guessing", snap.Phase)
		require.NotNil(t, snap.ActiveStory)
		storyID = snap.ActiveStory.ID
		if snap.ActiveStory.IsOwn {
			authorID = snap.Self.ID
		} else {
			guessers = append(guessers, c)
		}
	}
	require.NotEmpty(t, authorID)
	require.Len(t, guessers, 2)

	var reaction response.Reaction
	guessers[0].mustRun(t, &reaction, "react", code, storyID, "fire")
	assert.True(t, reaction.Active)

	for _, g := range guessers {
		var guess response.Guess
		g.mustRun(t, &guess, "guess", code, storyID, authorID)
		assert.Equal(t, storyID, guess.StoryID)
	}

	var results struct {
		Results []response.GuessResult `json:"results"`
	}
	clis[0].mustRun(t, &results, "results", code)
	require.Len(t, results.Results, 2)
	for _, r := range results.Results {
		assert.True(t, r.IsCorrect)
	}

	clis[1].mustRun(t, nil, "play-again", code)

	var snap response.Snapshot
	clis[2].mustRun(t, &snap, "state", code)
	assert.Equal(t, "lobby", snap.Phase)
}
