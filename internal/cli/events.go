package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/storyguess/internal/api/response"
)

const eventRoomClosed = "room_closed"

func newEventsCmd() *cobra.Command {
	var (
		jsonOutput bool
		withState  bool
	)

	cmd := &cobra.Command{
		Use:   "events <code>",
		Short: "Follow a room's live event stream",
		Long: `Open the room's server-sent event stream and print each signal as it arrives.

Signals:
  connected          stream opened
  players_changed    someone joined, left, readied up, or scored
  phase_changed      the room moved to a new phase
  room_updated       a countdown or deadline changed
  story_changed      a story was written or revealed
  guesses_changed    a guess was recorded
  reactions_changed  a reaction was toggled
  room_closed        the last player left

Signals carry no state. Pass --state to refetch and print your view of the
room after each one. Press Ctrl+C to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return followRoom(cmd, args[0], jsonOutput, withState)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print signals as JSON lines")
	cmd.Flags().BoolVar(&withState, "state", false, "Print the room state after every signal")

	return cmd
}

// sseFrame is one dispatched server-sent event
type sseFrame struct {
	Received time.Time `json:"received"`
	Event    string    `json:"event"`
	Data     string    `json:"data,omitempty"`
}

var errStopStream = errors.New("stop stream")

// readFrames calls fn for every complete frame in r until r ends or fn
// returns errStopStream. Comment lines and frames without an event name are
// skipped.
func readFrames(r io.Reader, fn func(sseFrame) error) error {
	scanner := bufio.NewScanner(r)
	var (
		name string
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name != "" {
				err := fn(sseFrame{Received: time.Now(), Event: name, Data: strings.Join(data, "\n")})
				if errors.Is(err, errStopStream) {
					return nil
				}
				if err != nil {
					return err
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

func followRoom(cmd *cobra.Command, code string, jsonOutput, withState bool) error {
	ctx := cmd.Context()
	endpoint := strings.TrimSuffix(cfg.ServerURL, "/") + roomPath(code, "/events")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if cfg.LocalID != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.LocalID)
	}

	// The stream stays open until the room closes or ctx ends
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	out := NewOutput(cfg.Output)
	if !jsonOutput {
		fmt.Printf("Following room %s\n", strings.ToUpper(code))
	}

	err = readFrames(resp.Body, func(f sseFrame) error {
		printFrame(f, jsonOutput)
		if f.Event == eventRoomClosed {
			return errStopStream
		}
		if withState && f.Event != "connected" {
			var snap response.Snapshot
			if err := client.Get(roomPath(code, "/state"), &snap); err != nil {
				return err
			}
			out.Print(snap)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream error: %w", err)
	}

	if !jsonOutput {
		fmt.Println("Disconnected")
	}
	return nil
}

func printFrame(f sseFrame, jsonOutput bool) {
	if jsonOutput {
		line, _ := json.Marshal(f)
		fmt.Println(string(line))
		return
	}
	fmt.Printf("[%s] %s\n", f.Received.Format("15:04:05"), f.Event)
}
