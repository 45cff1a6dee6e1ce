package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mcoot/storyguess/internal/api/response"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
}

// NewOutput creates a new Output formatter
func NewOutput(format string) *Output {
	return &Output{format: format}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Println(string(data))
	} else {
		fmt.Println(msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.RoomDetail:
		o.printRoom(v)
	case response.Player:
		o.printPlayer(v)
	case response.Story:
		fmt.Printf("Story submitted: %s\n", v.ID)
	case response.Guess:
		fmt.Printf("Guess recorded for story %s\n", v.StoryID)
	case response.Reaction:
		state := "removed"
		if v.Active {
			state = "added"
		}
		fmt.Printf("Reaction %s %s\n", v.Kind, state)
	case response.Snapshot:
		o.printSnapshot(v)
	case ResultsResult:
		o.printResults(v.Results)
	case response.Health:
		fmt.Printf("Status: %s\n", v.Status)
		fmt.Printf("Storage: %s\n", v.Storage)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// ResultsResult is the results endpoint body
type ResultsResult struct {
	Results []response.GuessResult `json:"results"`
}

func (o *Output) printPlayer(p response.Player) {
	hostStr := ""
	if p.IsHost {
		hostStr = " [host]"
	}
	fmt.Printf("Player: %s %s (%s)%s\n", p.Avatar, p.Name, p.ID, hostStr)
}

func (o *Output) printRoom(r response.RoomDetail) {
	fmt.Printf("Room: %s (%s)\n", r.Name, r.Code)
	fmt.Printf("Phase: %s\n", r.Phase)
	fmt.Printf("Players: %d/%d (need %d)\n", len(r.Players), r.MaxPlayers, r.MinPlayers)
	if r.JoinURL != "" {
		fmt.Printf("Join: %s\n", r.JoinURL)
	}
	for _, p := range r.Players {
		fmt.Printf("  - %s\n", playerLine(p))
	}
}

func playerLine(p response.Player) string {
	var tags []string
	if p.IsHost {
		tags = append(tags, "host")
	}
	if p.IsReady {
		tags = append(tags, "ready")
	}
	if p.HasSubmitted {
		tags = append(tags, "written")
	}
	if p.HasGuessed {
		tags = append(tags, "guessed")
	}
	line := fmt.Sprintf("%s %s (%d pts)", p.Avatar, p.Name, p.Score)
	if len(tags) > 0 {
		line += " [" + strings.Join(tags, ", ") + "]"
	}
	return line
}

func (o *Output) printSnapshot(s response.Snapshot) {
	fmt.Printf("Room: %s (%s)\n", s.RoomName, s.RoomCode)
	fmt.Printf("Phase: %s (round %d)\n", s.Phase, s.Round)
	if s.CountdownRemainingMS > 0 {
		fmt.Printf("Starting in: %.1fs\n", float64(s.CountdownRemainingMS)/1000)
	}
	if s.GuessRemainingMS > 0 {
		fmt.Printf("Guess time left: %.1fs\n", float64(s.GuessRemainingMS)/1000)
	}
	if s.Self != nil {
		fmt.Printf("You: %s\n", playerLine(*s.Self))
	} else {
		fmt.Println("You: not in this room")
	}

	fmt.Printf("Players (%d):\n", len(s.Players))
	for _, p := range s.Players {
		fmt.Printf("  - %s\n", playerLine(p))
	}

	if s.MyStory != nil {
		fmt.Printf("Your story: %s\n", s.MyStory.Content)
	}
	if a := s.ActiveStory; a != nil {
		fmt.Printf("\nStory %s: %q\n", a.ID, a.Content)
		if a.Genre != "" {
			fmt.Printf("Genre: %s\n", a.Genre)
		}
		if a.IsRevealed {
			fmt.Printf("Written by: %s\n", a.AuthorName)
		} else if a.IsOwn {
			fmt.Println("This is your story")
		}
	}
	if s.CanGuess {
		fmt.Println("Who wrote it?")
		for _, g := range s.GuessOptions {
			fmt.Printf("  - %s %s (%s)\n", g.Avatar, g.Name, g.ID)
		}
	}
	if len(s.Reactions) > 0 {
		var parts []string
		for _, r := range s.Reactions {
			parts = append(parts, fmt.Sprintf("%s x%d", r.Kind, r.Count))
		}
		fmt.Printf("Reactions: %s\n", strings.Join(parts, ", "))
	}
	if len(s.Results) > 0 {
		fmt.Println()
		o.printResults(s.Results)
	}
	if s.Phase == "reveal" && len(s.Leaderboard) > 0 {
		fmt.Println("\nLeaderboard:")
		for _, e := range s.Leaderboard {
			fmt.Printf("  %d. %s %s: %d\n", e.Rank, e.Avatar, e.Name, e.Score)
		}
	}
}

func (o *Output) printResults(results []response.GuessResult) {
	fmt.Printf("Guesses (%d):\n", len(results))
	for _, r := range results {
		guessed := r.GuessedName
		if guessed == "" {
			guessed = "(no guess)"
		}
		mark := "wrong"
		if r.IsCorrect {
			mark = fmt.Sprintf("correct, +%d", r.Points)
		}
		fmt.Printf("  - %s guessed %s (%s)\n", r.PlayerName, guessed, mark)
	}
}
