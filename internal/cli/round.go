package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcoot/storyguess/internal/api/request"
	"github.com/mcoot/storyguess/internal/api/response"
)

func newStoryCmd() *cobra.Command {
	var genre string

	cmd := &cobra.Command{
		Use:   "story <code> <content>",
		Short: "Write or replace your story for this round",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.StoryRequest{Content: args[1], Genre: genre}

			var result response.Story
			if err := client.Post(roomPath(args[0], "/stories"), req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&genre, "genre", "", "Genre: funny, embarrassing, scary, romantic or adventure")

	return cmd
}

func newGuessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guess <code> <story-id> <player-id>",
		Short: "Guess who wrote the active story",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.GuessRequest{StoryID: args[1], GuessedAuthorID: args[2]}

			var result response.Guess
			if err := client.Post(roomPath(args[0], "/guesses"), req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}

func newReactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "react <code> <story-id> <kind>",
		Short: "Toggle a reaction on the active story",
		Long: `Toggle a reaction on the active story.

Kinds: thumbsup, pray, joy, love, clap, fire, grin, smile, thinking, wow.
A story shows at most four different kinds.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.ReactionRequest{StoryID: args[1], Kind: args[2]}

			var result response.Reaction
			if err := client.Post(roomPath(args[0], "/reactions"), req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <code>",
		Short: "Show the room as you see it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Snapshot
			if err := client.Get(roomPath(args[0], "/state"), &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}

func newResultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results <code>",
		Short: "Show who guessed what for the revealed story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result ResultsResult
			if err := client.Get(roomPath(args[0], "/results"), &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}
