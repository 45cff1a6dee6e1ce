package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfg    *Config
	client *Client
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "storyguess",
		Short: "CLI tool for the storyguess API",
		Long: `storyguess is a CLI tool for playing storyguess against its JSON API.

It supports every room operation: creating and joining rooms, readying up,
writing stories, guessing authors, reacting, and streaming room events.

Your identity is a device id kept in the id file, created on first use.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.LoadLocalID(); err != nil {
				return err
			}

			// Create HTTP client
			client = NewClient(cfg.ServerURL, cfg.LocalID)
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL (env: STORYGUESS_SERVER)")
	rootCmd.PersistentFlags().StringVar(&cfg.LocalID, "id", cfg.LocalID, "Player identity (env: STORYGUESS_ID)")
	rootCmd.PersistentFlags().StringVar(&cfg.IDFile, "id-file", cfg.IDFile, "Identity file path (env: STORYGUESS_ID_FILE)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(newRoomCmd())
	rootCmd.AddCommand(newJoinCmd())
	rootCmd.AddCommand(newLeaveCmd())
	rootCmd.AddCommand(newReadyCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStoryCmd())
	rootCmd.AddCommand(newGuessCmd())
	rootCmd.AddCommand(newReactCmd())
	rootCmd.AddCommand(newPlayAgainCmd())
	rootCmd.AddCommand(newStateCmd())
	rootCmd.AddCommand(newResultsCmd())
	rootCmd.AddCommand(newEventsCmd())
	rootCmd.AddCommand(newHealthCmd())
	rootCmd.AddCommand(newWhoamiCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
