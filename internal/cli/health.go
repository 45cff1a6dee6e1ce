package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcoot/storyguess/internal/api/response"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.Health

			if err := client.Get("/api/v1/health", &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print this device's player identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			NewOutput(cfg.Output).PrintMessage(cfg.LocalID)
			return nil
		},
	}
}
