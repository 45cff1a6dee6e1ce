package cli

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/storyguess/internal/api/request"
	"github.com/mcoot/storyguess/internal/api/response"
)

func roomPath(code, suffix string) string {
	return "/api/v1/rooms/" + url.PathEscape(strings.ToUpper(strings.TrimSpace(code))) + suffix
}

func newRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Room management commands",
	}

	cmd.AddCommand(newRoomCreateCmd())
	cmd.AddCommand(newRoomGetCmd())
	cmd.AddCommand(newRoomQRCmd())

	return cmd
}

func newRoomCreateCmd() *cobra.Command {
	var maxPlayers int

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.CreateRoomRequest{Name: args[0], MaxPlayers: maxPlayers}

			var result response.RoomDetail
			if err := client.Post("/api/v1/rooms", req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxPlayers, "max-players", 0, "Room capacity, 3-5 (default: server default)")

	return cmd
}

func newRoomGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <code>",
		Short: "Get room details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.RoomDetail
			if err := client.Get(roomPath(args[0], ""), &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}

func newRoomQRCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "qr <code>",
		Short: "Save the room's join QR code as a PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			png, err := client.Raw(roomPath(args[0], "/qr"))
			if err != nil {
				return err
			}
			if file == "" {
				file = strings.ToUpper(args[0]) + ".png"
			}
			if err := os.WriteFile(file, png, 0644); err != nil {
				return err
			}

			NewOutput(cfg.Output).PrintMessage(fmt.Sprintf("Saved QR code to %s", file))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Output file (default: <CODE>.png)")

	return cmd
}

func newJoinCmd() *cobra.Command {
	var avatar string

	cmd := &cobra.Command{
		Use:   "join <code> <name>",
		Short: "Join a room, or rejoin it with the same identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.JoinRequest{Name: args[1], Avatar: avatar}

			var result response.Player
			if err := client.Post(roomPath(args[0], "/join"), req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&avatar, "avatar", "", "Avatar emoji (default: server default)")

	return cmd
}

// newActionCmd builds a command that posts an empty action to the room
func newActionCmd(use, short, suffix, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <code>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Post(roomPath(args[0], suffix), nil, nil); err != nil {
				return err
			}

			NewOutput(cfg.Output).PrintMessage(done)
			return nil
		},
	}
}

func newLeaveCmd() *cobra.Command {
	return newActionCmd("leave", "Leave a room", "/leave", "Left room")
}

func newStartCmd() *cobra.Command {
	return newActionCmd("start", "Start the game now (host only)", "/start", "Game started")
}

func newPlayAgainCmd() *cobra.Command {
	return newActionCmd("play-again", "Return the room to the lobby after a reveal", "/play-again", "Back to the lobby")
}

func newReadyCmd() *cobra.Command {
	var notReady bool

	cmd := &cobra.Command{
		Use:   "ready <code>",
		Short: "Mark yourself ready in the lobby",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := request.ReadyRequest{Ready: !notReady}
			if err := client.Post(roomPath(args[0], "/ready"), req, nil); err != nil {
				return err
			}

			msg := "Ready"
			if notReady {
				msg = "Not ready"
			}
			NewOutput(cfg.Output).PrintMessage(msg)
			return nil
		},
	}

	cmd.Flags().BoolVar(&notReady, "off", false, "Clear the ready flag instead")

	return cmd
}
