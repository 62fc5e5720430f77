package main

import (
	"io"
	"log"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/tui"
)

func newViewCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show a running node's thermal grid in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := tui.Dial(ctx, addr)
			if err != nil {
				return err
			}
			defer client.Close()

			// Log lines would tear the alt screen.
			log.SetOutput(io.Discard)

			p := tea.NewProgram(tui.New(addr, client), tea.WithAltScreen(), tea.WithContext(ctx))
			go client.Run(ctx, p)
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "Node HTTP address")
	return cmd
}
