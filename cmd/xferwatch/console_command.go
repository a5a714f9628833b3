package main

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xferwatch/xferwatch/internal/tui/app"
	"github.com/xferwatch/xferwatch/internal/tui/client"
)

func newConsoleCommand(ctx *commandContext) *cobra.Command {
	var url string
	var token string
	var logFile string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Watch and control a relayed transfer session in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("XFERWATCH_TOKEN")
			}

			// The screen belongs to the UI, so logs only go to a file.
			logger := zap.NewNop()
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				if logger, err = ctx.logger(f); err != nil {
					return err
				}
				defer logger.Sync() //nolint:errcheck
			}

			ws := client.NewWSClient(url, token, logger)
			defer ws.Close()
			httpClient := client.NewHTTPClient(client.DeriveHTTPBase(url), token)

			p := tea.NewProgram(app.New(ws, httpClient), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			return err
		},
	}

	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:8080/ws", "Relay WebSocket URL")
	cmd.Flags().StringVar(&token, "token", "", "Relay auth token (default $XFERWATCH_TOKEN)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file")
	return cmd
}
