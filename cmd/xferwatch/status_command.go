package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xferwatch/xferwatch/internal/relay"
	"github.com/xferwatch/xferwatch/internal/transfer"
	"github.com/xferwatch/xferwatch/internal/whmapi"
)

func currentState(ctx context.Context, api *whmapi.Client, sessionID string) (transfer.State, error) {
	state, err := relay.CurrentState(ctx, api, sessionID)
	if err != nil {
		return state, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return state, nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>...",
		Short: "Show the state of one or more transfer sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			api, _, err := ctx.connect(logger)
			if err != nil {
				return err
			}

			colorize := shouldColorize(cmd.OutOrStdout())
			rows := make([][]string, 0, len(args))
			var failed int
			for _, id := range args {
				state, err := currentState(cmd.Context(), api, id)
				if err != nil {
					failed++
					rows = append(rows, []string{id, paint(ansiRed, "error", colorize), "", err.Error()})
					continue
				}
				rows = append(rows, []string{
					id,
					paint(stateColor(state), state.String(), colorize),
					yesNo(state.IsTerminal()),
					"",
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Session", "State", "Finished", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			if failed == len(args) {
				return fmt.Errorf("no session state could be read")
			}
			return nil
		},
	}
}
