package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xferwatch/xferwatch/internal/tail"
	"github.com/xferwatch/xferwatch/internal/transfer"
)

func newTailCommand(ctx *commandContext) *cobra.Command {
	var requested string

	cmd := &cobra.Command{
		Use:   "tail <session-id>",
		Short: "Print a transfer session's logs as they are written",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := tailAction(requested)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			api, transport, err := ctx.connect(logger)
			if err != nil {
				return err
			}

			sessionID := args[0]
			state, err := currentState(cmd.Context(), api, sessionID)
			if err != nil {
				return err
			}

			out := newLinePrinter(cmd.OutOrStdout())
			reader := tail.New(transport, cfg.Tail.SystemID, sessionID,
				tail.WithReporter(out),
				tail.WithLogger(logger),
				tail.WithInterval(cfg.Tail.PollInterval),
				tail.WithLimits(cfg.Tail.MaxRequestErrors, cfg.Tail.MaxLogErrors),
			)
			session := transfer.New(transfer.Config{
				ID:           sessionID,
				InitialState: state,
				Requested:    action,
				Controller:   api,
				Tailer:       reader,
				Prompter:     out,
				Logger:       logger,
				Listeners:    []transfer.StateChangeListener{out.state},
			})
			session.AddRecordListener(out.record)
			defer session.Close()

			if err := session.Init(cmd.Context()); err != nil {
				return err
			}
			if !reader.Running() {
				fmt.Fprintf(cmd.OutOrStdout(), "session %s is %s; nothing to follow\n", sessionID, session.State())
				return nil
			}
			return waitForReader(cmd.Context(), reader)
		},
	}

	cmd.Flags().StringVar(&requested, "requested", "", "Action to take first: start or resume")
	return cmd
}

// tailAction parses --requested. Abort needs a confirmation the
// read-only printer never gives, so it is refused up front.
func tailAction(name string) (transfer.Action, error) {
	action, err := transfer.ParseAction(name)
	if err != nil {
		return action, err
	}
	if action == transfer.ActionAbort {
		return action, fmt.Errorf("tail cannot abort a session; use the relay or console")
	}
	return action, nil
}

// waitForReader returns once the reader has stopped, which it does after
// the end marker or too many failed requests.
func waitForReader(ctx context.Context, reader *tail.Reader) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !reader.Running() {
				return nil
			}
		}
	}
}
