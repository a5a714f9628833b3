package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xferwatch/xferwatch/internal/mock"
	"github.com/xferwatch/xferwatch/internal/ws"
)

type mockOptions struct {
	user           string
	token          string
	items          []string
	linesPerItem   int
	malformedEvery int
	interval       time.Duration
	hold           time.Duration
}

func (o *mockOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.user, "mock-user", "root", "User the mock server expects")
	cmd.Flags().StringVar(&o.token, "mock-token", "", "API token the mock server expects (empty disables auth)")
	cmd.Flags().StringSliceVar(&o.items, "items", nil, "Accounts in the scripted transfer")
	cmd.Flags().IntVar(&o.linesPerItem, "lines-per-item", 5, "Log lines written per account")
	cmd.Flags().IntVar(&o.malformedEvery, "malformed-every", 0, "Write every Nth child line as invalid JSON (0 disables)")
	cmd.Flags().DurationVar(&o.interval, "step", 500*time.Millisecond, "Time between scripted log lines")
	cmd.Flags().DurationVar(&o.hold, "hold", 0, "Keep tail responses open this long")
}

func (o *mockOptions) generator(sessionID string) *mock.Generator {
	return mock.NewGenerator(mock.GeneratorOptions{
		SessionID:      sessionID,
		Items:          o.items,
		LinesPerItem:   o.linesPerItem,
		MalformedEvery: o.malformedEvery,
	})
}

func (o *mockOptions) server(logger *zap.Logger, gens ...*mock.Generator) *mock.Server {
	return mock.NewServer(mock.ServerOptions{
		User:   o.user,
		Token:  o.token,
		Hold:   o.hold,
		Logger: logger,
	}, gens...)
}

// runGenerators plays every generator forward until ctx is done.
func runGenerators(ctx context.Context, g *errgroup.Group, interval time.Duration, gens []*mock.Generator) {
	for _, gen := range gens {
		g.Go(func() error {
			gen.Run(ctx, interval)
			return nil
		})
	}
}

// serveListener serves h on ln until ctx is done.
func serveListener(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func newMockCommand(ctx *commandContext) *cobra.Command {
	var opts mockOptions
	var addr string
	var sessions int

	cmd := &cobra.Command{
		Use:   "mock [session-id...]",
		Short: "Serve scripted transfer sessions over the WHM API and log tail endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ids := args
			for len(ids) < sessions {
				ids = append(ids, "")
			}
			gens := make([]*mock.Generator, 0, len(ids))
			for _, id := range ids {
				gen := opts.generator(id)
				gens = append(gens, gen)
				fmt.Fprintf(cmd.OutOrStdout(), "session %s\n", gen.ID())
			}

			g, gctx := errgroup.WithContext(cmd.Context())
			runGenerators(gctx, g, opts.interval, gens)
			g.Go(func() error {
				return ws.ListenAndServe(gctx, addr, opts.server(logger, gens...), logger)
			})
			return g.Wait()
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:2087", "Listen address")
	cmd.Flags().IntVar(&sessions, "sessions", 1, "Number of sessions to serve")
	return cmd
}
