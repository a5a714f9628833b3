package main

import (
	"context"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xferwatch/xferwatch/internal/config"
	"github.com/xferwatch/xferwatch/internal/mock"
	"github.com/xferwatch/xferwatch/internal/relay"
	"github.com/xferwatch/xferwatch/internal/transfer"
)

func newRelayCommand(ctx *commandContext) *cobra.Command {
	var requested string
	var addr string
	var useMock bool
	var mockOpts mockOptions

	cmd := &cobra.Command{
		Use:   "relay <session-id>",
		Short: "Run a transfer session and serve it to console viewers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := transfer.ParseAction(requested)
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			base, _ := ctx.ensureConfig()
			cfg := *base
			if addr == "" {
				addr = cfg.Addr()
			}

			sessionID := args[0]
			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, gctx := errgroup.WithContext(runCtx)

			if useMock {
				ln, err := net.Listen("tcp", "127.0.0.1:0")
				if err != nil {
					return err
				}
				gen := mockOpts.generator(sessionID)
				if mockOpts.token == "" {
					mockOpts.token = "mock"
				}
				srv := mockOpts.server(logger, gen)
				cfg.Server = config.ServerConfig{
					URL:     "http://" + ln.Addr().String(),
					User:    mockOpts.user,
					Token:   mockOpts.token,
					Timeout: base.Server.Timeout,
				}
				cfg.Tail.Path = mock.DefaultTailPath
				logger.Info("mock server", zap.String("url", cfg.Server.URL), zap.String("session_id", sessionID))

				runGenerators(gctx, g, mockOpts.interval, []*mock.Generator{gen})
				g.Go(func() error { return serveListener(gctx, ln, srv) })
			} else if err := cfg.ValidateServer(); err != nil {
				return err
			}

			api, transport, err := relay.Connect(&cfg, logger)
			if err != nil {
				return err
			}
			state, err := currentState(gctx, api, sessionID)
			if err != nil {
				return err
			}

			r := relay.New(relay.Options{
				Config:       &cfg,
				SessionID:    sessionID,
				InitialState: state,
				Requested:    action,
				Controller:   api,
				Transport:    transport,
				Logger:       logger,
			})
			g.Go(func() error { return r.Run(gctx, addr) })
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&requested, "requested", "", "Action to take first: start, resume or abort")
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from relay.host and relay.port)")
	cmd.Flags().BoolVar(&useMock, "mock", false, "Serve a scripted session from an in-process mock WHM server")
	mockOpts.bind(cmd)
	return cmd
}
