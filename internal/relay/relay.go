// Package relay runs one transfer session on behalf of remote viewers:
// the session's state and log records go into a store and out over the
// WebSocket broadcaster, and viewers' commands come back in through the
// HTTP API.
package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/xferwatch/xferwatch/internal/config"
	"github.com/xferwatch/xferwatch/internal/store"
	"github.com/xferwatch/xferwatch/internal/tail"
	"github.com/xferwatch/xferwatch/internal/transfer"
	"github.com/xferwatch/xferwatch/internal/whmapi"
	"github.com/xferwatch/xferwatch/internal/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures New.
type Options struct {
	Config       *config.Config
	SessionID    string
	InitialState transfer.State
	Requested    transfer.Action
	Controller   transfer.Controller
	Transport    tail.Transport
	Logger       *zap.Logger
}

type Relay struct {
	logger      *zap.Logger
	store       *store.Store
	broadcaster *ws.Broadcaster
	session     *transfer.Session
	server      *ws.Server
}

func New(opts Options) *Relay {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Relay{
		logger: logger.Named("relay"),
		store:  store.New(opts.SessionID, cfg.Relay.History),
	}
	r.broadcaster = ws.NewBroadcaster(r.store, cfg.Relay.BroadcastThrottle, cfg.Relay.SnapshotInterval, 0, logger)

	reader := tail.New(opts.Transport, cfg.Tail.SystemID, opts.SessionID,
		tail.WithReporter(r),
		tail.WithLogger(logger),
		tail.WithInterval(cfg.Tail.PollInterval),
		tail.WithLimits(cfg.Tail.MaxRequestErrors, cfg.Tail.MaxLogErrors),
	)

	r.session = transfer.New(transfer.Config{
		ID:           opts.SessionID,
		InitialState: opts.InitialState,
		Requested:    opts.Requested,
		Controller:   opts.Controller,
		Tailer:       reader,
		Prompter:     &prompter{b: r.broadcaster, logger: r.logger},
		Logger:       logger,
		Listeners:    []transfer.StateChangeListener{r.onStateChange},
	})
	r.session.AddRecordListener(r.onRecord)

	r.server = ws.NewServer(ws.ServerOptions{
		Store:          r.store,
		Broadcaster:    r.broadcaster,
		Commander:      commander{r.session},
		AllowedOrigins: cfg.Relay.AllowedOrigins,
		AuthToken:      cfg.Relay.AuthToken,
		Logger:         logger,
	})
	return r
}

// onStateChange also runs during transfer.New, before r.session is set.
func (r *Relay) onStateChange(next, prev transfer.State) {
	animating, pid := next == transfer.Running, 0
	if r.session != nil {
		animating, pid = r.session.Animating(), r.session.PID()
	}
	snap := r.store.SetState(next, animating, pid)
	r.broadcaster.BroadcastState(next, prev, snap)
}

func (r *Relay) onRecord(rec tail.Record, logName string) {
	r.broadcaster.QueueLine(r.store.Append(logName, rec))
}

// RenderMessage receives the tail reader's error notices.
func (r *Relay) RenderMessage(text string) {
	r.logger.Warn("tail notice", zap.String("message", text))
	r.broadcaster.BroadcastAlert("Transfer log", text)
}

func (r *Relay) Store() *store.Store { return r.store }

func (r *Relay) Session() *transfer.Session { return r.session }

func (r *Relay) Handler() http.Handler { return r.server.Handler() }

// Init acts on the requested action. A failed start has already been
// alerted to viewers; the relay keeps serving.
func (r *Relay) Init(ctx context.Context) {
	if err := r.session.Init(ctx); err != nil {
		r.logger.Warn("session init failed", zap.Error(err))
	}
}

// Close stops following the logs and disconnects viewers.
func (r *Relay) Close() {
	r.session.Close()
	r.broadcaster.Stop()
}

// Run serves viewers on addr and drives the session until ctx is done.
func (r *Relay) Run(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ws.ListenAndServe(ctx, addr, r.Handler(), r.logger)
	})
	g.Go(func() error {
		r.Init(ctx)
		<-ctx.Done()
		r.Close()
		return nil
	})
	return g.Wait()
}

// Connect builds the API client and tail transport for the configured
// server. Both authenticate with the same token.
func Connect(cfg *config.Config, logger *zap.Logger) (*whmapi.Client, *tail.HTTPTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	api, err := whmapi.New(whmapi.Options{
		BaseURL:            cfg.Server.URL,
		User:               cfg.Server.User,
		Token:              cfg.Server.Token,
		Timeout:            cfg.Server.Timeout,
		InsecureSkipVerify: cfg.Server.InsecureSkipVerify,
		Logger:             logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("api client: %w", err)
	}
	transport, err := tail.NewHTTPTransport(tail.HTTPOptions{
		BaseURL:            cfg.Server.URL,
		Path:               cfg.Tail.Path,
		Authorization:      api.Authorization(whmapi.WHMv1),
		InsecureSkipVerify: cfg.Server.InsecureSkipVerify,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("tail transport: %w", err)
	}
	logger.Debug("connected", zap.String("api", cfg.Server.URL), zap.String("tail", transport.Endpoint()))
	return api, transport, nil
}

// CurrentState asks the server for the session's state.
func CurrentState(ctx context.Context, api *whmapi.Client, sessionID string) (transfer.State, error) {
	name, err := api.GetTransferSessionState(ctx, sessionID)
	if err != nil {
		return transfer.Pending, err
	}
	return transfer.ParseState(name)
}
