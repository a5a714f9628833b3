package relay

import (
	"context"
	"fmt"

	"github.com/xferwatch/xferwatch/internal/transfer"
	"github.com/xferwatch/xferwatch/internal/ws"
	"go.uber.org/zap"
)

// prompter stands in for the user at the relay. Viewers confirm locally
// before they post a command, so confirmations are approved here; alerts
// are sent to every viewer.
type prompter struct {
	b      *ws.Broadcaster
	logger *zap.Logger
}

func (p *prompter) Alert(header, body string) {
	p.b.BroadcastAlert(header, body)
}

func (p *prompter) Confirm(header, _ string, onConfirm func()) {
	p.logger.Debug("confirmation approved", zap.String("prompt", header))
	onConfirm()
}

// commander maps the relay's HTTP commands onto the session controls.
type commander struct {
	s *transfer.Session
}

func (c commander) Start(ctx context.Context) error {
	switch state := c.s.State(); state {
	case transfer.Pending, transfer.Paused:
		return c.s.Start(ctx)
	default:
		return fmt.Errorf("cannot start a session that is %s", state)
	}
}

func (c commander) Pause(ctx context.Context) {
	if c.s.State() == transfer.Running {
		c.s.Pause(ctx)
	}
}

func (c commander) Abort(ctx context.Context) {
	c.s.HandleAbortControl(ctx)
}
