// Package client connects the console to a relay: a WebSocket feed
// turned into Bubble Tea messages and a small REST client for commands.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/xferwatch/xferwatch/internal/ws"
	"go.uber.org/zap"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// WSClient manages the WebSocket connection to the relay.
type WSClient struct {
	url    string
	token  string
	logger *zap.Logger

	mu      sync.Mutex
	writeMu sync.Mutex // serialises conn writes
	conn    *websocket.Conn
	seq     uint64
	pingCtx context.CancelFunc
}

// NewWSClient creates a client for the given WebSocket URL. The token,
// when set, is passed as the token query parameter.
func NewWSClient(rawURL, token string, logger *zap.Logger) *WSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSClient{url: rawURL, token: token, logger: logger.Named("wsclient")}
}

// WSConnectedMsg is sent when the WebSocket connects.
type WSConnectedMsg struct{}

// WSDisconnectedMsg is sent when the connection drops.
type WSDisconnectedMsg struct{ Err error }

type WSSnapshotMsg struct{ Payload ws.SnapshotPayload }

type WSDeltaMsg struct{ Payload ws.DeltaPayload }

type WSStateMsg struct{ Payload ws.StatePayload }

type WSAlertMsg struct{ Payload ws.AlertPayload }

func (c *WSClient) dialURL() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", err
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Listen returns a command that connects, retrying with backoff until it
// succeeds or ctx is done.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		target, err := c.dialURL()
		if err != nil {
			return WSDisconnectedMsg{Err: err}
		}
		delay := reconnectBaseDelay
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
			if err != nil {
				c.logger.Debug("dial failed", zap.Error(err), zap.Duration("retry_in", delay))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				delay = min(delay*2, reconnectMaxDelay)
				continue
			}

			c.mu.Lock()
			if c.pingCtx != nil {
				c.pingCtx()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.seq = 0
			c.pingCtx = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)

			return WSConnectedMsg{}
		}
	}
}

// ReadLoop returns a command that reads until the next message the
// console cares about. Start it again after each message.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: fmt.Errorf("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return WSDisconnectedMsg{Err: err}
			}

			var msg struct {
				Type    ws.MessageType  `json:"type"`
				Seq     uint64          `json:"seq"`
				Payload json.RawMessage `json:"payload"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Debug("undecodable message", zap.Error(err))
				continue
			}

			c.mu.Lock()
			c.seq = msg.Seq
			c.mu.Unlock()

			if teaMsg := dispatch(msg.Type, msg.Payload); teaMsg != nil {
				return teaMsg
			}
		}
	}
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Seq returns the last seen sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close drops the current connection.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCtx != nil {
		c.pingCtx()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func dispatch(t ws.MessageType, payload json.RawMessage) tea.Msg {
	switch t {
	case ws.MsgSnapshot:
		var p ws.SnapshotPayload
		if json.Unmarshal(payload, &p) == nil {
			return WSSnapshotMsg{Payload: p}
		}
	case ws.MsgDelta:
		var p ws.DeltaPayload
		if json.Unmarshal(payload, &p) == nil {
			return WSDeltaMsg{Payload: p}
		}
	case ws.MsgState:
		var p ws.StatePayload
		if json.Unmarshal(payload, &p) == nil {
			return WSStateMsg{Payload: p}
		}
	case ws.MsgAlert:
		var p ws.AlertPayload
		if json.Unmarshal(payload, &p) == nil {
			return WSAlertMsg{Payload: p}
		}
	}
	return nil
}
