package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xferwatch/xferwatch/internal/store"
	"github.com/xferwatch/xferwatch/internal/transfer"
	"go.uber.org/zap"
)

// ErrTooManyConnections is returned by AddClient when the connection
// limit is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const writeWait = 10 * time.Second

type client struct {
	id   string
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.logger.Debug("ws write failed", zap.String("client", c.id), zap.Error(err))
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster fans session updates out to WebSocket clients. Log lines
// are batched into delta messages at most once per throttle interval;
// state changes and alerts go out immediately.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	store    *store.Store
	throttle time.Duration
	maxConns int
	logger   *zap.Logger
	seq      atomic.Uint64

	snapshotTicker *time.Ticker
	stop           chan struct{}
	stopOnce       sync.Once

	flushMu      sync.Mutex
	pendingLines []store.Line
	flushTimer   *time.Timer
}

// NewBroadcaster starts the periodic snapshot loop. maxConns of 0 means
// no limit.
func NewBroadcaster(st *store.Store, throttle, snapshotInterval time.Duration, maxConns int, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if snapshotInterval <= 0 {
		snapshotInterval = 5 * time.Second
	}
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		store:    st,
		throttle: throttle,
		maxConns: maxConns,
		logger:   logger.Named("ws"),
		stop:     make(chan struct{}),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// AddClient registers conn and sends it the current snapshot with the
// retained history.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		b:    b,
		send: make(chan []byte, 64),
	}

	data, err := b.encode(MsgSnapshot, SnapshotPayload{
		Session: b.store.Get(),
		History: b.store.History(),
	})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	c.send <- data
	b.mu.Unlock()
	go c.writePump()

	b.logger.Debug("ws client added", zap.String("client", c.id))
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// QueueLine schedules a log line for the next delta.
func (b *Broadcaster) QueueLine(line store.Line) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingLines = append(b.pendingLines, line)
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// BroadcastState sends a state change right away. Pending lines are
// flushed first so clients see them in order.
func (b *Broadcaster) BroadcastState(next, prev transfer.State, snap store.Snapshot) {
	b.flush()
	b.broadcast(MsgState, StatePayload{
		State:     next,
		Previous:  prev,
		Animating: snap.Animating,
		Session:   snap,
	})
}

func (b *Broadcaster) BroadcastAlert(header, body string) {
	b.broadcast(MsgAlert, AlertPayload{Header: header, Body: body})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	lines := b.pendingLines
	b.pendingLines = nil
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	b.flushMu.Unlock()

	if len(lines) == 0 {
		return
	}
	b.broadcast(MsgDelta, DeltaPayload{Lines: lines})
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.snapshotTicker.C:
			b.broadcast(MsgSnapshot, SnapshotPayload{Session: b.store.Get()})
		}
	}
}

func (b *Broadcaster) encode(t MessageType, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(WSMessage{Type: t, Seq: b.seq.Add(1), Payload: payload})
	if err != nil {
		b.logger.Error("broadcast marshal error", zap.Error(err))
	}
	return data, err
}

func (b *Broadcaster) broadcast(t MessageType, payload interface{}) {
	data, err := b.encode(t, payload)
	if err != nil {
		return
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("ws client too slow, disconnecting", zap.String("client", c.id))
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop ends the snapshot loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		b.snapshotTicker.Stop()
		close(b.stop)
		b.flush()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
		}
		b.mu.Unlock()
	})
}
