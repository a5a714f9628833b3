package ws

import (
	"github.com/xferwatch/xferwatch/internal/store"
	"github.com/xferwatch/xferwatch/internal/transfer"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgDelta    MessageType = "delta"
	MsgState    MessageType = "state"
	MsgAlert    MessageType = "alert"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

type SnapshotPayload struct {
	Session store.Snapshot `json:"session"`
	History []store.Line   `json:"history,omitempty"`
}

type DeltaPayload struct {
	Lines []store.Line `json:"lines"`
}

type StatePayload struct {
	State     transfer.State `json:"state"`
	Previous  transfer.State `json:"previous"`
	Animating bool           `json:"animating"`
	Session   store.Snapshot `json:"session"`
}

type AlertPayload struct {
	Header string `json:"header"`
	Body   string `json:"body"`
}
