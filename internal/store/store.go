// Package store keeps the relay's view of one transfer session: its
// current state and a bounded history of recent log lines for clients
// that connect late.
package store

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xferwatch/xferwatch/internal/tail"
	"github.com/xferwatch/xferwatch/internal/transfer"
)

// Snapshot is the session summary sent to clients.
type Snapshot struct {
	ID        string         `json:"id"`
	State     transfer.State `json:"state"`
	Animating bool           `json:"animating"`
	PID       int            `json:"pid,omitempty"`
	Logs      map[string]int `json:"logs"` // lines seen per log
	Errors    int            `json:"errors"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Clone returns a copy that shares nothing with s.
func (s Snapshot) Clone() Snapshot {
	logs := make(map[string]int, len(s.Logs))
	for k, v := range s.Logs {
		logs[k] = v
	}
	s.Logs = logs
	return s
}

// LogNames returns the logs seen so far, sorted.
func (s Snapshot) LogNames() []string {
	names := make([]string, 0, len(s.Logs))
	for name := range s.Logs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Line is one delivered log record.
type Line struct {
	Seq      uint64          `json:"seq"`
	Log      string          `json:"log"`
	Type     string          `json:"type,omitempty"`
	Contents json.RawMessage `json:"contents,omitempty"`
	Raw      string          `json:"raw,omitempty"`
	Time     time.Time       `json:"time"`
}

// Text is the human-readable form of the line: its messages when the
// record has any, otherwise the payload.
func (l Line) Text() string {
	rec := tail.Record{Type: l.Type, Contents: l.Contents, Raw: l.Raw}
	if msgs := rec.Messages(); len(msgs) > 0 {
		return strings.Join(msgs, " ")
	}
	if l.Raw == "" && len(l.Contents) > 0 {
		return string(l.Contents)
	}
	return l.Raw
}

type Store struct {
	mu      sync.RWMutex
	snap    Snapshot
	history []Line
	limit   int
	seq     uint64
	now     func() time.Time
}

// New creates a store for session id keeping at most history lines.
func New(id string, history int) *Store {
	if history < 0 {
		history = 0
	}
	return &Store{
		snap:  Snapshot{ID: id, Logs: make(map[string]int)},
		limit: history,
		now:   time.Now,
	}
}

func (s *Store) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// SetState records a state change and returns the updated snapshot.
func (s *Store) SetState(state transfer.State, animating bool, pid int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.State = state
	s.snap.Animating = animating
	if pid > 0 {
		s.snap.PID = pid
	}
	s.snap.UpdatedAt = s.now()
	return s.snap.Clone()
}

// Append records a delivered log record and returns it as a Line.
func (s *Store) Append(log string, rec tail.Record) Line {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	line := Line{
		Seq:      s.seq,
		Log:      log,
		Type:     rec.Type,
		Contents: rec.Contents,
		Time:     s.now(),
	}
	if rec.Type == "" {
		line.Raw = rec.Raw
	}
	s.snap.Logs[log]++
	if rec.Type == "error" {
		s.snap.Errors++
	}
	s.snap.UpdatedAt = line.Time

	if s.limit > 0 {
		if len(s.history) >= s.limit {
			copy(s.history, s.history[1:])
			s.history = s.history[:len(s.history)-1]
		}
		s.history = append(s.history, line)
	}
	return line
}

// History returns the retained lines, oldest first.
func (s *Store) History() []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Line(nil), s.history...)
}

// IsTerminal reports whether the session is over.
func (s *Store) IsTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.State.IsTerminal()
}
