package transfer

import (
	"encoding/json"

	"github.com/xferwatch/xferwatch/internal/tail"
	"go.uber.org/zap"
)

// RecordControl is the record type carrying session control events.
const RecordControl = "control"

type controlContents struct {
	Action  string `json:"action"`
	LogFile string `json:"log_file,omitempty"`
}

// controlStates maps server-acknowledged actions to the state they put
// the session in.
var controlStates = map[string]State{
	"running":   Running,
	"resumed":   Running,
	"pausing":   Pausing,
	"paused":    Paused,
	"aborting":  Aborting,
	"aborted":   Aborted,
	"completed": Completed,
	"failed":    Failed,
}

// handleRecord is the tail handler for every session log.
func (s *Session) handleRecord(rec tail.Record, logName string) {
	if logName == s.masterLog && rec.Type == RecordControl {
		s.applyControl(rec)
	}

	s.mu.Lock()
	listeners := append([]RecordListener(nil), s.recordListeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(rec, logName)
	}
}

func (s *Session) applyControl(rec tail.Record) {
	var c controlContents
	if err := json.Unmarshal(rec.Contents, &c); err != nil {
		s.logger.Debug("control record without contents", zap.Error(err))
		return
	}

	if next, ok := controlStates[c.Action]; ok {
		s.transition(next)
		return
	}

	switch c.Action {
	case "child_start":
		s.addChild(c.LogFile)
	case "child_end":
		s.delChild(c.LogFile)
	default:
		s.logger.Debug("unhandled control action", zap.String("action", c.Action))
	}
}

func (s *Session) addChild(name string) {
	if name == "" || name == s.masterLog || s.tailer == nil {
		return
	}
	s.mu.Lock()
	if s.closed || s.children[name] {
		s.mu.Unlock()
		return
	}
	s.children[name] = true
	s.mu.Unlock()

	s.logger.Debug("following child log", zap.String("log", name))
	s.tailer.AddLog(name, s.handleRecord)
}

func (s *Session) delChild(name string) {
	s.mu.Lock()
	if !s.children[name] {
		s.mu.Unlock()
		return
	}
	delete(s.children, name)
	s.mu.Unlock()

	s.tailer.DelLog(name)
}
