// Package transfer mirrors a server-side transfer session: it tracks the
// session's lifecycle state, issues start/pause/abort commands and
// follows the session's logs through a tail reader.
package transfer

import (
	"context"
	"errors"
	"sync"

	"github.com/xferwatch/xferwatch/internal/tail"
	"github.com/xferwatch/xferwatch/internal/whmapi"
	"go.uber.org/zap"
)

// DefaultMasterLog is the log every session writes its control records to.
const DefaultMasterLog = "master.log"

// ErrNoPID is returned by Start when the server accepted the request but
// did not report a worker process.
var ErrNoPID = errors.New("server did not return a process id")

// Prompter shows user-facing messages. Confirm calls onConfirm only if the
// user agrees; it may do so after Confirm returns.
type Prompter interface {
	Alert(header, body string)
	Confirm(header, body string, onConfirm func())
}

// Controller issues the session commands. A non-nil error is a transport
// failure; a refused command comes back with Result.Status false.
type Controller interface {
	StartTransferSession(ctx context.Context, sessionID string) (*whmapi.Result, error)
	PauseTransferSession(ctx context.Context, sessionID string) (*whmapi.Result, error)
	AbortTransferSession(ctx context.Context, sessionID string) (*whmapi.Result, error)
}

// Tailer follows the session logs. *tail.Reader implements it.
type Tailer interface {
	AddLog(name string, h tail.Handler)
	DelLog(name string)
	HasLogs() bool
	Abort()
}

// StateChangeListener is called synchronously on every state change.
type StateChangeListener func(newState, oldState State)

// RecordListener receives every record delivered for the session's logs.
type RecordListener func(rec tail.Record, logName string)

// Config holds the inputs for New.
type Config struct {
	ID           string
	InitialState State
	// Requested is the action the user asked for when opening the
	// session; Init acts on it.
	Requested  Action
	Controller Controller
	Tailer     Tailer
	Prompter   Prompter
	Logger     *zap.Logger
	// Listeners are registered before the initial state is announced, so
	// they observe the construction transition.
	Listeners []StateChangeListener
	MasterLog string
}

// Session is the client-side state machine for one transfer session.
type Session struct {
	id        string
	requested Action
	ctrl      Controller
	tailer    Tailer
	prompter  Prompter
	logger    *zap.Logger
	masterLog string

	mu              sync.Mutex
	state           State
	animating       bool
	pid             int
	closed          bool
	children        map[string]bool
	listeners       []StateChangeListener
	recordListeners []RecordListener
}

// New creates a session in the server-reported state and announces that
// state to cfg.Listeners.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	master := cfg.MasterLog
	if master == "" {
		master = DefaultMasterLog
	}
	s := &Session{
		id:        cfg.ID,
		requested: cfg.Requested,
		ctrl:      cfg.Controller,
		tailer:    cfg.Tailer,
		prompter:  cfg.Prompter,
		logger:    logger.Named("transfer").With(zap.String("session_id", cfg.ID)),
		masterLog: master,
		state:     cfg.InitialState,
		children:  make(map[string]bool),
		listeners: append([]StateChangeListener(nil), cfg.Listeners...),
	}
	s.logger.Debug("session created", zap.Stringer("state", s.state))
	s.notify(cfg.InitialState, Pending)
	return s
}

// ID returns the transfer session id.
func (s *Session) ID() string { return s.id }

// AddStateChangeListener registers fn on this session only.
func (s *Session) AddStateChangeListener(fn StateChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) AddRecordListener(fn RecordListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordListeners = append(s.recordListeners, fn)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Animating reports whether progress should be shown as live.
func (s *Session) Animating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.animating
}

// PID returns the worker process id from the last successful start.
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// transition moves to next and notifies listeners before returning. A
// transition to the current state is a no-op.
func (s *Session) transition(next State) State {
	prev, _ := s.swap(nil, next)
	return prev
}

// rollback restores prev only while the session is still in next. A
// control record that arrived in the meantime wins.
func (s *Session) rollback(next, prev State) bool {
	_, ok := s.swap(&next, prev)
	return ok
}

// swap moves to next, optionally only when the current state is
// *expect, and returns the replaced state. The read and the write
// happen under one lock.
func (s *Session) swap(expect *State, next State) (State, bool) {
	s.mu.Lock()
	prev := s.state
	if prev == next || s.closed || (expect != nil && prev != *expect) {
		s.mu.Unlock()
		return prev, false
	}
	s.state = next
	s.animating = next == Running
	s.mu.Unlock()

	s.logger.Info("state change", zap.Stringer("from", prev), zap.Stringer("to", next))
	s.notify(next, prev)
	return prev, true
}

func (s *Session) notify(next, prev State) {
	s.mu.Lock()
	listeners := append([]StateChangeListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(next, prev)
	}
}

func (s *Session) alert(header, body string) {
	s.logger.Warn("alert", zap.String("header", header), zap.String("body", body))
	if s.prompter != nil {
		s.prompter.Alert(header, body)
	}
}

// Start starts or resumes the session. On success the session is
// RUNNING and its logs are followed; otherwise the state is left alone
// and the failure is alerted and returned.
func (s *Session) Start(ctx context.Context) error {
	res, err := s.ctrl.StartTransferSession(ctx, s.id)
	switch {
	case err != nil:
		s.alert("Unable to start the transfer", err.Error())
		return err
	case !res.Status:
		s.alert("Unable to start the transfer", res.Message())
		return res.Err()
	case res.PID() <= 0:
		s.alert("Unable to start the transfer", ErrNoPID.Error())
		return ErrNoPID
	}

	s.mu.Lock()
	s.pid = res.PID()
	s.mu.Unlock()
	s.logger.Info("transfer started", zap.Int("pid", res.PID()))

	s.transition(Running)
	s.follow()
	return nil
}

// Pause asks for confirmation, then moves to PAUSING and asks the server
// to pause. A transport failure restores the previous state.
func (s *Session) Pause(ctx context.Context) {
	s.confirm(ctx, "Pause the transfer?",
		"The transfer will pause after the item currently in progress finishes.",
		Pausing, s.ctrl.PauseTransferSession)
}

// Abort asks for confirmation, then moves to ABORTING and asks the server
// to abort. A transport failure restores the previous state.
func (s *Session) Abort(ctx context.Context) {
	s.confirm(ctx, "Abort the transfer?",
		"Items that have not completed will not be transferred. This cannot be undone.",
		Aborting, s.ctrl.AbortTransferSession)
}

func (s *Session) confirm(ctx context.Context, header, body string, next State,
	call func(context.Context, string) (*whmapi.Result, error)) {
	if s.prompter == nil {
		s.command(ctx, next, call)
		return
	}
	s.prompter.Confirm(header, body, func() {
		s.command(ctx, next, call)
	})
}

// command applies the optimistic transition and issues the call. Only a
// transport failure rolls back: a refusal is left to the log stream,
// which carries the server's own view of the state.
func (s *Session) command(ctx context.Context, next State, call func(context.Context, string) (*whmapi.Result, error)) {
	prev := s.transition(next)

	res, err := call(ctx, s.id)
	if err != nil {
		if s.rollback(next, prev) {
			s.logger.Warn("command failed, rolled back", zap.Stringer("to", prev), zap.Error(err))
		} else {
			s.logger.Warn("command failed", zap.Stringer("state", s.State()), zap.Error(err))
		}
		s.alert("The server did not accept the request", err.Error())
		return
	}
	if !res.Status {
		s.logger.Info("command refused", zap.Stringer("state", next), zap.String("reason", res.Message()))
	}
}

// HandlePauseControl is the pause/resume button: pause while running,
// resume while paused.
func (s *Session) HandlePauseControl(ctx context.Context) error {
	switch s.State() {
	case Running:
		s.Pause(ctx)
	case Paused:
		return s.Start(ctx)
	}
	return nil
}

// HandleAbortControl is the abort button. It does nothing once the
// session is aborting or over.
func (s *Session) HandleAbortControl(ctx context.Context) {
	switch s.State() {
	case Running, Paused, Pausing:
		s.Abort(ctx)
	}
}

// Init decides what to do when the session is first shown: start it,
// ask to abort it, or just follow its logs.
func (s *Session) Init(ctx context.Context) error {
	state := s.State()
	s.logger.Debug("init", zap.Stringer("state", state), zap.Stringer("requested", s.requested))

	switch state {
	case Pending:
		if s.requested == ActionStart || s.requested == ActionResume {
			return s.Start(ctx)
		}
	case Paused:
		if s.requested == ActionResume || s.requested == ActionStart {
			return s.Start(ctx)
		}
		s.follow()
	case Running:
		s.mu.Lock()
		s.animating = true
		s.mu.Unlock()
		s.follow()
		if s.requested == ActionAbort {
			s.Abort(ctx)
		}
	default:
		s.follow()
	}
	return nil
}

// follow subscribes the master log unless the tailer already has logs.
func (s *Session) follow() {
	if s.tailer == nil || s.tailer.HasLogs() {
		return
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.tailer.AddLog(s.masterLog, s.handleRecord)
}

// Close stops following logs. State changes after Close are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.children = make(map[string]bool)
	s.mu.Unlock()
	if s.tailer != nil {
		s.tailer.Abort()
	}
}
