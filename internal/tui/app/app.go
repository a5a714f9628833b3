// Package app is the root Bubble Tea model of the console.
package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/xferwatch/xferwatch/internal/store"
	"github.com/xferwatch/xferwatch/internal/transfer"
	"github.com/xferwatch/xferwatch/internal/tui/client"
	"github.com/xferwatch/xferwatch/internal/tui/theme"
	"github.com/xferwatch/xferwatch/internal/tui/views/confirm"
	"github.com/xferwatch/xferwatch/internal/tui/views/logview"
	"github.com/xferwatch/xferwatch/internal/tui/views/status"
)

// Feed is the relay's live message stream. *client.WSClient implements it.
type Feed interface {
	Listen(ctx context.Context) tea.Cmd
	ReadLoop(ctx context.Context) tea.Cmd
}

// Commands issues session commands. *client.HTTPClient implements it.
type Commands interface {
	Session(ctx context.Context) (*store.Snapshot, error)
	Start(ctx context.Context) (*store.Snapshot, error)
	Pause(ctx context.Context) (*store.Snapshot, error)
	Abort(ctx context.Context) (*store.Snapshot, error)
}

// commandResultMsg carries the relay's answer to a command.
type commandResultMsg struct {
	action string
	snap   *store.Snapshot
	err    error
}

// Model is the root Bubble Tea model.
type Model struct {
	feed   Feed
	cmds   Commands
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	session   store.Snapshot
	connected bool
	alert     string

	statusBar status.Model
	logs      logview.Model
	confirm   confirm.Model
}

func New(feed Feed, cmds Commands) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		feed:      feed,
		cmds:      cmds,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		session:   store.Snapshot{Logs: make(map[string]int)},
		statusBar: status.New(),
		logs:      logview.New(),
	}
}

// Init starts the WebSocket connection.
func (m Model) Init() tea.Cmd {
	return m.feed.Listen(m.ctx)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.logs.SetSize(msg.Width, msg.Height-6)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.statusBar, cmd = m.statusBar.Update(msg)
		return m, cmd

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		return m, m.feed.ReadLoop(m.ctx)

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		return m, m.feed.Listen(m.ctx)

	case client.WSSnapshotMsg:
		if msg.Payload.History != nil {
			m.logs.Reset(msg.Payload.History)
		}
		cmd := m.setSession(msg.Payload.Session)
		return m, tea.Batch(cmd, m.feed.ReadLoop(m.ctx))

	case client.WSDeltaMsg:
		for _, l := range m.logs.Append(msg.Payload.Lines) {
			m.session.Logs[l.Log]++
			if l.Type == "error" {
				m.session.Errors++
			}
		}
		m.statusBar.Session = m.session
		return m, m.feed.ReadLoop(m.ctx)

	case client.WSStateMsg:
		cmd := m.setSession(msg.Payload.Session)
		return m, tea.Batch(cmd, m.feed.ReadLoop(m.ctx))

	case client.WSAlertMsg:
		m.alert = msg.Payload.Header + ": " + msg.Payload.Body
		return m, m.feed.ReadLoop(m.ctx)

	case commandResultMsg:
		if msg.err != nil {
			m.alert = msg.action + " failed: " + msg.err.Error()
			return m, nil
		}
		m.alert = ""
		return m, m.setSession(*msg.snap)
	}

	return m, nil
}

// setSession replaces the session summary and restarts the spinner when
// the session starts animating.
func (m *Model) setSession(snap store.Snapshot) tea.Cmd {
	wasAnimating := m.session.Animating
	if snap.Logs == nil {
		snap.Logs = make(map[string]int)
	}
	m.session = snap
	m.statusBar.Session = snap
	if snap.Animating && !wasAnimating {
		return m.statusBar.Tick()
	}
	return nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirm.Active() {
		switch {
		case key.Matches(msg, m.keys.Confirm):
			action := m.confirm.Action
			m.confirm = confirm.Model{}
			if action == confirm.Pause {
				return m, m.run("pause", m.cmds.Pause)
			}
			return m, m.run("abort", m.cmds.Abort)
		case key.Matches(msg, m.keys.Cancel):
			m.confirm = confirm.Model{}
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Start):
		switch m.session.State {
		case transfer.Pending, transfer.Paused:
			return m, m.run("start", m.cmds.Start)
		}
		m.alert = fmt.Sprintf("Cannot start a session that is %s", m.session.State)
		return m, nil

	case key.Matches(msg, m.keys.Pause):
		if m.session.State == transfer.Running {
			m.confirm = confirm.Prompt(confirm.Pause)
		}
		return m, nil

	case key.Matches(msg, m.keys.Abort):
		switch m.session.State {
		case transfer.Running, transfer.Paused, transfer.Pausing:
			m.confirm = confirm.Prompt(confirm.Abort)
		}
		return m, nil

	case key.Matches(msg, m.keys.Resync):
		return m, m.run("resync", m.cmds.Session)

	case key.Matches(msg, m.keys.Up):
		m.logs.ScrollUp(1)
		return m, nil

	case key.Matches(msg, m.keys.Down):
		m.logs.ScrollDown(1)
		return m, nil
	}

	return m, nil
}

func (m Model) run(action string, call func(context.Context) (*store.Snapshot, error)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		snap, err := call(ctx)
		return commandResultMsg{action: action, snap: snap, err: err}
	}
}

// View renders the full console.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{m.statusBar.View()}
	if !m.connected {
		sections = append(sections, theme.StyleAlert.Render("  DISCONNECTED")+theme.StyleDimmed.Render("  Reconnecting to the relay..."))
	} else if m.alert != "" {
		sections = append(sections, theme.StyleAlert.Render("  "+m.alert))
	} else {
		sections = append(sections, "")
	}

	if m.confirm.Active() {
		sections = append(sections, lipgloss.Place(m.width, max(m.height-6, 8), lipgloss.Center, lipgloss.Center, m.confirm.View(m.width/2)))
	} else {
		sections = append(sections, m.logs.View())
	}

	help := "  s:start/resume  p:pause  x:abort  r:resync  j/k:scroll  q:quit"
	if !m.logs.Following() {
		help += "  (scrolled)"
	}
	sections = append(sections, theme.StyleDimmed.Render(help))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
