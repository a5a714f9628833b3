package mock_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/xferwatch/xferwatch/internal/mock"
	"github.com/xferwatch/xferwatch/internal/tail"
	"github.com/xferwatch/xferwatch/internal/transfer"
	"github.com/xferwatch/xferwatch/internal/whmapi"
)

type autoPrompter struct {
	mu     sync.Mutex
	alerts []string
}

func (p *autoPrompter) Alert(header, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, header+": "+body)
}

func (p *autoPrompter) Confirm(_, _ string, onConfirm func()) { onConfirm() }

type watcher struct {
	mu     sync.Mutex
	states []transfer.State
	lines  map[string]int
	errs   int
	done   chan struct{}
}

func newWatcher() *watcher {
	return &watcher{lines: make(map[string]int), done: make(chan struct{})}
}

func (w *watcher) onState(next, _ transfer.State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.states = append(w.states, next)
	if next.IsTerminal() {
		select {
		case <-w.done:
		default:
			close(w.done)
		}
	}
}

func (w *watcher) onRecord(rec tail.Record, log string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines[log]++
	if rec.Type == "error" {
		w.errs++
	}
}

func startSession(t *testing.T, opts mock.ServerOptions, gen *mock.Generator, requested transfer.Action) (*transfer.Session, *watcher, *autoPrompter) {
	t.Helper()
	opts.User, opts.Token = "root", "TOKEN"
	ts := httptest.NewServer(mock.NewServer(opts, gen))
	t.Cleanup(ts.Close)

	api, err := whmapi.New(whmapi.Options{BaseURL: ts.URL, User: "root", Token: "TOKEN", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	transport, err := tail.NewHTTPTransport(tail.HTTPOptions{
		BaseURL:       ts.URL,
		Path:          mock.DefaultTailPath,
		Authorization: api.Authorization(whmapi.WHMv1),
	})
	if err != nil {
		t.Fatal(err)
	}

	w := newWatcher()
	p := &autoPrompter{}
	s := transfer.New(transfer.Config{
		ID:           gen.ID(),
		InitialState: gen.State(),
		Requested:    requested,
		Controller:   api,
		Tailer:       tail.New(transport, "transfer", gen.ID(), tail.WithInterval(10*time.Millisecond)),
		Prompter:     p,
		Listeners:    []transfer.StateChangeListener{w.onState},
	})
	s.AddRecordListener(w.onRecord)
	t.Cleanup(s.Close)
	return s, w, p
}

func waitTerminal(t *testing.T, w *watcher) {
	t.Helper()
	select {
	case <-w.done:
	case <-time.After(10 * time.Second):
		w.mu.Lock()
		defer w.mu.Unlock()
		t.Fatalf("session did not finish; states so far %v", w.states)
	}
}

func TestSessionFollowsMockTransfer(t *testing.T) {
	gen := mock.NewGenerator(mock.GeneratorOptions{Items: []string{"alice", "bob", "carol"}, LinesPerItem: 4, MalformedEvery: 2})
	s, w, p := startSession(t, mock.ServerOptions{}, gen, transfer.ActionStart)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if s.State() != transfer.Running || s.PID() <= 0 {
		t.Fatalf("after Init: state %s pid %d", s.State(), s.PID())
	}
	go gen.Run(ctx, 5*time.Millisecond)

	waitTerminal(t, w)

	if s.State() != transfer.Completed {
		t.Errorf("state = %s, want COMPLETED", s.State())
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range 3 {
		if w.lines[mock.ChildLog(i)] == 0 {
			t.Errorf("no lines delivered for %s", mock.ChildLog(i))
		}
	}
	if w.errs == 0 {
		t.Error("malformed child lines were not delivered as error records")
	}
	if len(p.alerts) != 0 {
		t.Errorf("alerts = %q", p.alerts)
	}
}

func TestSessionAbortAgainstMock(t *testing.T) {
	gen := mock.NewGenerator(mock.GeneratorOptions{Items: []string{"alice"}, LinesPerItem: 1000})
	if _, err := gen.Start(); err != nil {
		t.Fatal(err)
	}
	s, w, _ := startSession(t, mock.ServerOptions{Hold: 200 * time.Millisecond}, gen, transfer.ActionAbort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gen.Run(ctx, 5*time.Millisecond)

	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}

	waitTerminal(t, w)
	if s.State() != transfer.Aborted {
		t.Errorf("state = %s, want ABORTED", s.State())
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.states[0] != transfer.Running || w.states[1] != transfer.Aborting {
		t.Errorf("states = %v", w.states)
	}
}
