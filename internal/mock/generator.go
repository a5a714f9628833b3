// Package mock is a stand-in WHM server: a scripted transfer session and
// an HTTP handler serving its control calls and its log tail.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xferwatch/xferwatch/internal/transfer"
)

var (
	ErrAlreadyRunning = errors.New("the transfer session is already running")
	ErrFinished       = errors.New("the transfer session has already finished")
	ErrNotRunning     = errors.New("the transfer session is not running")
)

var defaultItems = []string{"alice", "bob", "carol", "dave"}

// GeneratorOptions describes the scripted transfer.
type GeneratorOptions struct {
	// SessionID defaults to a random id.
	SessionID string
	// Items are the accounts transferred, one child log each.
	Items        []string
	LinesPerItem int
	// MalformedEvery makes every Nth child line invalid JSON. 0 disables.
	MalformedEvery int
	InitialState   transfer.State
}

// Generator plays a transfer session forward one Step at a time and
// writes its master and child logs the way the server does: one JSON
// record per line, control records on the master log.
type Generator struct {
	mu             sync.Mutex
	id             string
	state          transfer.State
	pid            int
	items          []string
	linesPerItem   int
	malformedEvery int

	item    int // index of the item in progress
	line    int // lines written for it so far
	written int // child lines written overall
	logs    map[string][]byte
}

func NewGenerator(opts GeneratorOptions) *Generator {
	id := opts.SessionID
	if id == "" {
		id = "mock" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	items := opts.Items
	if len(items) == 0 {
		items = defaultItems
	}
	lines := opts.LinesPerItem
	if lines <= 0 {
		lines = 5
	}
	return &Generator{
		id:             id,
		state:          opts.InitialState,
		items:          append([]string(nil), items...),
		linesPerItem:   lines,
		malformedEvery: opts.MalformedEvery,
		logs:           map[string][]byte{transfer.DefaultMasterLog: nil},
	}
}

func (g *Generator) ID() string { return g.id }

func (g *Generator) State() transfer.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// ChildLog is the log name for the i-th item.
func ChildLog(i int) string {
	return fmt.Sprintf("item_%03d.log", i+1)
}

// Start starts or resumes the session and returns the worker pid.
func (g *Generator) Start() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case g.state.IsTerminal():
		return 0, ErrFinished
	case g.state == transfer.Running, g.state == transfer.Pausing, g.state == transfer.Aborting:
		return 0, ErrAlreadyRunning
	}

	action := "running"
	if g.state == transfer.Paused {
		action = "resumed"
	}
	g.pid = 4000 + rand.Intn(60000)
	g.state = transfer.Running
	g.control(action, "")
	g.out(transfer.DefaultMasterLog, fmt.Sprintf("Transfer worker started with pid %d", g.pid))
	return g.pid, nil
}

// Pause asks the worker to stop after the current item.
func (g *Generator) Pause() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != transfer.Running {
		return ErrNotRunning
	}
	g.state = transfer.Pausing
	g.control("pausing", "")
	return nil
}

func (g *Generator) Abort() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case transfer.Running, transfer.Pausing, transfer.Paused:
	default:
		return ErrNotRunning
	}
	g.state = transfer.Aborting
	g.control("aborting", "")
	return nil
}

// Step advances the script by one line of output.
func (g *Generator) Step() {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case transfer.Pausing:
		g.finishItem()
		g.state = transfer.Paused
		g.control("paused", "")
	case transfer.Aborting:
		if g.line > 0 {
			child := ChildLog(g.item)
			g.out(child, "Aborted")
			g.control("child_end", child)
			g.line = 0
		}
		g.state = transfer.Aborted
		g.control("aborted", "")
	case transfer.Running:
		g.advance()
	}
}

func (g *Generator) advance() {
	if g.item >= len(g.items) {
		g.out(transfer.DefaultMasterLog, fmt.Sprintf("Transferred %d accounts", len(g.items)))
		g.state = transfer.Completed
		g.control("completed", "")
		return
	}

	name := g.items[g.item]
	child := ChildLog(g.item)
	switch {
	case g.line == 0:
		g.out(transfer.DefaultMasterLog, "Transferring account "+name)
		g.control("child_start", child)
		g.out(child, "Starting transfer of "+name)
		g.line = 1
	case g.line < g.linesPerItem:
		g.written++
		if g.malformedEvery > 0 && g.written%g.malformedEvery == 0 {
			g.append(child, fmt.Sprintf("rsync: %s: partial transfer (code 23)", name))
		} else {
			g.out(child, fmt.Sprintf("%s: step %d of %d", name, g.line, g.linesPerItem-1))
		}
		g.line++
	default:
		g.finishItem()
	}
}

// finishItem closes out the item in progress, if any.
func (g *Generator) finishItem() {
	if g.line == 0 || g.item >= len(g.items) {
		return
	}
	child := ChildLog(g.item)
	g.out(child, "Done")
	g.control("child_end", child)
	g.out(transfer.DefaultMasterLog, "Transferred account "+g.items[g.item])
	g.item++
	g.line = 0
}

type record struct {
	Type     string `json:"type"`
	Contents any    `json:"contents"`
}

func (g *Generator) control(action, logFile string) {
	contents := map[string]string{"action": action}
	if logFile != "" {
		contents["log_file"] = logFile
	}
	g.record(transfer.DefaultMasterLog, record{Type: transfer.RecordControl, Contents: contents})
}

func (g *Generator) out(log, msg string) {
	g.record(log, record{Type: "out", Contents: map[string]string{"msg": msg}})
}

func (g *Generator) record(log string, rec record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	g.append(log, string(data))
}

func (g *Generator) append(log, line string) {
	g.logs[log] = append(g.logs[log], line+"\n"...)
}

// Line is one complete log line with the bytes it occupies in the file.
type Line struct {
	Payload string
	Length  int64
}

// Since returns the complete lines of log starting at byte offset. An
// unknown log or an offset past the end yields nothing.
func (g *Generator) Since(log string, offset int64) []Line {
	g.mu.Lock()
	defer g.mu.Unlock()

	data := g.logs[log]
	if offset < 0 || offset >= int64(len(data)) {
		return nil
	}
	var lines []Line
	rest := string(data[offset:])
	for {
		i := strings.IndexByte(rest, '\n')
		if i < 0 {
			return lines
		}
		lines = append(lines, Line{Payload: rest[:i], Length: int64(i + 1)})
		rest = rest[i+1:]
	}
}

// Size is the byte length of log.
func (g *Generator) Size(log string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int64(len(g.logs[log]))
}

// Run calls Step every interval until ctx is done or the session is over.
func (g *Generator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Step()
			if g.State().IsTerminal() {
				return
			}
		}
	}
}
