package mock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTailPath = "/cgi/live_tail_log.cgi"

	holdPoll = 100 * time.Millisecond
)

// ServerOptions configures NewServer.
type ServerOptions struct {
	TailPath string
	// User and Token, when Token is set, are required in an
	// "Authorization: whm user:token" header on every request.
	User  string
	Token string
	// Hold keeps a tail response open this long, streaming new lines as
	// the session writes them. 0 answers every poll immediately.
	Hold   time.Duration
	Logger *zap.Logger
}

// Server serves the WHM API 1 transfer calls and the log tail endpoint
// for a set of generated sessions.
type Server struct {
	opts   ServerOptions
	logger *zap.Logger
	mux    *http.ServeMux

	mu       sync.RWMutex
	sessions map[string]*Generator
}

func NewServer(opts ServerOptions, sessions ...*Generator) *Server {
	if opts.TailPath == "" {
		opts.TailPath = DefaultTailPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		opts:     opts,
		logger:   logger.Named("mock"),
		sessions: make(map[string]*Generator),
	}
	for _, g := range sessions {
		s.sessions[g.ID()] = g
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /json-api/{func}", s.handleAPI)
	s.mux.HandleFunc("GET "+opts.TailPath, s.handleTail)
	return s
}

// Add registers another session.
func (s *Server) Add(g *Generator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[g.ID()] = g
}

func (s *Server) session(id string) *Generator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.opts.Token != "" && r.Header.Get("Authorization") != "whm "+s.opts.User+":"+s.opts.Token {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}
	s.mux.ServeHTTP(w, r)
}

type metadata struct {
	Result  int    `json:"result"`
	Reason  string `json:"reason"`
	Command string `json:"command"`
	Version int    `json:"version"`
}

func writeAPI(w http.ResponseWriter, command string, data any, err error) {
	resp := struct {
		Metadata metadata `json:"metadata"`
		Data     any      `json:"data,omitempty"`
	}{
		Metadata: metadata{Result: 1, Reason: "OK", Command: command, Version: 1},
		Data:     data,
	}
	if err != nil {
		resp.Metadata.Result = 0
		resp.Metadata.Reason = err.Error()
		resp.Data = nil
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	fn := r.PathValue("func")
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := r.PostForm.Get("transfer_session_id")
	s.logger.Debug("api call", zap.String("func", fn), zap.String("session_id", id))

	g := s.session(id)
	if g == nil {
		writeAPI(w, fn, nil, fmt.Errorf("invalid transfer session id %q", id))
		return
	}

	switch fn {
	case "start_transfer_session":
		pid, err := g.Start()
		writeAPI(w, fn, map[string]int{"pid": pid}, err)
	case "pause_transfer_session":
		writeAPI(w, fn, nil, g.Pause())
	case "abort_transfer_session":
		writeAPI(w, fn, nil, g.Abort())
	case "get_transfer_session_state":
		state := g.State()
		writeAPI(w, fn, map[string]any{"state": int(state), "state_name": state.String()}, nil)
	default:
		writeAPI(w, fn, nil, fmt.Errorf("unknown function %q", fn))
	}
}

type tailRequest struct {
	names     []string
	positions map[string]int64
}

func parseTailRequest(r *http.Request) (tailRequest, error) {
	q := r.URL.Query()
	req := tailRequest{positions: make(map[string]int64)}
	for n := 1; ; n++ {
		name := q.Get("log_file" + strconv.Itoa(n))
		if name == "" {
			break
		}
		pos, err := strconv.ParseInt(q.Get("log_file_position"+strconv.Itoa(n)), 10, 64)
		if err != nil || pos < 0 {
			return req, fmt.Errorf("bad position for %s", name)
		}
		req.names = append(req.names, name)
		req.positions[name] = pos
	}
	return req, nil
}

// handleTail writes name|length|payload for every complete line past the
// requested offsets. The end marker follows once the session is over and
// everything has been sent; otherwise the response ends with a keepalive.
func (s *Server) handleTail(w http.ResponseWriter, r *http.Request) {
	g := s.session(r.URL.Query().Get("session_id"))
	if g == nil {
		http.Error(w, "No such transfer session", http.StatusNotFound)
		return
	}
	termination := r.URL.Query().Get("termination_integer")
	if termination == "" {
		http.Error(w, "termination_integer is required", http.StatusBadRequest)
		return
	}
	req, err := parseTailRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	flusher, _ := w.(http.Flusher)
	deadline := time.Now().Add(s.opts.Hold)

	for {
		// Read the state before the logs so a terminal state implies the
		// logs below are final.
		over := g.State().IsTerminal()
		for _, name := range req.names {
			for _, line := range g.Since(name, req.positions[name]) {
				fmt.Fprintf(w, "%s|%d|%s\n", name, line.Length, line.Payload)
				req.positions[name] += line.Length
			}
		}
		if over {
			fmt.Fprintf(w, "[tail_end:%s]\n", termination)
			return
		}
		fmt.Fprint(w, ".\n")
		if flusher != nil {
			flusher.Flush()
		}
		if !time.Now().Before(deadline) {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-time.After(holdPoll):
		}
	}
}
