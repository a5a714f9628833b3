package tail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- test doubles ---

type transportFunc func(ctx context.Context, q url.Values) (*Response, error)

func (f transportFunc) Get(ctx context.Context, q url.Values) (*Response, error) {
	return f(ctx, q)
}

func respond(status int, body string) *Response {
	return &Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

type step struct {
	status int
	body   string
	err    error
}

// queueTransport answers requests from a fixed script, then with empty
// 200 responses.
type queueTransport struct {
	mu      sync.Mutex
	steps   []step
	queries []url.Values
}

func (q *queueTransport) Get(_ context.Context, v url.Values) (*Response, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, v)
	if len(q.steps) == 0 {
		return respond(200, ""), nil
	}
	s := q.steps[0]
	q.steps = q.steps[1:]
	if s.err != nil {
		return nil, s.err
	}
	return respond(s.status, s.body), nil
}

// logServer models the tail endpoint: each log is a list of payload lines
// and a request gets every line at or after the requested offset.
type logServer struct {
	mu      sync.Mutex
	logs    map[string][]string
	cut     int // truncate the next response to this many bytes; <0 disables
	end     bool
	queries []url.Values
}

func newLogServer(logs map[string][]string) *logServer {
	return &logServer{logs: logs, cut: -1}
}

func (s *logServer) body(q url.Values) string {
	var b strings.Builder
	for i := 1; ; i++ {
		n := strconv.Itoa(i)
		name := q.Get("log_file" + n)
		if name == "" {
			break
		}
		pos, _ := strconv.ParseInt(q.Get("log_file_position"+n), 10, 64)
		var off int64
		for _, payload := range s.logs[name] {
			size := int64(len(payload) + 1)
			if off >= pos {
				fmt.Fprintf(&b, "%s|%d|%s\n", name, size, payload)
			}
			off += size
		}
	}
	if s.end {
		b.WriteString(endMarker(mustInt(q.Get("termination_integer"))) + "\n")
	}
	out := b.String()
	if s.cut >= 0 && s.cut < len(out) {
		out = out[:s.cut]
	}
	s.cut = -1
	return out
}

func (s *logServer) Get(_ context.Context, q url.Values) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	return respond(200, s.body(q)), nil
}

func (s *logServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := req.URL.Query()
	s.queries = append(s.queries, q)
	io.WriteString(w, s.body(q))
}

func mustInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

type delivered struct {
	log string
	rec Record
}

type collector struct {
	mu  sync.Mutex
	got []delivered
}

func (c *collector) handle(rec Record, log string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, delivered{log: log, rec: rec})
}

func (c *collector) all() []delivered {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivered(nil), c.got...)
}

func (c *collector) raws(log string) []string {
	var out []string
	for _, d := range c.all() {
		if d.log == log {
			out = append(out, d.rec.Raw)
		}
	}
	return out
}

type recordingReporter struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingReporter) RenderMessage(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
}

func (r *recordingReporter) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

// manualTicker never fires; tests drive the loop by calling tick.
func manualTicker(time.Duration) (<-chan time.Time, func()) {
	return nil, func() {}
}

func newTestReader(t *testing.T, tr Transport, opts ...Option) *Reader {
	t.Helper()
	r := New(tr, "sys", "sess", append([]Option{withTicker(manualTicker)}, opts...)...)
	t.Cleanup(r.Abort)
	return r
}

func currentCycle(r *Reader) *cycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycle
}

func waitFinished(t *testing.T, c *cycle) {
	t.Helper()
	select {
	case <-c.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not finish")
	}
}

// runCycle starts a request, lets it complete, then drains and closes it
// out.
func runCycle(t *testing.T, r *Reader) {
	t.Helper()
	r.tick()
	c := currentCycle(r)
	if c == nil {
		t.Fatal("no request in flight")
	}
	waitFinished(t, c)
	r.tick()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// --- tests ---

func TestReaderDeliversInStreamOrder(t *testing.T) {
	body := strings.Join([]string{
		`a|15|{"type":"out"}`,
		`b|4|hi!`,
		`.`,
		`a|17|{"type":"warn"}`,
		`b|6|there`,
		``,
	}, "\n")
	tr := &queueTransport{steps: []step{{status: 200, body: body}}}
	r := newTestReader(t, tr)

	var col collector
	r.AddLog("a", col.handle)
	r.AddRawLog("b", col.handle)
	runCycle(t, r)

	got := col.all()
	want := []struct{ log, raw, typ string }{
		{"a", `{"type":"out"}`, "out"},
		{"b", "hi!", ""},
		{"a", `{"type":"warn"}`, "warn"},
		{"b", "there", ""},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if got[i].log != w.log || got[i].rec.Raw != w.raw || got[i].rec.Type != w.typ {
			t.Errorf("record %d = %s %q (%q), want %s %q (%q)", i, got[i].log, got[i].rec.Raw, got[i].rec.Type, w.log, w.raw, w.typ)
		}
	}

	if n, _ := r.BytesProcessed("a"); n != 32 {
		t.Errorf("a offset = %d, want 32", n)
	}
	if n, _ := r.BytesProcessed("b"); n != 10 {
		t.Errorf("b offset = %d, want 10", n)
	}
}

func TestReaderQueryCarriesOffsets(t *testing.T) {
	srv := newLogServer(map[string][]string{
		"a": {`{"type":"out"}`},
		"b": {"one", "two"},
	})
	r := newTestReader(t, srv)

	var col collector
	r.AddRawLog("b", col.handle)
	r.AddLog("a", col.handle)
	runCycle(t, r)
	runCycle(t, r)

	if len(srv.queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(srv.queries))
	}
	first, second := srv.queries[0], srv.queries[1]

	checks := []struct {
		q          url.Values
		key, value string
	}{
		{first, "system_id", "sys"},
		{first, "session_id", "sess"},
		{first, "log_file1", "a"},
		{first, "log_file_position1", "0"},
		{first, "log_file2", "b"},
		{first, "log_file_position2", "0"},
		{second, "log_file_position1", "15"},
		{second, "log_file_position2", "8"},
		{first, "termination_integer", strconv.FormatInt(r.termination, 10)},
		{second, "termination_integer", strconv.FormatInt(r.termination, 10)},
	}
	for _, c := range checks {
		if got := c.q.Get(c.key); got != c.value {
			t.Errorf("%s = %q, want %q", c.key, got, c.value)
		}
	}
	if r.termination <= 0 {
		t.Errorf("termination integer %d should be positive", r.termination)
	}

	// The second response repeats nothing.
	if got := col.raws("b"); !equalStrings(got, []string{"one", "two"}) {
		t.Errorf("b records = %q", got)
	}
}

func TestReaderResumesTruncatedResponse(t *testing.T) {
	logs := map[string][]string{
		"a": {`{"type":"out","n":1}`, `{"type":"out","n":2}`},
		"b": {"hello", "world"},
	}
	full := newLogServer(logs).body(url.Values{
		"log_file1": {"a"}, "log_file_position1": {"0"},
		"log_file2": {"b"}, "log_file_position2": {"0"},
	})

	for cut := 0; cut <= len(full); cut++ {
		t.Run(strconv.Itoa(cut), func(t *testing.T) {
			srv := newLogServer(logs)
			srv.cut = cut
			r := newTestReader(t, srv)

			var col collector
			r.AddLog("a", col.handle)
			r.AddRawLog("b", col.handle)
			runCycle(t, r)
			runCycle(t, r)

			if got := col.raws("a"); !equalStrings(got, logs["a"]) {
				t.Errorf("a records = %q", got)
			}
			if got := col.raws("b"); !equalStrings(got, logs["b"]) {
				t.Errorf("b records = %q", got)
			}
		})
	}
}

func TestReaderKeepAliveOnly(t *testing.T) {
	tr := &queueTransport{steps: []step{{status: 200, body: ".\n.\n.\n"}}}
	r := newTestReader(t, tr)

	var col collector
	r.AddLog("a", col.handle)
	runCycle(t, r)

	if len(col.all()) != 0 {
		t.Errorf("keep-alives produced records: %+v", col.all())
	}
	if n, _ := r.BytesProcessed("a"); n != 0 {
		t.Errorf("offset = %d, want 0", n)
	}
	if !r.Running() {
		t.Error("reader should keep polling")
	}
}

func TestReaderStopsAtEndMarker(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []url.Values
	)
	tr := transportFunc(func(_ context.Context, q url.Values) (*Response, error) {
		mu.Lock()
		queries = append(queries, q)
		mu.Unlock()
		end := endMarker(mustInt(q.Get("termination_integer")))
		return respond(200, "a|3|{}\n"+end+"\na|3|{}\n"), nil
	})
	r := newTestReader(t, tr)

	var col collector
	r.AddLog("a", col.handle)
	runCycle(t, r)

	if n := len(col.all()); n != 1 {
		t.Fatalf("delivered %d records, want 1", n)
	}
	if r.Running() || r.HasLogs() {
		t.Fatalf("reader should be idle after end marker (running=%v logs=%v)", r.Running(), r.HasLogs())
	}
	r.tick()
	if currentCycle(r) != nil {
		t.Fatal("no request should be made after the end marker")
	}

	// Re-adding starts over from the beginning.
	r.AddLog("a", col.handle)
	runCycle(t, r)
	mu.Lock()
	defer mu.Unlock()
	if len(queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(queries))
	}
	if pos := queries[1].Get("log_file_position1"); pos != "0" {
		t.Errorf("restarted position = %q, want 0", pos)
	}
}

func TestReaderSuppressesMalformedPayloads(t *testing.T) {
	body := "a|5|bad1\na|5|bad2\nb|5|oops\na|5|bad3\na|5|bad4\na|5|bad5\n"
	tr := &queueTransport{steps: []step{{status: 200, body: body}}}
	r := newTestReader(t, tr, WithLimits(0, 3))

	var col collector
	r.AddLog("a", col.handle)
	r.AddLog("b", col.handle)
	runCycle(t, r)

	var a, b [][]string
	for _, d := range col.all() {
		if d.rec.Type != "error" {
			t.Errorf("record type = %q, want error", d.rec.Type)
		}
		switch d.log {
		case "a":
			a = append(a, d.rec.Messages())
		case "b":
			b = append(b, d.rec.Messages())
		}
	}

	wantA := [][]string{{"bad1"}, {"bad2"}, {"bad3", SuppressedNotice}}
	if len(a) != len(wantA) {
		t.Fatalf("a error records = %q, want %q", a, wantA)
	}
	for i := range wantA {
		if !equalStrings(a[i], wantA[i]) {
			t.Errorf("a record %d = %q, want %q", i, a[i], wantA[i])
		}
	}
	if len(b) != 1 || !equalStrings(b[0], []string{"oops"}) {
		t.Errorf("b error records = %q", b)
	}

	if n, _ := r.BytesProcessed("a"); n != 25 {
		t.Errorf("a offset = %d, want 25", n)
	}
}

func TestReaderDropsUnknownAndDeletedLogs(t *testing.T) {
	body := "zzz|3|abc\na|3|{}\nb|2|x\na|3|{}\nb|2|y\n"
	tr := &queueTransport{steps: []step{{status: 200, body: body}}}
	r := newTestReader(t, tr)

	var col collector
	r.AddLog("a", func(rec Record, log string) {
		col.handle(rec, log)
		r.DelLog("a")
	})
	r.AddRawLog("b", col.handle)
	runCycle(t, r)

	got := col.all()
	want := []string{"a:{}", "b:x", "b:y"}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		if s := got[i].log + ":" + got[i].rec.Raw; s != w {
			t.Errorf("record %d = %q, want %q", i, s, w)
		}
	}
	if _, ok := r.BytesProcessed("a"); ok {
		t.Error("deleted log still tracked")
	}
	if !r.Running() {
		t.Error("reader should keep running while b is subscribed")
	}
}

func TestReaderRequestFailures(t *testing.T) {
	tests := []struct {
		name        string
		steps       []step
		maxRequest  int
		wantNotices []string
		wantRunning bool
		wantErrors  int
	}{
		{
			name:        "server error with body",
			steps:       []step{{status: 500, body: "boom\n"}},
			wantNotices: []string{"HTTP 500: boom"},
			wantRunning: true,
			wantErrors:  1,
		},
		{
			name:        "server error without body",
			steps:       []step{{status: 503}},
			wantNotices: []string{"HTTP 503: Service Unavailable"},
			wantRunning: true,
			wantErrors:  1,
		},
		{
			name:        "redirect counts quietly",
			steps:       []step{{status: 301}, {status: 307}},
			wantRunning: true,
			wantErrors:  2,
		},
		{
			name:        "transport error is retried silently",
			steps:       []step{{err: errors.New("connection refused")}},
			wantRunning: true,
		},
		{
			name:        "malformed line",
			steps:       []step{{status: 200, body: "garbage\n"}},
			wantNotices: []string{"HTTP 500: garbage"},
			wantRunning: true,
			wantErrors:  1,
		},
		{
			name:       "ceiling stops the reader",
			steps:      []step{{status: 500, body: "a"}, {status: 502, body: "b"}},
			maxRequest: 2,
			wantNotices: []string{
				"HTTP 500: a",
				"HTTP 502: b",
				"Too many errors (2); no longer following the transfer logs.",
			},
		},
		{
			name:        "keep-alive resets the count",
			steps:       []step{{status: 500, body: "a"}, {status: 200, body: ".\n"}, {status: 500, body: "b"}},
			maxRequest:  2,
			wantNotices: []string{"HTTP 500: a", "HTTP 500: b"},
			wantRunning: true,
			wantErrors:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := &recordingReporter{}
			tr := &queueTransport{steps: tt.steps}
			r := newTestReader(t, tr, WithReporter(rep), WithLimits(tt.maxRequest, 0))

			var col collector
			r.AddLog("a", col.handle)
			for range tt.steps {
				runCycle(t, r)
			}

			if got := rep.messages(); !equalStrings(got, tt.wantNotices) {
				t.Errorf("notices = %q, want %q", got, tt.wantNotices)
			}
			if r.Running() != tt.wantRunning {
				t.Errorf("Running() = %v, want %v", r.Running(), tt.wantRunning)
			}
			r.mu.Lock()
			errs := r.errorCount
			r.mu.Unlock()
			if errs != tt.wantErrors {
				t.Errorf("errorCount = %d, want %d", errs, tt.wantErrors)
			}
			if len(col.all()) != 0 {
				t.Errorf("unexpected records: %+v", col.all())
			}
		})
	}
}

func TestReaderConsumesOpenStream(t *testing.T) {
	pr, pw := io.Pipe()
	tr := transportFunc(func(ctx context.Context, _ url.Values) (*Response, error) {
		go func() {
			<-ctx.Done()
			pr.CloseWithError(ctx.Err())
		}()
		return &Response{StatusCode: 200, Body: pr}, nil
	})
	r := newTestReader(t, tr)

	var col collector
	r.AddRawLog("a", col.handle)
	r.tick()
	c := currentCycle(r)

	// Write a full line and half of the next one while the response is
	// still open.
	io.WriteString(pw, "a|4|one\na|4|tw")
	deadline := time.Now().Add(2 * time.Second)
	for len(col.all()) < 1 {
		if time.Now().After(deadline) {
			t.Fatal("line from open stream was not delivered")
		}
		r.tick()
		time.Sleep(time.Millisecond)
	}
	if got := col.raws("a"); !equalStrings(got, []string{"one"}) {
		t.Fatalf("records = %q", got)
	}

	io.WriteString(pw, "o\n")
	pw.Close()
	waitFinished(t, c)
	r.tick()

	if got := col.raws("a"); !equalStrings(got, []string{"one", "two"}) {
		t.Errorf("records = %q", got)
	}
	if n, _ := r.BytesProcessed("a"); n != 8 {
		t.Errorf("offset = %d, want 8", n)
	}
}

func TestReaderAbortCancelsRequest(t *testing.T) {
	tr := transportFunc(func(ctx context.Context, _ url.Values) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	rep := &recordingReporter{}
	r := newTestReader(t, tr, WithReporter(rep))

	var col collector
	r.AddLog("a", col.handle)
	r.tick()
	c := currentCycle(r)
	if c == nil {
		t.Fatal("no request in flight")
	}

	r.Abort()
	waitFinished(t, c)
	r.tick()

	if r.Running() || r.HasLogs() {
		t.Error("reader should be idle after Abort")
	}
	if currentCycle(r) != nil {
		t.Error("cycle should be cleared")
	}
	if len(col.all()) != 0 || len(rep.messages()) != 0 {
		t.Error("nothing should be delivered after Abort")
	}
}

func TestReaderDelLastLogStops(t *testing.T) {
	tr := transportFunc(func(ctx context.Context, _ url.Values) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	r := newTestReader(t, tr)

	r.AddLog("a", func(Record, string) {})
	r.tick()
	c := currentCycle(r)

	r.DelLog("a")
	waitFinished(t, c)
	if r.Running() || r.HasLogs() {
		t.Error("reader should stop when the last log is removed")
	}
	r.DelLog("a") // no-op
}

func TestReaderOverHTTP(t *testing.T) {
	srv := newLogServer(map[string][]string{
		"master.log": {`{"type":"control","contents":{"action":"running"}}`, `{"type":"out","contents":{"msg":"copying"}}`},
	})
	srv.end = true
	ts := httptest.NewServer(srv)
	defer ts.Close()

	tr, err := NewHTTPTransport(HTTPOptions{BaseURL: ts.URL, Path: "/tail"})
	if err != nil {
		t.Fatal(err)
	}
	r := New(tr, "sys", "sess", WithInterval(5*time.Millisecond))
	defer r.Abort()

	var col collector
	r.AddLog("master.log", col.handle)

	deadline := time.Now().Add(5 * time.Second)
	for r.Running() {
		if time.Now().After(deadline) {
			t.Fatal("reader did not reach the end marker")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := col.all()
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].rec.Type != "control" || got[1].rec.Type != "out" {
		t.Errorf("types = %q, %q", got[0].rec.Type, got[1].rec.Type)
	}
	if msgs := got[1].rec.Messages(); !equalStrings(msgs, []string{"copying"}) {
		t.Errorf("messages = %q", msgs)
	}
}
