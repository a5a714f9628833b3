// Package tail follows server-side transfer logs over repeated HTTP
// polls. One request carries the byte offset of every subscribed log; the
// response multiplexes new lines of all of them as name|length|payload,
// with "." keep-alives and a per-reader end marker. Offsets only advance
// over complete lines, so a cut-off response is picked up again by the
// next request without loss or duplication.
package tail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultInterval         = 250 * time.Millisecond
	DefaultMaxRequestErrors = 10
	DefaultMaxLogErrors     = 150

	maxErrorBody = 512
)

// Reporter surfaces user-facing error messages. It is a sink only; the
// reader's control flow does not depend on it.
type Reporter interface {
	RenderMessage(text string)
}

type tickerFunc func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Option configures a Reader.
type Option func(*Reader)

// WithReporter sets the collaborator that receives error messages. Without
// one, messages are logged at error level.
func WithReporter(rep Reporter) Option {
	return func(r *Reader) { r.reporter = rep }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithInterval sets the poll interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLimits overrides the request error ceiling and the per-log
// malformed payload ceiling. Non-positive values keep the defaults.
func WithLimits(maxRequestErrors, maxLogErrors int) Option {
	return func(r *Reader) {
		if maxRequestErrors > 0 {
			r.maxRequestErrors = maxRequestErrors
		}
		if maxLogErrors > 0 {
			r.maxLogErrors = maxLogErrors
		}
	}
}

func withTicker(f tickerFunc) Option {
	return func(r *Reader) { r.newTicker = f }
}

// subscription is one tracked log.
type subscription struct {
	name           string
	bytesProcessed int64
	raw            bool
	errorCount     int // malformed payloads seen; never reset
	handler        Handler
}

// cycle is one outstanding tail request. status, errBody and err are
// written by the exchange goroutine before finished is closed.
type cycle struct {
	cancel     context.CancelFunc
	buf        lineBuffer
	finished   chan struct{}
	reachedEnd bool // guarded by Reader.mu

	status  int
	errBody string
	err     error
}

func (c *cycle) done() bool {
	select {
	case <-c.finished:
		return true
	default:
		return false
	}
}

// Reader multiplexes any number of log subscriptions over a single poll
// loop. It owns its driver goroutine: the first subscription starts it,
// and it stops when the last one goes away, at end of stream, or on
// Abort. Handlers run on the driver goroutine, one at a time and in
// stream order, without any reader lock held, so they may call back into
// the reader.
type Reader struct {
	transport        Transport
	reporter         Reporter
	logger           *zap.Logger
	interval         time.Duration
	maxRequestErrors int
	maxLogErrors     int
	newTicker        tickerFunc

	systemID    string
	sessionID   string
	termination int64
	endLine     string

	ticking sync.Mutex // serialises tick

	mu         sync.Mutex
	logs       map[string]*subscription
	deleted    map[string]bool // removed since the current cycle started
	dirty      bool
	cycle      *cycle
	errorCount int // request level failures since the last good line
	stopDriver context.CancelFunc
}

// New creates an idle reader for the given system and session. The end
// marker integer is drawn once here and reused for every request this
// reader makes.
func New(transport Transport, systemID, sessionID string, opts ...Option) *Reader {
	termination := rand.Int64N(math.MaxInt32) + 1
	r := &Reader{
		transport:        transport,
		logger:           zap.NewNop(),
		interval:         DefaultInterval,
		maxRequestErrors: DefaultMaxRequestErrors,
		maxLogErrors:     DefaultMaxLogErrors,
		newTicker:        realTicker,
		systemID:         systemID,
		sessionID:        sessionID,
		termination:      termination,
		endLine:          endMarker(termination),
		logs:             make(map[string]*subscription),
		deleted:          make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("tail").With(zap.String("session_id", sessionID))
	return r
}

// AddLog subscribes to a JSON log. Adding a name that is already tracked
// restarts it from offset 0.
func (r *Reader) AddLog(name string, h Handler) {
	r.addLog(name, h, false)
}

// AddRawLog subscribes to a log whose payloads are delivered verbatim in
// Record.Raw.
func (r *Reader) AddRawLog(name string, h Handler) {
	r.addLog(name, h, true)
}

func (r *Reader) addLog(name string, h Handler, raw bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logs[name] = &subscription{name: name, raw: raw, handler: h}
	delete(r.deleted, name)
	r.dirty = true
	if r.stopDriver == nil {
		r.startDriverLocked()
	}
	r.logger.Debug("log added", zap.String("log", name), zap.Bool("raw", raw))
}

// DelLog unsubscribes a log. Lines for it that are still in flight are
// dropped. Removing the last log stops the driver.
func (r *Reader) DelLog(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.logs[name]; !ok {
		return
	}
	delete(r.logs, name)
	r.deleted[name] = true
	r.logger.Debug("log removed", zap.String("log", name))

	if len(r.logs) == 0 {
		if r.cycle != nil {
			r.cycle.cancel()
			r.cycle = nil
		}
		r.dirty = false
		r.stopDriverLocked()
	}
}

// HasLogs reports whether any log is subscribed.
func (r *Reader) HasLogs() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs) > 0
}

// BytesProcessed returns the offset reached for a subscribed log.
func (r *Reader) BytesProcessed(name string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.logs[name]
	if !ok {
		return 0, false
	}
	return sub.bytesProcessed, true
}

// Running reports whether the poll driver is active.
func (r *Reader) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopDriver != nil
}

// Abort ends the current cycle, cancels the outstanding request and
// drops every subscription. Nothing is delivered afterwards until a log
// is added again.
func (r *Reader) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Debug("abort")
	r.shutdownLocked()
}

func (r *Reader) startDriverLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	r.stopDriver = cancel
	go r.drive(ctx)
}

func (r *Reader) stopDriverLocked() {
	if r.stopDriver != nil {
		r.stopDriver()
		r.stopDriver = nil
	}
}

func (r *Reader) drive(ctx context.Context) {
	ticks, stop := r.newTicker(r.interval)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			r.tick()
		}
	}
}

// shutdownLocked parks the reader. Caller holds mu.
func (r *Reader) shutdownLocked() {
	if r.cycle != nil {
		r.cycle.reachedEnd = true
		r.cycle.cancel()
		r.cycle = nil
	}
	r.logs = make(map[string]*subscription)
	r.deleted = make(map[string]bool)
	r.dirty = false
	r.errorCount = 0
	r.stopDriverLocked()
}

// tick runs one step of the poll loop: start a request when the
// subscription set or the previous request changed, otherwise consume
// whatever complete lines arrived since the last tick.
func (r *Reader) tick() {
	r.ticking.Lock()
	defer r.ticking.Unlock()

	r.mu.Lock()
	if r.dirty {
		r.startCycleLocked()
		r.mu.Unlock()
		return
	}
	c := r.cycle
	r.mu.Unlock()
	if c == nil {
		return
	}

	// Observe completion before draining so that every byte of a
	// finished body is consumed before the cycle is closed out.
	finished := c.done()
	r.drain(c)
	if finished {
		r.finish(c)
	}
}

func (r *Reader) startCycleLocked() {
	if r.cycle != nil {
		r.cycle.cancel()
		r.cycle = nil
	}
	r.dirty = false
	r.deleted = make(map[string]bool)
	if len(r.logs) == 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &cycle{cancel: cancel, finished: make(chan struct{})}
	r.cycle = c
	query := r.queryLocked()
	r.logger.Debug("tail request", zap.Int("logs", len(r.logs)))
	go r.exchange(ctx, c, query)
}

func (r *Reader) queryLocked() url.Values {
	q := url.Values{}
	q.Set("system_id", r.systemID)
	q.Set("session_id", r.sessionID)
	q.Set("termination_integer", strconv.FormatInt(r.termination, 10))

	names := make([]string, 0, len(r.logs))
	for name := range r.logs {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		n := strconv.Itoa(i + 1)
		q.Set("log_file"+n, name)
		q.Set("log_file_position"+n, strconv.FormatInt(r.logs[name].bytesProcessed, 10))
	}
	return q
}

// exchange performs the request and streams a 200 body into the cycle's
// buffer. Any other status keeps a prefix of the body as the message.
func (r *Reader) exchange(ctx context.Context, c *cycle, query url.Values) {
	defer close(c.finished)

	resp, err := r.transport.Get(ctx, query)
	if err != nil {
		c.err = err
		return
	}
	defer resp.Body.Close()

	c.status = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.errBody = strings.TrimSpace(string(body))
		return
	}
	if _, err := io.Copy(&c.buf, resp.Body); err != nil {
		c.err = err
	}
}

// outcome is what processing one line produced. It is acted on after mu
// is released.
type outcome struct {
	handler Handler
	rec     Record
	log     string
	notices []string
}

func (r *Reader) drain(c *cycle) {
	for {
		r.mu.Lock()
		if r.cycle != c || c.reachedEnd {
			r.mu.Unlock()
			return
		}
		line, ok := c.buf.Next()
		if !ok {
			r.mu.Unlock()
			return
		}
		out := r.processLineLocked(c, line)
		r.mu.Unlock()

		r.report(out.notices)
		if out.handler != nil {
			out.handler(out.rec, out.log)
		}
	}
}

func (r *Reader) processLineLocked(c *cycle, line string) outcome {
	switch line {
	case keepAlive:
		r.errorCount = 0
		return outcome{}
	case r.endLine:
		// Anything after the marker is ignored; stop reading the body.
		c.reachedEnd = true
		c.cancel()
		return outcome{}
	case "":
		return outcome{}
	}

	f, ok := splitFrame(line)
	if !ok {
		return outcome{notices: r.failLocked(http.StatusInternalServerError, line)}
	}
	if r.deleted[f.name] {
		return outcome{}
	}
	sub, ok := r.logs[f.name]
	if !ok {
		r.logger.Debug("line for unknown log dropped", zap.String("log", f.name))
		return outcome{}
	}

	r.errorCount = 0
	sub.bytesProcessed += f.length
	return r.dispatchLocked(sub, f.payload)
}

func (r *Reader) dispatchLocked(sub *subscription, payload string) outcome {
	out := outcome{handler: sub.handler, log: sub.name}
	if sub.raw {
		out.rec = Record{Raw: payload}
		return out
	}

	rec, err := decodeRecord(payload)
	if err == nil {
		out.rec = rec
		return out
	}

	sub.errorCount++
	switch {
	case sub.errorCount < r.maxLogErrors:
		out.rec = errorRecord(payload, payload)
	case sub.errorCount == r.maxLogErrors:
		r.logger.Warn("suppressing further payload errors", zap.String("log", sub.name), zap.Int("errors", sub.errorCount))
		out.rec = errorRecord(payload, payload, SuppressedNotice)
	default:
		return outcome{}
	}
	return out
}

// failLocked accounts for a failed request or a malformed stream line.
// Status 0 means the request never got an answer (or was cancelled) and
// is not counted. Redirects count but stay quiet.
func (r *Reader) failLocked(status int, msg string) []string {
	if status <= 0 {
		return nil
	}
	r.errorCount++
	r.logger.Debug("tail failure", zap.Int("status", status), zap.Int("errors", r.errorCount))

	var notices []string
	if status != http.StatusMovedPermanently && status != http.StatusTemporaryRedirect {
		notices = append(notices, fmt.Sprintf("HTTP %d: %s", status, msg))
	}
	if r.errorCount >= r.maxRequestErrors {
		notices = append(notices, fmt.Sprintf("Too many errors (%d); no longer following the transfer logs.", r.errorCount))
		r.logger.Warn("error ceiling reached, tail stopped", zap.Int("errors", r.errorCount))
		r.shutdownLocked()
	}
	return notices
}

// finish closes out a completed request: report a failed status, then
// either park the reader (end marker seen) or schedule a new request with
// the updated offsets.
func (r *Reader) finish(c *cycle) {
	r.mu.Lock()
	if r.cycle != c {
		r.mu.Unlock()
		return
	}
	c.cancel()

	if c.err != nil && !errors.Is(c.err, context.Canceled) {
		r.logger.Debug("tail request error", zap.Error(c.err))
	}
	var notices []string
	if c.status != 0 && c.status != http.StatusOK {
		msg := c.errBody
		if msg == "" {
			msg = http.StatusText(c.status)
		}
		notices = r.failLocked(c.status, msg)
	}

	if r.cycle == c {
		r.cycle = nil
		if c.reachedEnd {
			r.logger.Info("end of transfer logs")
			r.shutdownLocked()
		} else {
			r.dirty = true
		}
	}
	r.mu.Unlock()

	r.report(notices)
}

func (r *Reader) report(notices []string) {
	for _, n := range notices {
		if r.reporter != nil {
			r.reporter.RenderMessage(n)
			continue
		}
		r.logger.Error("tail error", zap.String("message", n))
	}
}
