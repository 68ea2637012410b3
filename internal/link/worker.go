package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/kstaniek/go-btlink/internal/logging"
	"github.com/kstaniek/go-btlink/internal/metrics"
	"github.com/kstaniek/go-btlink/internal/serial"
)

const (
	DefaultReadTimeout  = 100 * time.Millisecond
	DefaultSettleDelay  = 5 * time.Second
	DefaultPollInterval = 10 * time.Millisecond
	DefaultEventBuffer  = 256

	// HandshakeCommand is written once, first, on every successful open.
	HandshakeCommand = "INIT_CHECK"
	// DisconnectedMessage accompanies the final ConnectionChanged(false).
	DisconnectedMessage = "Disconnected"

	readBufSize = 1024
)

// Config identifies the serial link. It is fixed for the worker's lifetime.
type Config struct {
	Port string
	Baud int
}

// Validate checks the port name and baud rate.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("%w: empty port", ErrInvalidConfig)
	}
	if c.Baud <= 0 {
		return fmt.Errorf("%w: baud must be > 0 (got %d)", ErrInvalidConfig, c.Baud)
	}
	return nil
}

// Worker owns one serial link: it opens the port, services reads and queued
// writes from a single goroutine, and closes the port. Every state change is
// reported on Events. The port is never touched outside that goroutine.
//
// Life-cycle:
//
//	w, _ := link.New(link.Config{Port: "/dev/rfcomm0", Baud: 9600})
//	_ = w.Start(ctx)
//	for ev := range w.Events() { ... }   // closed after the final Disconnected
//	w.Stop(); w.Wait()
type Worker struct {
	cfg    Config
	open   serial.OpenFunc
	codec  serial.LineCodec
	queue  *Queue
	events chan Event
	logger *slog.Logger

	readTimeout  time.Duration
	settleDelay  time.Duration
	pollInterval time.Duration
	handshake    string
	queueLimit   int
	eventBuffer  int

	ctx    context.Context // cancelled by Stop or the Start context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	started bool
	err     error

	// owned by the run goroutine
	port   serial.Port
	opened bool
	rx     bytes.Buffer
}

// Option customizes a Worker.
type Option func(*Worker)

// WithOpener replaces the transport opener (drivers, tests).
func WithOpener(fn serial.OpenFunc) Option {
	return func(w *Worker) {
		if fn != nil {
			w.open = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.readTimeout = d
		}
	}
}

// WithSettleDelay sets the pause between open and the handshake; 0 disables it.
func WithSettleDelay(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.settleDelay = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func WithHandshake(cmd string) Option {
	return func(w *Worker) {
		if cmd != "" {
			w.handshake = cmd
		}
	}
}

// WithQueueLimit bounds the outbound queue (drop-oldest); 0 keeps it unbounded.
func WithQueueLimit(n int) Option {
	return func(w *Worker) {
		if n >= 0 {
			w.queueLimit = n
		}
	}
}

func WithEventBuffer(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.eventBuffer = n
		}
	}
}

func WithMaxLineLen(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.codec.MaxLineLen = n
		}
	}
}

// New validates cfg and returns an Idle worker.
func New(cfg Config, opts ...Option) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &Worker{
		cfg:          cfg,
		open:         serial.Open,
		logger:       logging.L(),
		readTimeout:  DefaultReadTimeout,
		settleDelay:  DefaultSettleDelay,
		pollInterval: DefaultPollInterval,
		handshake:    HandshakeCommand,
		eventBuffer:  DefaultEventBuffer,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	w.queue = NewQueue(w.queueLimit)
	w.events = make(chan Event, w.eventBuffer)
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.logger = w.logger.With("port", cfg.Port)
	return w, nil
}

func (w *Worker) Config() Config { return w.cfg }

// Events delivers link notifications in order. It is closed after the final
// ConnectionChanged(false, "Disconnected"), or immediately by Stop on a worker
// that never started.
func (w *Worker) Events() <-chan Event { return w.events }

// Done is closed once the worker has released the port.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Wait blocks until the worker has released the port.
func (w *Worker) Wait() { <-w.done }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the error that ended the session (nil after a requested stop).
// Meaningful once Done is closed.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// QueueLen returns the number of commands awaiting transmission.
func (w *Worker) QueueLen() int { return w.queue.Len() }

// Enqueue queues cmd for transmission. It never blocks; commands queued
// before the link is up are sent after the handshake.
func (w *Worker) Enqueue(cmd string) {
	if w.queue.Enqueue(cmd) {
		metrics.IncQueueDropped()
		w.logger.Debug("link_queue_drop_oldest", "limit", w.queueLimit)
	}
	metrics.SetQueueDepth(w.queue.Len())
}

// Start moves Idle → Connecting and launches the worker goroutine. Cancelling
// ctx has the same effect as Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		if w.state == Closed {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}
	w.started = true
	w.setStateLocked(Connecting)
	stopAfter := context.AfterFunc(ctx, w.cancel)
	go func() {
		defer stopAfter()
		w.run()
	}()
	return nil
}

// Stop requests shutdown. It is idempotent and returns immediately; use Wait
// to block until the port is released. Stopping an Idle worker closes it
// without emitting events.
func (w *Worker) Stop() {
	w.cancel()
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		w.started = true
		w.setStateLocked(Closed)
		close(w.events)
		close(w.done)
	}
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.setStateLocked(s)
	w.mu.Unlock()
}

func (w *Worker) setStateLocked(s State) {
	if w.state == s {
		return
	}
	if !w.state.CanTransition(s) {
		w.logger.Error("link_illegal_transition", "from", w.state.String(), "to", s.String())
		return
	}
	w.logger.Debug("link_state", "from", w.state.String(), "to", s.String())
	w.state = s
	metrics.SetLinkState(int(s))
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

func (w *Worker) fail(err error) {
	metrics.IncError(mapErrToMetric(err))
	w.setErr(err)
}

func (w *Worker) run() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("link_worker_panic", "panic", r)
			class := ErrRead
			if !w.opened {
				class = ErrOpen
			}
			w.fail(fmt.Errorf("%w: panic: %v", class, r))
			w.emit(Warning(fmt.Sprintf("Worker fault: %v", r)))
			w.teardown()
			w.setState(Closed)
		}
		w.emit(ConnectionChanged(false, DisconnectedMessage))
		close(w.events)
		close(w.done)
	}()
	if !w.connect() {
		return
	}
	w.loop()
	w.teardown()
}

// connect opens the port and performs the post-open handshake. It returns
// false when the I/O loop must not run.
func (w *Worker) connect() bool {
	w.logger.Info("link_open", "baud", w.cfg.Baud, "read_timeout", w.readTimeout)
	p, err := w.open(w.cfg.Port, w.cfg.Baud, w.readTimeout)
	if err != nil {
		w.fail(fmt.Errorf("%w: %v", ErrOpen, err))
		w.logger.Warn("link_open_failed", "error", err)
		w.emit(ConnectionChanged(false, "Connection Failed: "+err.Error()))
		w.setState(Closed)
		return false
	}
	w.port = p
	w.opened = true
	w.shortenReads(p)
	// Wireless bridges report open before they can carry traffic.
	if !w.sleep(w.settleDelay) {
		w.teardown()
		return false
	}
	w.queue.PushFront(w.handshake)
	w.setState(Connected)
	metrics.IncSession()
	w.logger.Info("link_connected", "baud", w.cfg.Baud)
	w.emit(ConnectionChanged(true, fmt.Sprintf("Connected to %s at %d baud. Sent %s to confirm link.", w.cfg.Port, w.cfg.Baud, w.handshake)))
	return true
}

// readTimeoutSetter is implemented by drivers whose read timeout can change
// after open (go.bug.st/serial, loopback).
type readTimeoutSetter interface {
	SetReadTimeout(d time.Duration) error
}

// shortenReads bounds each read by the poll interval when the driver allows
// it, so an idle link services the queue and stop at the poll cadence.
// Other drivers keep the open-time read timeout.
func (w *Worker) shortenReads(p serial.Port) {
	if w.pollInterval >= w.readTimeout {
		return
	}
	s, ok := p.(readTimeoutSetter)
	if !ok {
		return
	}
	if err := s.SetReadTimeout(w.pollInterval); err != nil {
		w.logger.Debug("link_read_timeout_unchanged", "error", err)
	}
}

func (w *Worker) loop() {
	buf := make([]byte, readBufSize)
	for w.ctx.Err() == nil {
		if err := w.readOnce(buf); err != nil {
			w.fail(fmt.Errorf("%w: %v", ErrRead, err))
			w.logger.Warn("link_read_error", "error", err)
			w.emit(ConnectionChanged(false, "Read Error: "+err.Error()))
			return
		}
		if err := w.writeOnce(); err != nil {
			w.fail(fmt.Errorf("%w: %v", ErrWrite, err))
			w.logger.Warn("link_write_error", "error", err)
			w.emit(ConnectionChanged(false, "Write Error: "+err.Error()))
			return
		}
		if w.queue.Len() > 0 {
			continue
		}
		w.pause()
	}
}

// readOnce performs one bounded read and emits every completed line.
func (w *Worker) readOnce(buf []byte) error {
	n, err := w.port.Read(buf)
	if n > 0 {
		w.rx.Write(buf[:n])
		w.codec.DecodeStream(&w.rx, w.handleLine, w.handleOversize)
	}
	if err != nil && !errors.Is(err, io.EOF) { // EOF: read timeout on some drivers
		return err
	}
	return nil
}

func (w *Worker) handleLine(line []byte) {
	if !utf8.Valid(line) {
		metrics.IncCorrupt()
		w.logger.Debug("link_corrupt_line", "bytes", len(line))
		w.emit(Warning(fmt.Sprintf("Corrupt data received and discarded (%d bytes).", len(line))))
		return
	}
	text := strings.TrimSpace(string(line))
	if text == "" {
		return
	}
	metrics.IncRx()
	w.emit(DataReceived(text))
}

func (w *Worker) handleOversize(n int) {
	metrics.IncCorrupt()
	w.emit(Warning(fmt.Sprintf("Oversized line discarded (%d bytes).", n)))
}

// writeOnce transmits at most one queued command.
func (w *Worker) writeOnce() error {
	cmd, ok := w.queue.Pop()
	if !ok {
		return nil
	}
	metrics.SetQueueDepth(w.queue.Len())
	frame := w.codec.Encode(cmd)
	n, err := w.port.Write(frame)
	if err == nil && n < len(frame) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return err
	}
	metrics.IncTx()
	w.emit(DataSent(strings.TrimSpace(cmd)))
	return nil
}

// pause waits one poll interval, returning early on new commands or stop.
func (w *Worker) pause() {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.queue.Ready():
	case <-w.ctx.Done():
	}
}

// sleep waits d and reports false if stop was requested meanwhile.
func (w *Worker) sleep(d time.Duration) bool {
	if d <= 0 {
		return w.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-w.ctx.Done():
		return false
	}
}

// teardown closes the port. A close error that only says the handle is
// already gone is logged and swallowed; any other is reported as a warning.
func (w *Worker) teardown() {
	if w.port == nil {
		return
	}
	w.setState(Closing)
	p := w.port
	w.port = nil
	if err := p.Close(); err != nil {
		if serial.IsBenignClose(err) {
			w.logger.Debug("link_close_ignored", "error", err)
		} else {
			metrics.IncError(mapErrToMetric(fmt.Errorf("%w: %v", ErrClose, err)))
			w.logger.Warn("link_close_error", "error", err)
			w.emit(Warning("Close Error: " + err.Error()))
		}
	}
	w.rx.Reset()
	w.setState(Closed)
	w.logger.Info("link_closed")
}

// emit delivers ev in order. While running it waits for the consumer; after a
// stop request it never blocks, so an abandoned consumer cannot wedge teardown.
func (w *Worker) emit(ev Event) {
	ev.Time = time.Now()
	select {
	case w.events <- ev:
		return
	case <-w.ctx.Done():
	}
	select {
	case w.events <- ev:
	default:
		metrics.IncEventDropped()
		w.logger.Debug("link_event_dropped", "event", ev.String())
	}
}
