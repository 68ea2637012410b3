package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-btlink/internal/hub"
	"github.com/kstaniek/go-btlink/internal/keepalive"
	"github.com/kstaniek/go-btlink/internal/link"
	"github.com/kstaniek/go-btlink/internal/serial"
)

// sleepFn allows tests to intercept reconnect backoff sleeps. It reports
// false when ctx ended first.
var sleepFn = sleepCtx

// openPort is a hook for tests (overridden in unit tests).
var openPort = serial.OpenerFor

var errLinkDown = errors.New("link down")

// session supervises link workers: it pumps their events to the log and the
// hub, drives the keep-alive, and starts a fresh worker after a closed one
// when reconnect is enabled.
type session struct {
	cfg  *appConfig
	hub  *hub.Hub
	ka   *keepalive.Ticker
	log  *slog.Logger
	open serial.OpenFunc

	mu        sync.RWMutex
	cur       *link.Worker
	status    link.Event
	hasStatus bool
}

func newSession(cfg *appConfig, h *hub.Hub, ka *keepalive.Ticker, l *slog.Logger) (*session, error) {
	open, err := openPort(cfg.driver)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, hub: h, ka: ka, log: l, open: open}, nil
}

func (s *session) newWorker() (*link.Worker, error) {
	return link.New(link.Config{Port: s.cfg.serialDev, Baud: s.cfg.baud},
		link.WithOpener(s.open),
		link.WithLogger(s.log),
		link.WithReadTimeout(s.cfg.serialReadTO),
		link.WithSettleDelay(s.cfg.settleDelay),
		link.WithPollInterval(s.cfg.pollInterval),
		link.WithHandshake(s.cfg.handshakeCmd),
		link.WithQueueLimit(s.cfg.queueLimit),
		link.WithEventBuffer(s.cfg.eventBuffer),
	)
}

// Run drives link sessions until ctx ends or, without reconnect, the first
// session closes. It returns the error that ended the last session.
func (s *session) Run(ctx context.Context) error {
	backoff := reconnectBackoffMin
	for {
		w, err := s.newWorker()
		if err != nil {
			return err
		}
		s.setWorker(w)
		if err := w.Start(ctx); err != nil {
			return err
		}
		up := s.pump(w)
		w.Wait()
		s.ka.SetActive(false)
		err = w.Err()
		if ctx.Err() != nil {
			return nil
		}
		if !s.cfg.reconnect {
			return err
		}
		if up {
			backoff = reconnectBackoffMin
		}
		s.log.Info("link_reconnect_wait", "backoff", backoff, "error", err)
		if !sleepFn(ctx, backoff) {
			return nil
		}
		backoff *= 2
		if backoff > reconnectBackoffMax {
			backoff = reconnectBackoffMax
		}
	}
}

// pump drains w's events until the channel closes and reports whether the
// link came up.
func (s *session) pump(w *link.Worker) (up bool) {
	for ev := range w.Events() {
		s.logEvent(ev)
		if ev.Kind == link.KindConnection {
			s.ka.SetActive(ev.Connected)
			s.setStatus(ev)
			if ev.Connected {
				up = true
			}
		}
		if s.hub != nil {
			s.hub.Broadcast(ev)
		}
	}
	return up
}

func (s *session) logEvent(ev link.Event) {
	switch ev.Kind {
	case link.KindData:
		if ev.Dir == link.Outbound {
			s.log.Debug("link_tx", "text", ev.Text)
		} else {
			s.log.Debug("link_rx", "text", ev.Text)
		}
	case link.KindWarning:
		s.log.Warn("link_warning", "text", ev.Text)
	case link.KindConnection:
		s.log.Info("link_connection", "connected", ev.Connected, "message", ev.Text)
	}
}

func (s *session) setWorker(w *link.Worker) {
	s.mu.Lock()
	s.cur = w
	s.mu.Unlock()
	s.ka.Attach(w)
}

func (s *session) worker() *link.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

func (s *session) setStatus(ev link.Event) {
	s.mu.Lock()
	s.status, s.hasStatus = ev, true
	s.mu.Unlock()
}

// Status returns the latest connection event for newly joined clients.
func (s *session) Status() (link.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.hasStatus
}

// Connected reports whether the current link is up.
func (s *session) Connected() bool {
	ev, ok := s.Status()
	return ok && ev.Connected
}

// Send queues cmd on the current worker. Commands are refused while no
// worker is live (tearing down, or between reconnect attempts).
func (s *session) Send(cmd string) error {
	w := s.worker()
	if w == nil {
		return errLinkDown
	}
	if st := w.State(); st == link.Closing || st.Terminal() {
		return errLinkDown
	}
	w.Enqueue(cmd)
	return nil
}

// Stop asks the current worker to shut down and waits for it to release the port.
func (s *session) Stop() {
	if w := s.worker(); w != nil {
		w.Stop()
		w.Wait()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
