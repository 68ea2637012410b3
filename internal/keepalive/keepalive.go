package keepalive

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kstaniek/go-btlink/internal/logging"
)

const (
	DefaultInterval = 500 * time.Millisecond
	DefaultCommand  = "PING"
)

// Enqueuer accepts outbound commands without blocking.
type Enqueuer interface {
	Enqueue(cmd string)
}

// Ticker enqueues Command every Interval while active. It starts inactive;
// the owner flips it on ConnectionChanged events.
type Ticker struct {
	interval time.Duration
	command  string
	target   atomic.Pointer[targetBox]
	active   atomic.Bool
	sent     atomic.Uint64
}

type targetBox struct{ q Enqueuer }

// New returns an inactive ticker. Zero values select the defaults.
func New(interval time.Duration, command string) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if command == "" {
		command = DefaultCommand
	}
	return &Ticker{interval: interval, command: command}
}

// Attach points the ticker at a new target (e.g. a reconnected worker).
func (t *Ticker) Attach(q Enqueuer) {
	if q == nil {
		t.target.Store(nil)
		return
	}
	t.target.Store(&targetBox{q: q})
}

// SetActive enables or pauses heartbeats.
func (t *Ticker) SetActive(on bool) {
	if t.active.Swap(on) != on {
		logging.L().Debug("keepalive_active", "active", on, "interval", t.interval)
	}
}

func (t *Ticker) Active() bool { return t.active.Load() }

// Sent returns the number of heartbeats enqueued so far.
func (t *Ticker) Sent() uint64 { return t.sent.Load() }

// Run ticks until ctx is done.
func (t *Ticker) Run(ctx context.Context) {
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			t.tick()
		}
	}
}

func (t *Ticker) tick() {
	if !t.active.Load() {
		return
	}
	b := t.target.Load()
	if b == nil {
		return
	}
	b.q.Enqueue(t.command)
	t.sent.Add(1)
}
