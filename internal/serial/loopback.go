package serial

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"
)

// Loopback is an in-memory Port that answers every written line X with
// "ACK X\n". It stands in for a device when no hardware is attached.
type Loopback struct {
	mu          sync.Mutex
	readTimeout time.Duration
	pending     bytes.Buffer // partial written line
	rx          bytes.Buffer // bytes waiting to be read
	ready       chan struct{}
	closed      bool
}

// OpenLoopback satisfies OpenFunc; name and baud are ignored.
func OpenLoopback(_ string, _ int, readTimeout time.Duration) (Port, error) {
	return NewLoopback(readTimeout), nil
}

// NewLoopback returns an open loopback port.
func NewLoopback(readTimeout time.Duration) *Loopback {
	if readTimeout <= 0 {
		readTimeout = 100 * time.Millisecond
	}
	return &Loopback{readTimeout: readTimeout, ready: make(chan struct{}, 1)}
}

// SetReadTimeout changes the bound on subsequent reads.
func (l *Loopback) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("read timeout must be > 0 (got %v)", d)
	}
	l.mu.Lock()
	l.readTimeout = d
	l.mu.Unlock()
	return nil
}

// Inject queues raw bytes for the reader as if the device had sent them.
func (l *Loopback) Inject(b []byte) {
	l.mu.Lock()
	l.rx.Write(b)
	l.mu.Unlock()
	l.signal()
}

func (l *Loopback) signal() {
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// Read returns buffered bytes or (0, nil) once the read timeout passes.
func (l *Loopback) Read(p []byte) (int, error) {
	l.mu.Lock()
	timeout := l.readTimeout
	l.mu.Unlock()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return 0, os.ErrClosed
		}
		if l.rx.Len() > 0 {
			n, _ := l.rx.Read(p)
			l.mu.Unlock()
			return n, nil
		}
		l.mu.Unlock()
		select {
		case <-l.ready:
		case <-deadline.C:
			return 0, nil
		}
	}
}

// Write consumes p and queues an acknowledgement per completed line.
func (l *Loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, os.ErrClosed
	}
	l.pending.Write(p)
	acked := false
	for {
		i := bytes.IndexByte(l.pending.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := l.pending.Next(i + 1)
		l.rx.WriteString("ACK ")
		l.rx.Write(line)
		acked = true
	}
	l.mu.Unlock()
	if acked {
		l.signal()
	}
	return len(p), nil
}

// Close marks the port closed; a second Close reports os.ErrClosed.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return os.ErrClosed
	}
	l.closed = true
	l.signal()
	return nil
}
