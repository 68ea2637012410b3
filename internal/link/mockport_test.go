package link

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/kstaniek/go-btlink/internal/serial"
)

// mockPort is a scripted serial.Port. Feed queues inbound bytes; writes are
// recorded and may be failed on demand.
type mockPort struct {
	mu       sync.Mutex
	rx       [][]byte
	writes   []string
	readErr  error
	writeErr error
	failAt   int // fail the n-th write (1-based) with writeErr; 0 = never
	closeErr error
	closed   int
	reads    int
	wrote    chan string
}

func newMockPort() *mockPort { return &mockPort{wrote: make(chan string, 64)} }

func (m *mockPort) Feed(b []byte) {
	m.mu.Lock()
	m.rx = append(m.rx, append([]byte(nil), b...))
	m.mu.Unlock()
}

func (m *mockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	m.reads++
	if m.closed > 0 {
		m.mu.Unlock()
		return 0, os.ErrClosed
	}
	if m.readErr != nil {
		err := m.readErr
		m.mu.Unlock()
		return 0, err
	}
	if len(m.rx) > 0 {
		n := copy(p, m.rx[0])
		if n == len(m.rx[0]) {
			m.rx = m.rx[1:]
		} else {
			m.rx[0] = m.rx[0][n:]
		}
		m.mu.Unlock()
		return n, nil
	}
	m.mu.Unlock()
	time.Sleep(2 * time.Millisecond) // emulate a short read timeout
	return 0, nil
}

func (m *mockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.failAt > 0 && len(m.writes)+1 == m.failAt {
		m.failAt = -1
		m.mu.Unlock()
		return 0, m.writeErr
	}
	if m.failAt < 0 {
		m.mu.Unlock()
		return 0, errors.New("write after failure")
	}
	m.writes = append(m.writes, string(p))
	m.mu.Unlock()
	select {
	case m.wrote <- string(p):
	default:
	}
	return len(p), nil
}

func (m *mockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return m.closeErr
}

func (m *mockPort) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

func (m *mockPort) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockPort) opener() serial.OpenFunc {
	return func(string, int, time.Duration) (serial.Port, error) { return m, nil }
}
