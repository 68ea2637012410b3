package serial

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
	bugst "go.bug.st/serial"
)

// Port abstracts the serial device for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenFunc opens a port with a bounded read timeout: Read returns within
// readTimeout even when no bytes arrive.
type OpenFunc func(name string, baud int, readTimeout time.Duration) (Port, error)

// Driver names accepted by OpenerFor.
const (
	DriverTarm     = "tarm"
	DriverBugst    = "bugst"
	DriverLoopback = "loopback"
)

// Open opens name through tarm/serial (8N1).
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// OpenBugst opens name through go.bug.st/serial (8N1).
func OpenBugst(name string, baud int, readTimeout time.Duration) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	p, err := bugst.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return p, nil
}

// OpenerFor maps a driver name to its OpenFunc.
func OpenerFor(driver string) (OpenFunc, error) {
	switch driver {
	case "", DriverTarm:
		return Open, nil
	case DriverBugst:
		return OpenBugst, nil
	case DriverLoopback:
		return OpenLoopback, nil
	default:
		return nil, fmt.Errorf("unknown serial driver %q (use tarm|bugst|loopback)", driver)
	}
}
