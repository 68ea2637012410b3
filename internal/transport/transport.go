package transport

import (
	"github.com/kstaniek/go-btlink/internal/link"
)

// CommandSink accepts outbound commands without blocking.
type CommandSink interface {
	Enqueue(cmd string)
}

// CommandSender is the error-returning form used by control clients; a nil
// error means the command was accepted for transmission.
type CommandSender interface {
	Send(cmd string) error
}

// EventSource is a stream of link events.
type EventSource interface {
	Events() <-chan link.Event
}

// Compile-time assertions for the concrete types wired in main.
var (
	_ CommandSink   = (*link.Worker)(nil)
	_ EventSource   = (*link.Worker)(nil)
	_ CommandSender = (*AsyncTx[string])(nil)
)
