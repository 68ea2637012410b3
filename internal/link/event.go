package link

import (
	"fmt"
	"time"
)

// Kind tags the Event variant.
type Kind int

const (
	KindData Kind = iota
	KindWarning
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindWarning:
		return "warning"
	case KindConnection:
		return "connection"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Direction distinguishes device data from the echo of a written command.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// Event is a notification from the worker to its consumer. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind      Kind
	Dir       Direction // KindData
	Text      string
	Connected bool // KindConnection
	Time      time.Time
}

// DataReceived is a decoded, trimmed line read from the device.
func DataReceived(text string) Event { return Event{Kind: KindData, Dir: Inbound, Text: text} }

// DataSent is the echo of a command that was written to the device.
func DataSent(text string) Event { return Event{Kind: KindData, Dir: Outbound, Text: text} }

func Warning(text string) Event { return Event{Kind: KindWarning, Text: text} }

func ConnectionChanged(connected bool, msg string) Event {
	return Event{Kind: KindConnection, Connected: connected, Text: msg}
}

// String renders the event the way operators read it in a log pane.
func (e Event) String() string {
	switch e.Kind {
	case KindData:
		if e.Dir == Outbound {
			return "TX: " + e.Text
		}
		return "RX: " + e.Text
	case KindWarning:
		return "WARNING: " + e.Text
	default:
		return e.Text
	}
}
