package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kstaniek/go-btlink/internal/link"
)

// MaxCommandLen bounds a single client command after trimming.
const MaxCommandLen = 64

// Event line prefixes.
const (
	PrefixRX       = "RX "
	PrefixTX       = "TX "
	PrefixWarn     = "WARN "
	PrefixLinkUp   = "LINK UP "
	PrefixLinkDown = "LINK DOWN "
)

var (
	ErrEmptyCommand   = errors.New("wire: empty command")
	ErrCommandTooLong = errors.New("wire: command too long")
	ErrInvalidCommand = errors.New("wire: invalid command byte")
	ErrTruncatedLine  = errors.New("wire: truncated line")
	ErrUnknownEvent   = errors.New("wire: unknown event line")
)

// Codec decodes client commands and encodes link events. Stateless and safe
// for concurrent use.
type Codec struct{}

// IsRejected reports whether err rejects a single command but leaves the
// stream usable.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCommandTooLong) || errors.Is(err, ErrInvalidCommand)
}

// ValidateCommand checks a trimmed command: 1..MaxCommandLen printable ASCII.
func ValidateCommand(cmd string) error {
	if cmd == "" {
		return ErrEmptyCommand
	}
	if len(cmd) > MaxCommandLen {
		return fmt.Errorf("%w (%d > %d)", ErrCommandTooLong, len(cmd), MaxCommandLen)
	}
	for i := 0; i < len(cmd); i++ {
		if b := cmd[i]; b < 0x20 || b > 0x7e {
			return fmt.Errorf("%w 0x%02x at %d", ErrInvalidCommand, b, i)
		}
	}
	return nil
}

// Decode reads one command line from r. An oversized line is consumed up to
// its terminator and reported as ErrCommandTooLong so the stream stays in sync.
// io.EOF is returned only at a clean line boundary.
func (c *Codec) Decode(r *bufio.Reader) (string, error) {
	line, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		n := len(line)
		for errors.Is(err, bufio.ErrBufferFull) {
			line, err = r.ReadSlice('\n')
			n += len(line)
		}
		if err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w (%d bytes)", ErrCommandTooLong, n)
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return "", ErrTruncatedLine
		}
		return "", err
	}
	cmd := strings.TrimSpace(string(line))
	if err := ValidateCommand(cmd); err != nil {
		return "", err
	}
	return cmd, nil
}

// DecodeN decodes up to max commands (if max>0) or until an error, invoking
// onCmd for each valid one and onReject for each rejected line. Blank lines
// are skipped. It stops once the buffered input is drained so a caller can
// refresh its read deadline. It returns the number of lines consumed and the
// terminal error, if any.
func (c *Codec) DecodeN(r *bufio.Reader, max int, onCmd func(string), onReject func(error)) (int, error) {
	var n int
	for max <= 0 || n < max {
		cmd, err := c.Decode(r)
		switch {
		case err == nil:
			onCmd(cmd)
		case errors.Is(err, ErrEmptyCommand):
		case IsRejected(err):
			if onReject != nil {
				onReject(err)
			}
		default:
			return n, err
		}
		n++
		if r.Buffered() == 0 {
			break
		}
	}
	return n, nil
}

// AppendEvent appends the wire line for ev to dst.
func AppendEvent(dst []byte, ev link.Event) []byte {
	switch ev.Kind {
	case link.KindData:
		if ev.Dir == link.Outbound {
			dst = append(dst, PrefixTX...)
		} else {
			dst = append(dst, PrefixRX...)
		}
	case link.KindWarning:
		dst = append(dst, PrefixWarn...)
	default:
		if ev.Connected {
			dst = append(dst, PrefixLinkUp...)
		} else {
			dst = append(dst, PrefixLinkDown...)
		}
	}
	for i := 0; i < len(ev.Text); i++ {
		b := ev.Text[i]
		if b == '\n' || b == '\r' {
			b = ' '
		}
		dst = append(dst, b)
	}
	return append(dst, '\n')
}

// Encode returns the wire lines for events.
func (c *Codec) Encode(events []link.Event) []byte {
	if len(events) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(events)*32)
	for _, ev := range events {
		buf = AppendEvent(buf, ev)
	}
	return buf
}

// EncodeTo writes the wire lines for events to w in one write.
func (c *Codec) EncodeTo(w io.Writer, events []link.Event) (int, error) {
	n, err := w.Write(c.Encode(events))
	if err != nil {
		return n, fmt.Errorf("wire encode: %w", err)
	}
	return n, nil
}

// ParseEvent is the client-side inverse of AppendEvent. line may carry its
// terminator.
func ParseEvent(line string) (link.Event, error) {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case strings.HasPrefix(line, PrefixRX):
		return link.DataReceived(line[len(PrefixRX):]), nil
	case strings.HasPrefix(line, PrefixTX):
		return link.DataSent(line[len(PrefixTX):]), nil
	case strings.HasPrefix(line, PrefixWarn):
		return link.Warning(line[len(PrefixWarn):]), nil
	case strings.HasPrefix(line, PrefixLinkUp):
		return link.ConnectionChanged(true, line[len(PrefixLinkUp):]), nil
	case strings.HasPrefix(line, PrefixLinkDown):
		return link.ConnectionChanged(false, line[len(PrefixLinkDown):]), nil
	default:
		return link.Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, line)
	}
}
