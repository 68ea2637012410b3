package wire

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kstaniek/go-btlink/internal/link"
)

func reader(s string) *bufio.Reader { return bufio.NewReaderSize(strings.NewReader(s), 128) }

func TestDecodeCommands(t *testing.T) {
	c := Codec{}
	r := reader("A1\n  A0 \r\nPING\n")
	for _, want := range []string{"A1", "A0", "PING"} {
		got, err := c.Decode(r)
		if err != nil || got != want {
			t.Fatalf("got %q err=%v want %q", got, err, want)
		}
	}
	if _, err := c.Decode(r); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestDecodeRejects(t *testing.T) {
	c := Codec{}
	cases := []struct {
		in   string
		want error
	}{
		{"\n", ErrEmptyCommand},
		{"   \r\n", ErrEmptyCommand},
		{strings.Repeat("x", MaxCommandLen+1) + "\n", ErrCommandTooLong},
		{strings.Repeat("y", 500) + "\n", ErrCommandTooLong},
		{"A\x01B\n", ErrInvalidCommand},
		{"caf\xc3\xa9\n", ErrInvalidCommand},
		{"A1", ErrTruncatedLine},
	}
	for _, tc := range cases {
		if _, err := c.Decode(reader(tc.in)); !errors.Is(err, tc.want) {
			t.Fatalf("%q: got %v want %v", tc.in, err, tc.want)
		}
	}
}

func TestDecodeOversizeResyncs(t *testing.T) {
	c := Codec{}
	r := reader(strings.Repeat("z", 1000) + "\nA1\n")
	if _, err := c.Decode(r); !errors.Is(err, ErrCommandTooLong) {
		t.Fatalf("expected too long, got %v", err)
	}
	if got, err := c.Decode(r); err != nil || got != "A1" {
		t.Fatalf("stream not resynced: %q %v", got, err)
	}
}

func TestDecodeN(t *testing.T) {
	c := Codec{}
	r := reader("A1\n\nBAD\x7f\nA0\n")
	var cmds []string
	var rejects int
	n, err := c.DecodeN(r, 0, func(s string) { cmds = append(cmds, s) }, func(error) { rejects++ })
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v", err)
	}
	if n != 4 || len(cmds) != 2 || cmds[0] != "A1" || cmds[1] != "A0" || rejects != 1 {
		t.Fatalf("n=%d cmds=%q rejects=%d", n, cmds, rejects)
	}
}

func TestDecodeNMax(t *testing.T) {
	c := Codec{}
	r := reader("A\nB\nC\n")
	var cmds []string
	n, err := c.DecodeN(r, 2, func(s string) { cmds = append(cmds, s) }, nil)
	if err != nil || n != 2 || len(cmds) != 2 {
		t.Fatalf("n=%d err=%v cmds=%q", n, err, cmds)
	}
}

func TestEncodeEvents(t *testing.T) {
	c := Codec{}
	evs := []link.Event{
		link.ConnectionChanged(true, "Connected to COM3 at 9600 baud."),
		link.DataSent("INIT_CHECK"),
		link.DataReceived("OK"),
		link.Warning("Corrupt data received and discarded (3 bytes)."),
		link.ConnectionChanged(false, "Write Error: broken\npipe"),
	}
	want := "LINK UP Connected to COM3 at 9600 baud.\n" +
		"TX INIT_CHECK\n" +
		"RX OK\n" +
		"WARN Corrupt data received and discarded (3 bytes).\n" +
		"LINK DOWN Write Error: broken pipe\n"
	if got := string(c.Encode(evs)); got != want {
		t.Fatalf("got %q\nwant %q", got, want)
	}
	var buf bytes.Buffer
	n, err := c.EncodeTo(&buf, evs)
	if err != nil || n != len(want) || buf.String() != want {
		t.Fatalf("EncodeTo n=%d err=%v", n, err)
	}
	if c.Encode(nil) != nil {
		t.Fatalf("expected nil for empty batch")
	}
}

func TestParseEvent(t *testing.T) {
	for _, ev := range []link.Event{
		link.DataReceived("OK"),
		link.DataSent("A1"),
		link.Warning("w"),
		link.ConnectionChanged(true, "up"),
		link.ConnectionChanged(false, "Disconnected"),
	} {
		got, err := ParseEvent(string(AppendEvent(nil, ev)))
		if err != nil {
			t.Fatalf("parse %v: %v", ev, err)
		}
		if got.Kind != ev.Kind || got.Dir != ev.Dir || got.Text != ev.Text || got.Connected != ev.Connected {
			t.Fatalf("got %+v want %+v", got, ev)
		}
	}
	if _, err := ParseEvent("HELLO"); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected unknown event error, got %v", err)
	}
}
