package serial

import (
	"bytes"
	"testing"
)

// TestDecodeStreamOversize ensures an unterminated run of noise is dropped.
func TestDecodeStreamOversize(t *testing.T) {
	codec := LineCodec{MaxLineLen: 16}
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{0xAA}, 20))
	dropped := 0
	codec.DecodeStream(&buf, func([]byte) { t.Fatalf("no complete line expected") }, func(n int) { dropped = n })
	if dropped != 20 {
		t.Fatalf("expected 20 dropped bytes, got %d", dropped)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer not reset: %d", buf.Len())
	}
	// Stream recovers on the next line.
	buf.WriteString("OK\n")
	var got string
	codec.DecodeStream(&buf, func(l []byte) { got = string(l) }, nil)
	if got != "OK\n" {
		t.Fatalf("got %q after resync", got)
	}
}

// TestDecodeStreamInvalidUTF8 passes undecodable bytes through untouched;
// text validation happens in the link worker.
func TestDecodeStreamInvalidUTF8(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, 0xfe, '\n'})
	var got []byte
	LineCodec{}.DecodeStream(&buf, func(l []byte) { got = append(got, l...) }, nil)
	if !bytes.Equal(got, []byte{0xff, 0xfe, '\n'}) {
		t.Fatalf("got % X", got)
	}
}

func FuzzDecodeStream(f *testing.F) {
	f.Add([]byte("A1\nA0\n"))
	f.Add([]byte{0xff, 0xfe, '\n', 'x'})
	f.Fuzz(func(t *testing.T, data []byte) {
		var buf bytes.Buffer
		buf.Write(data)
		total := 0
		LineCodec{MaxLineLen: 64}.DecodeStream(&buf, func(l []byte) {
			if len(l) == 0 || l[len(l)-1] != '\n' {
				t.Fatalf("line without terminator: %q", l)
			}
			total += len(l)
		}, func(n int) { total += n })
		if total+buf.Len() != len(data) {
			t.Fatalf("bytes lost: consumed=%d left=%d in=%d", total, buf.Len(), len(data))
		}
	})
}
