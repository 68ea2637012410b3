package serial

import (
	"bytes"
)

// DefaultMaxLineLen bounds a partial inbound line awaiting its terminator.
const DefaultMaxLineLen = 4096

// LineCodec frames commands and responses as '\n'-terminated text lines.
// The zero value is ready to use.
type LineCodec struct {
	// MaxLineLen caps an unterminated line; 0 means DefaultMaxLineLen.
	MaxLineLen int
}

// CompactBuffer reclaims consumed prefix capacity when underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred. Thresholds chosen to avoid excessive copying.
func CompactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	// If buffer size < 1KB, skip.
	if len(data) < 1024 {
		return false
	}
	// If unread < 25% of capacity, compact.
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// Encode serializes one command to its wire frame: cmd followed by '\n'.
func (LineCodec) Encode(cmd string) []byte {
	frame := make([]byte, 0, len(cmd)+1)
	frame = append(frame, cmd...)
	return append(frame, '\n')
}

// DecodeStream emits every complete line buffered in `in`, terminator
// included, and leaves a trailing partial line in place. The slice passed to
// onLine is only valid during the call.
//
// A partial line that reaches the line limit without a terminator is
// discarded and its size reported through onOversize (which may be nil).
func (c LineCodec) DecodeStream(in *bytes.Buffer, onLine func([]byte), onOversize func(n int)) {
	limit := c.MaxLineLen
	if limit <= 0 {
		limit = DefaultMaxLineLen
	}
	for {
		data := in.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if len(data) >= limit {
				n := len(data)
				in.Reset()
				if onOversize != nil {
					onOversize(n)
				}
			}
			_ = CompactBuffer(in)
			return
		}
		onLine(in.Next(i + 1))
	}
}
