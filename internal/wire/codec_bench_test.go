package wire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/kstaniek/go-btlink/internal/link"
)

func benchmarkEvents(n int) []link.Event {
	evs := make([]link.Event, n)
	for i := range evs {
		evs[i] = link.DataReceived("TEMP=21.5 HUM=40")
	}
	return evs
}

func BenchmarkCodec_Encode_64(b *testing.B) {
	c := Codec{}
	evs := benchmarkEvents(64)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = c.Encode(evs)
	}
}

func BenchmarkCodec_EncodeTo_64(b *testing.B) {
	c := Codec{}
	evs := benchmarkEvents(64)
	var buf bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = c.EncodeTo(&buf, evs)
	}
}

func BenchmarkCodec_DecodeN_64(b *testing.B) {
	c := Codec{}
	wire := strings.Repeat("A1\n", 64)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		r := bufio.NewReader(strings.NewReader(wire))
		_, _ = c.DecodeN(r, 0, func(string) {}, nil)
	}
}
