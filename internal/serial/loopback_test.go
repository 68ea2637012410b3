package serial

import (
	"errors"
	"os"
	"testing"
	"time"
)

func TestLoopbackAck(t *testing.T) {
	lb := NewLoopback(50 * time.Millisecond)
	if _, err := lb.Write([]byte("A1\nA")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := lb.Write([]byte("0\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && string(got) != "ACK A1\nACK A0\n" {
		n, err := lb.Read(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "ACK A1\nACK A0\n" {
		t.Fatalf("got %q", got)
	}
}

func TestLoopbackReadTimeout(t *testing.T) {
	lb := NewLoopback(20 * time.Millisecond)
	start := time.Now()
	n, err := lb.Read(make([]byte, 8))
	if n != 0 || err != nil {
		t.Fatalf("expected (0, nil) on timeout, got (%d, %v)", n, err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("read did not honour timeout")
	}
}

func TestLoopbackClose(t *testing.T) {
	lb := NewLoopback(10 * time.Millisecond)
	if err := lb.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := lb.Write([]byte("x\n")); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("write after close: %v", err)
	}
	err := lb.Close()
	if !IsBenignClose(err) {
		t.Fatalf("second close should be benign, got %v", err)
	}
}

func TestLoopbackSetReadTimeout(t *testing.T) {
	lb := NewLoopback(time.Hour)
	if err := lb.SetReadTimeout(0); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
	if err := lb.SetReadTimeout(10 * time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	start := time.Now()
	if n, err := lb.Read(make([]byte, 8)); n != 0 || err != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", n, err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("read ignored the new timeout")
	}
}
