package hub

import (
	"testing"
	"time"

	"github.com/kstaniek/go-btlink/internal/link"
)

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := NewClient(4)
	h.Add(cl)
	defer h.Remove(cl)

	// Don't read from cl.Out to simulate slow client
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(link.DataReceived("OK"))
	}
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
	select {
	case <-cl.Closed:
		t.Fatalf("drop policy must not close the client")
	default:
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := NewClient(1)
	fast := NewClient(16)
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	h.Broadcast(link.DataReceived("first"))
	for i := 0; i < 10; i++ {
		h.Broadcast(link.DataSent("A1"))
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got >= 5 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatalf("fast client did not receive any events while slow was backpressured")
	}
}

func TestHub_KickPolicyClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	slow := NewClient(1)
	h.Add(slow)
	defer h.Remove(slow)

	h.Broadcast(link.Warning("a"))
	h.Broadcast(link.Warning("b"))
	select {
	case <-slow.Closed:
	default:
		t.Fatalf("expected slow client to be kicked")
	}
	if ev := <-slow.Out; ev.Text != "a" {
		t.Fatalf("expected first event preserved, got %+v", ev)
	}
}

func TestHub_OrderPreservedPerClient(t *testing.T) {
	h := New()
	cl := NewClient(8)
	h.Add(cl)
	defer h.Remove(cl)
	want := []string{"INIT_CHECK", "A1", "A0"}
	for _, s := range want {
		h.Broadcast(link.DataSent(s))
	}
	for _, s := range want {
		if ev := <-cl.Out; ev.Text != s {
			t.Fatalf("got %q want %q", ev.Text, s)
		}
	}
}

func TestHub_RemoveIdempotent(t *testing.T) {
	h := New()
	cl := NewClient(1)
	h.Add(cl)
	if h.Count() != 1 {
		t.Fatalf("count=%d", h.Count())
	}
	h.Remove(cl)
	h.Remove(cl)
	if h.Count() != 0 {
		t.Fatalf("count=%d", h.Count())
	}
	h.Broadcast(link.DataReceived("ignored"))
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("KICK"); err != nil || p != PolicyKick {
		t.Fatalf("kick: %v %v", p, err)
	}
	if p, err := ParsePolicy(""); err != nil || p != PolicyDrop {
		t.Fatalf("default: %v %v", p, err)
	}
	if _, err := ParsePolicy("block"); err == nil {
		t.Fatalf("expected error")
	}
}
