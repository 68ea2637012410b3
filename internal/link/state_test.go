package link

import "testing"

func TestStateTransitions(t *testing.T) {
	legal := [][2]State{
		{Idle, Connecting}, {Idle, Closed},
		{Connecting, Connected}, {Connecting, Closing}, {Connecting, Closed},
		{Connected, Closing}, {Closing, Closed},
	}
	for _, p := range legal {
		if !p[0].CanTransition(p[1]) {
			t.Fatalf("%v -> %v should be legal", p[0], p[1])
		}
	}
	illegal := [][2]State{
		{Idle, Connected}, {Connected, Connecting}, {Connected, Closed},
		{Closed, Connecting}, {Closed, Idle}, {Closing, Connected},
	}
	for _, p := range illegal {
		if p[0].CanTransition(p[1]) {
			t.Fatalf("%v -> %v should be illegal", p[0], p[1])
		}
	}
	if !Closed.Terminal() || Connected.Terminal() {
		t.Fatalf("terminal mismatch")
	}
}

func TestStateAndEventStrings(t *testing.T) {
	if Connected.String() != "connected" || State(42).String() != "unknown" {
		t.Fatalf("state names")
	}
	cases := map[string]Event{
		"RX: OK":       DataReceived("OK"),
		"TX: A1":       DataSent("A1"),
		"WARNING: bad": Warning("bad"),
		"Disconnected": ConnectionChanged(false, "Disconnected"),
	}
	for want, ev := range cases {
		if ev.String() != want {
			t.Fatalf("got %q want %q", ev.String(), want)
		}
	}
	if KindWarning.String() != "warning" {
		t.Fatalf("kind name")
	}
}
