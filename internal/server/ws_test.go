package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kstaniek/go-btlink/internal/hub"
	"github.com/kstaniek/go-btlink/internal/link"
)

func dialWS(t *testing.T, srv *Server) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(srv.WebSocketHandler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial ws: %v", err)
	}
	return c, func() { _ = c.Close(); ts.Close() }
}

func TestWebSocketEventsAndCommands(t *testing.T) {
	h := hub.New()
	var sink captureSend
	srv := NewServer(WithHub(h), WithSend(sink.Send))
	c, closeFn := dialWS(t, srv)
	defer closeFn()
	waitClients(h, 1)

	ev := link.ConnectionChanged(true, "Connected to COM3 at 9600 baud.")
	ev.Time = time.UnixMilli(1700000000000)
	h.Broadcast(ev)
	h.Broadcast(link.DataSent("A1"))

	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	var got WSEvent
	if err := c.ReadJSON(&got); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if got.Kind != "connection" || got.Connected == nil || !*got.Connected || got.Stamp != 1700000000000 {
		t.Fatalf("unexpected event %+v", got)
	}
	if err := c.ReadJSON(&got); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if got.Kind != "data" || got.Dir != "tx" || got.Text != "A1" {
		t.Fatalf("unexpected event %+v", got)
	}

	if err := c.WriteMessage(websocket.TextMessage, []byte("A1\nBAD\x01\n A0 ")); err != nil {
		t.Fatalf("write: %v", err)
	}
	cmds := sink.waitFor(2, 500*time.Millisecond)
	if strings.Join(cmds, ",") != "A1,A0" {
		t.Fatalf("unexpected commands %q", cmds)
	}
}

func TestWebSocketDisconnectRemovesClient(t *testing.T) {
	h := hub.New()
	srv := NewServer(WithHub(h))
	c, closeFn := dialWS(t, srv)
	defer closeFn()
	waitClients(h, 1)
	_ = c.Close()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && h.Count() != 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if h.Count() != 0 {
		t.Fatalf("client not removed after close")
	}
}

func TestNewWSEvent(t *testing.T) {
	if e := NewWSEvent(link.DataReceived("OK")); e.Kind != "data" || e.Dir != "rx" || e.Connected != nil || e.Stamp != 0 {
		t.Fatalf("rx: %+v", e)
	}
	if e := NewWSEvent(link.Warning("w")); e.Kind != "warning" || e.Dir != "" {
		t.Fatalf("warning: %+v", e)
	}
	if e := NewWSEvent(link.ConnectionChanged(false, "Disconnected")); e.Connected == nil || *e.Connected {
		t.Fatalf("connection: %+v", e)
	}
}
