package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kstaniek/go-btlink/internal/hub"
	"github.com/kstaniek/go-btlink/internal/link"
	"github.com/kstaniek/go-btlink/internal/metrics"
	"github.com/kstaniek/go-btlink/internal/wire"
)

const (
	wsWriteWait  = 5 * time.Second
	wsMaxMessage = 512
)

// WSEvent is the JSON form of a link event on the /ws endpoint.
type WSEvent struct {
	Kind      string `json:"kind"`
	Dir       string `json:"dir,omitempty"`
	Text      string `json:"text"`
	Connected *bool  `json:"connected,omitempty"`
	Stamp     int64  `json:"stamp"` // Unix ms
}

// NewWSEvent converts ev to its JSON form.
func NewWSEvent(ev link.Event) WSEvent {
	out := WSEvent{Kind: ev.Kind.String(), Text: ev.Text}
	if !ev.Time.IsZero() {
		out.Stamp = ev.Time.UnixMilli()
	}
	switch ev.Kind {
	case link.KindData:
		out.Dir = "rx"
		if ev.Dir == link.Outbound {
			out.Dir = "tx"
		}
	case link.KindConnection:
		c := ev.Connected
		out.Connected = &c
	}
	return out
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler serves the /ws surface: every link event goes out as a
// JSON text message and every inbound text message is one command.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.atCapacity() {
		metrics.IncHubReject()
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		wrap := fmt.Errorf("%w: upgrade: %v", ErrWebSocket, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.logger.Warn("ws_upgrade_failed", "error", err)
		return
	}
	connID := atomic.AddUint64(&s.nextConnID, 1)
	logger := s.logger.With("conn_id", connID, "remote", r.RemoteAddr, "proto", "ws")
	cl := s.newClient()
	s.totalConnected.Add(1)
	logger.Info("client_connected")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Hub != nil {
				s.Hub.Remove(cl)
			} else {
				cl.Close()
			}
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		for {
			select {
			case ev := <-cl.Out:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(NewWSEvent(ev)); err != nil {
					wrap := fmt.Errorf("%w: write: %v", ErrWebSocket, err)
					metrics.IncError(mapErrToMetric(wrap))
					logger.Debug("ws_write_error", "error", err)
					return
				}
				metrics.AddControlTx(1)
			case <-cl.Closed:
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			}
		}
	}()
	go func() {
		defer s.wg.Done()
		defer cl.Close()
		conn.SetReadLimit(wsMaxMessage)
		lim := s.newLimiter()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("ws_read_end", "error", err)
				}
				return
			}
			if mt != websocket.TextMessage {
				s.reject(logger, "binary", nil)
				continue
			}
			for _, line := range strings.Split(string(msg), "\n") {
				cmd := strings.TrimSpace(line)
				if cmd == "" {
					continue
				}
				if err := wire.ValidateCommand(cmd); err != nil {
					s.reject(logger, "malformed", err)
					continue
				}
				s.dispatch(cmd, lim, logger)
			}
		}
	}()
}

// CloseClients disconnects every client attached to the hub.
func CloseClients(h *hub.Hub) {
	if h == nil {
		return
	}
	for _, c := range h.Snapshot() {
		c.Close()
	}
}
