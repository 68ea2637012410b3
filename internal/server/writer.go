package server

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-btlink/internal/hub"
	"github.com/kstaniek/go-btlink/internal/link"
	"github.com/kstaniek/go-btlink/internal/metrics"
)

// startWriter launches the goroutine pushing hub events to a single client connection.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.removeClient(cl)
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		// A kicked client may have the writer blocked in conn.Write; closing
		// the conn unblocks it.
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-cl.Closed:
				_ = conn.Close()
			case <-stop:
			}
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([]link.Event, 0, s.batchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n := len(batch)
			_, err := s.Codec.EncodeTo(conn, batch)
			batch = batch[:0]
			if err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return wrap
			}
			metrics.AddControlTx(n)
			return nil
		}
		for {
			select {
			case ev := <-cl.Out:
				batch = append(batch, ev)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
