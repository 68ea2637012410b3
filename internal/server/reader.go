package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/kstaniek/go-btlink/internal/hub"
	"github.com/kstaniek/go-btlink/internal/metrics"
	"github.com/kstaniek/go-btlink/internal/transport"
	"github.com/kstaniek/go-btlink/internal/wire"
)

func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		br := bufio.NewReaderSize(conn, readerBufSize)
		lim := s.newLimiter()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			_, err := s.Codec.DecodeN(br, 16, func(cmd string) {
				s.dispatch(cmd, lim, logger)
			}, func(err error) {
				s.reject(logger, "malformed", err)
			})
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, wire.ErrTruncatedLine) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					select {
					case <-cl.Closed:
						return
					default:
					}
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				logger.Debug("client_read_error", "error", err)
				return
			}
			select {
			case <-ctxDone:
				return
			case <-cl.Closed:
				return
			default:
			}
		}
	}()
}

// dispatch applies the per-client rate limit and hands cmd to the link.
// Shared by the TCP and WebSocket surfaces.
func (s *Server) dispatch(cmd string, lim *rate.Limiter, logger *slog.Logger) {
	if !lim.Allow() {
		s.reject(logger, "rate_limited", nil)
		return
	}
	metrics.IncControlRx()
	if s.Send == nil {
		return
	}
	if err := s.Send(cmd); err != nil {
		if errors.Is(err, transport.ErrCommandOverflow) {
			s.totalCommandOverflow.Add(1)
			metrics.IncControlRejected()
			logger.Debug("command_overflow_drop", "cmd", cmd)
			return
		}
		wrap := fmt.Errorf("%w: %v", ErrCommandTx, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		s.totalCommandErrors.Add(1)
		logger.Error("command_tx_error", "error", wrap, "cmd", cmd)
		return
	}
	logger.Debug("command_accepted", "cmd", cmd)
}

func (s *Server) reject(logger *slog.Logger, reason string, err error) {
	s.totalRejected.Add(1)
	metrics.IncControlRejected()
	if err != nil {
		logger.Debug("command_rejected", "reason", reason, "error", err)
		return
	}
	logger.Debug("command_rejected", "reason", reason)
}
