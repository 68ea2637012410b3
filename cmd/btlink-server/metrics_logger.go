package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-btlink/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				logSnapshot(l, metrics.Snap())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, snap metrics.Snapshot) {
	l.Info("metrics_snapshot",
		"link_rx", snap.RxLines,
		"link_tx", snap.TxCommands,
		"link_corrupt", snap.CorruptLines,
		"link_sessions", snap.Sessions,
		"queue_depth", snap.QueueDepth,
		"queue_dropped", snap.QueueDropped,
		"control_rx", snap.ControlRx,
		"control_tx", snap.ControlTx,
		"control_rejected", snap.ControlRejected,
		"hub_clients", snap.HubClients,
		"hub_drops", snap.HubDrops,
		"errors", snap.Errors,
	)
}
