package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-btlink/internal/keepalive"
	"github.com/kstaniek/go-btlink/internal/metrics"
	"github.com/kstaniek/go-btlink/internal/server"
	"github.com/kstaniek/go-btlink/internal/transport"
	"github.com/kstaniek/go-btlink/internal/wire"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	if cfg.showVersion {
		fmt.Printf("btlink-server %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	if cfg.listPorts {
		if err := listPorts(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "list ports: %v\n", err)
			return 1
		}
		return 0
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	ka := keepalive.New(cfg.keepaliveEvery, cfg.keepaliveCmd)
	sess, err := newSession(cfg, h, ka, l)
	if err != nil {
		l.Error("link_init_error", "error", err)
		return 1
	}
	if cfg.keepaliveEvery > 0 {
		wg.Add(1)
		go func() { defer wg.Done(); ka.Run(ctx) }()
	}

	tx := transport.NewAsyncTx[string](ctx, cfg.cmdBuffer, sess.Send, transport.Hooks{
		OnError: func(err error) { l.Debug("command_not_queued", "error", err) },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrCommandQueue)
			return transport.ErrCommandOverflow
		},
	})
	defer tx.Close()

	exitCode := 0
	sessDone := make(chan struct{})
	go func() {
		defer close(sessDone)
		if err := sess.Run(ctx); err != nil {
			l.Error("link_session_ended", "error", err)
			exitCode = 1
		}
	}()

	srv := server.NewServer(
		server.WithListenAddr(cfg.listenAddr),
		server.WithHub(h),
		server.WithCodec(&wire.Codec{}),
		server.WithSend(tx.Send),
		server.WithStatus(sess.Status),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
		server.WithCommandRate(cfg.cmdRate, cfg.cmdBurst),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		port := listenPort(srv.Addr())
		cleanupMDNS, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the listener is bound and the link is up.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil && sess.Connected()
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		mux := http.NewServeMux()
		if cfg.wsEnable {
			mux.Handle("/ws", srv.WebSocketHandler())
		}
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr, mux)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-sessDone:
		l.Info("shutdown_link_closed")
	case <-ctx.Done():
	}
	cancel()
	sess.Stop()
	<-sessDone
	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		l.Warn("shutdown_error", "error", err)
	}
	wg.Wait()
	return exitCode
}
