package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/auth"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/boundary"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/config"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/control"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/scheduler"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/webrtcpeer"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, logCloser, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", "err", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting aero-rtc-datagram-bridge",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"default_session", cfg.DefaultSession,
		"rtc_addr", cfg.RTCAddr,
		"rtc_endpoint", cfg.RTCEndpoint,
		"message_kind", cfg.MessageKind,
		"echo", cfg.Echo,
		"max_message_bytes", cfg.MaxMessageBytes,
		"sctp_max_receive_buffer_bytes", cfg.SCTPReceiveBufferBytes,
		"peer_connect_timeout", cfg.PeerConnectTimeout,
		"auth_mode", cfg.AuthMode,
	)
	logStartupWarnings(logger, cfg)

	m := metrics.New()
	pool := scheduler.New(cfg.SchedulerWorkers, logger)
	defer pool.Close()
	if err := m.RegisterGaugeFunc("scheduler_running_tasks", "Tasks currently running on the relay scheduler.", func() float64 {
		return float64(pool.Stats().Running)
	}); err != nil {
		return fmt.Errorf("register scheduler gauge: %w", err)
	}

	adapter := boundary.NewAdapter(boundary.Config{
		Binder: webrtcpeer.Binder{Base: webrtcpeer.ServerConfig{
			Logger:                 logger,
			Metrics:                m,
			ConnectTimeout:         cfg.PeerConnectTimeout,
			MaxMessageBytes:        cfg.MaxMessageBytes,
			SCTPReceiveBufferBytes: uint32(cfg.SCTPReceiveBufferBytes),
		}},
		Scheduler:   pool,
		Logger:      logger,
		Metrics:     m,
		DefaultKind: cfg.MessageKind,
	})
	defer adapter.ReleaseAll()
	if err := m.RegisterGaugeFunc("registered_handles", "Session handles registered at the boundary, placeholders included.", func() float64 {
		return float64(adapter.Len())
	}); err != nil {
		return fmt.Errorf("register handle gauge: %w", err)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		return fmt.Errorf("configure control auth: %w", err)
	}
	ctl := control.NewServer(control.Config{
		Adapter:           adapter,
		Verifier:          verifier,
		AuthMode:          cfg.AuthMode,
		Logger:            logger,
		Metrics:           m,
		MaxMessageBytes:   cfg.MaxControlMessageBytes,
		MessagesPerSecond: cfg.MaxControlMessagesPerSecond,
		SessionTimeout:    cfg.NegotiateTimeout,
	})
	srv.Mux().Handle("GET /control", ctl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DefaultSession {
		h, err := startDefaultSession(ctx, adapter, cfg, logger)
		if err != nil {
			return err
		}
		sig := signaling.NewServer(handleNegotiator{adapter: adapter, handle: h}, signaling.Config{
			Logger:           logger,
			Metrics:          m,
			MaxMessageBytes:  cfg.MaxSignalingMessageBytes,
			NegotiateTimeout: cfg.NegotiateTimeout,
		})
		sig.RegisterRoutes(srv.Mux(), srv.WithOriginPolicy)
		srv.AddReadyCheck(func() error {
			if _, st := adapter.Clients(h); st != boundary.StatusOK {
				return fmt.Errorf("default session %s", st)
			}
			return nil
		})
		if cfg.Echo {
			go runEcho(ctx, adapter, h, logger)
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server exited: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	// Control connections are hijacked, so Shutdown does not wait for them.
	// Closing every session ends their in-flight requests.
	adapter.ReleaseAll()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server exited after shutdown: %w", err)
	}
	return nil
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
