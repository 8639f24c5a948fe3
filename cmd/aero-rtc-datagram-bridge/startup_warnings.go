package main

import (
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AuthMode == config.AuthModeNone {
		logger.Warn("startup security warning: AUTH_MODE=none disables control authentication",
			"warning_code", "auth_mode_none",
			"auth_mode", cfg.AuthMode,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.Echo {
		logger.Warn("startup warning: echo mode is enabled while --mode=prod",
			"warning_code", "echo_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.Debug {
		logger.Warn("startup warning: debug notifications are enabled while --mode=prod",
			"warning_code", "debug_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxMessageBytes > 1<<20 {
		logger.Warn("startup security warning: MAX_MESSAGE_BYTES is very large (weakens DataChannel/SCTP DoS hardening)",
			"warning_code", "max_message_large",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.SCTPReceiveBufferBytes > 8<<20 {
		logger.Warn("startup security warning: SCTP_MAX_RECEIVE_BUFFER_BYTES is very large (increases receive-side buffering)",
			"warning_code", "sctp_max_receive_buffer_large",
			"sctp_max_receive_buffer_bytes", cfg.SCTPReceiveBufferBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.PeerConnectTimeout > 2*time.Minute {
		logger.Warn("startup security warning: PEER_CONNECT_TIMEOUT is very large (increases half-open peer exposure)",
			"warning_code", "peer_connect_timeout_large",
			"peer_connect_timeout", cfg.PeerConnectTimeout,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
