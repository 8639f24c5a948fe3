package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	return slog.New(h), func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{level: r.Level, msg: r.Message, attrs: map[string]any{}}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	return &recordingHandler{
		mu:      h.mu,
		records: h.records,
		attrs:   append([]slog.Attr(nil), h.attrs...),
		groups:  append([]string(nil), h.groups...),
	}
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}

func warningCodes(records []recordedLog) map[string]bool {
	codes := map[string]bool{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			codes[code] = true
		}
	}
	return codes
}

func TestStartupWarnings(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"auth none", config.Config{Mode: config.ModeDev, AuthMode: config.AuthModeNone}, "auth_mode_none"},
		{"wildcard origin", config.Config{AuthMode: config.AuthModeAPIKey, AllowedOrigins: []string{"*"}}, "allowed_origins_wildcard"},
		{"echo in prod", config.Config{Mode: config.ModeProd, AuthMode: config.AuthModeAPIKey, Echo: true}, "echo_in_prod"},
		{"debug in prod", config.Config{Mode: config.ModeProd, AuthMode: config.AuthModeAPIKey, Debug: true}, "debug_in_prod"},
		{"large messages", config.Config{AuthMode: config.AuthModeAPIKey, MaxMessageBytes: 2 << 20}, "max_message_large"},
		{"large sctp buffer", config.Config{AuthMode: config.AuthModeAPIKey, SCTPReceiveBufferBytes: 16 << 20}, "sctp_max_receive_buffer_large"},
		{"long connect timeout", config.Config{AuthMode: config.AuthModeAPIKey, PeerConnectTimeout: 5 * time.Minute}, "peer_connect_timeout_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, records := newRecordingLogger()
			logStartupWarnings(logger, tt.cfg)
			if codes := warningCodes(records()); !codes[tt.want] {
				t.Fatalf("expected warning_code=%s, got %#v", tt.want, records())
			}
		})
	}
}

func TestStartupWarnings_QuietForSafeConfig(t *testing.T) {
	logger, records := newRecordingLogger()
	logStartupWarnings(logger, config.Config{
		Mode:               config.ModeProd,
		AuthMode:           config.AuthModeAPIKey,
		AllowedOrigins:     []string{"https://app.example.com"},
		MaxMessageBytes:    64 * 1024,
		PeerConnectTimeout: 10 * time.Second,
	})
	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("unexpected warnings: %#v", codes)
	}
}
