package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/boundary"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/control"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/endpoint"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/scheduler"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport/transporttest"
)

func startControl(t *testing.T) (*transporttest.Fake, *boundary.Adapter, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := scheduler.New(2, logger)
	t.Cleanup(pool.Close)

	fake := transporttest.New()
	a := boundary.NewAdapter(boundary.Config{Binder: fake.Binder(), Scheduler: pool, Logger: logger})
	t.Cleanup(a.ReleaseAll)

	mux := http.NewServeMux()
	mux.Handle("GET /control", control.NewServer(control.Config{Adapter: a, Logger: logger}))
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return fake, a, "ws" + strings.TrimPrefix(ts.URL, "http") + "/control"
}

func TestRootDefaults(t *testing.T) {
	root := newRootCmd()
	flags := root.PersistentFlags()
	for name, want := range map[string]string{
		"control-url":  defaultControlURL,
		"rtc-addr":     endpoint.DefaultListen,
		"rtc-endpoint": endpoint.DefaultPublic,
		"timeout":      "10s",
	} {
		if got := flags.Lookup(name).DefValue; got != want {
			t.Fatalf("--%s default=%q, want %q", name, got, want)
		}
	}
	for _, sub := range []string{"probe", "listen"} {
		if c, _, err := root.Find([]string{sub}); err != nil || c.Name() != sub {
			t.Fatalf("subcommand %q missing: %v", sub, err)
		}
	}
}

func TestListenEchoesAndPrints(t *testing.T) {
	fake, a, url := startControl(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"listen", "--control-url", url, "--echo", "--count", "1",
		"--rtc-addr", "0.0.0.0:9000", "--rtc-endpoint", "http://127.0.0.1:9000"})

	errCh := make(chan error, 1)
	go func() { errCh <- root.ExecuteContext(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	peer := netip.MustParseAddrPort("10.0.0.1:4000")
	fake.Connect(peer)
	fake.Deliver(peer, []byte("hi"), transport.KindText)

	select {
	case sent := <-fake.SentCh():
		if sent.To != peer || string(sent.Payload) != "hi" || sent.Kind != transport.KindText {
			t.Fatalf("echoed=%+v", sent)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for echo")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("listen: %v", err)
	}

	var line listenLine
	for _, raw := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var l listenLine
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		if l.Kind == "message" {
			line = l
		}
	}
	if line.Addr != "10.0.0.1:4000" || line.Text != "hi" {
		t.Fatalf("message line=%+v", line)
	}
	if a.Len() != 0 {
		t.Fatalf("session not released: Len()=%d", a.Len())
	}
}
