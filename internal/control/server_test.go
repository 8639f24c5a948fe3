package control

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/auth"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/boundary"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/config"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/relay"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/scheduler"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport/transporttest"
)

const (
	testRTCAddr     = "0.0.0.0:9000"
	testRTCEndpoint = "http://127.0.0.1:9000"
	testAPIKey      = "secret"
)

type testEnv struct {
	fake    *transporttest.Fake
	adapter *boundary.Adapter
	metrics *metrics.Metrics
	srv     *Server
	url     string
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := scheduler.New(2, logger)
	t.Cleanup(pool.Close)

	fake := transporttest.New()
	m := metrics.New()
	a := boundary.NewAdapter(boundary.Config{Binder: fake.Binder(), Scheduler: pool, Logger: logger, Metrics: m})
	t.Cleanup(a.ReleaseAll)

	cfg.Adapter = a
	cfg.Logger = logger
	cfg.Metrics = m
	if cfg.Verifier == nil {
		cfg.Verifier = auth.APIKeyVerifier{Expected: testAPIKey}
		cfg.AuthMode = config.AuthModeAPIKey
	}
	srv := NewServer(cfg)

	mux := http.NewServeMux()
	mux.Handle("GET /control", srv)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &testEnv{
		fake:    fake,
		adapter: a,
		metrics: m,
		srv:     srv,
		url:     "ws" + strings.TrimPrefix(ts.URL, "http") + "/control",
	}
}

func (e *testEnv) dial(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, e.url, testAPIKey)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestControl_Unauthorized(t *testing.T) {
	env := newTestEnv(t, Config{})

	for _, key := range []string{"", "wrong"} {
		_, err := Dial(testCtx(t), env.url, key)
		if err == nil {
			t.Fatalf("Dial with key %q succeeded, want error", key)
		}
	}
	if got := env.metrics.Get(metrics.ControlUnauthorized); got != 2 {
		t.Fatalf("%s=%d, want 2", metrics.ControlUnauthorized, got)
	}

	// Browsers cannot set headers on upgrades, so the query parameter works too.
	ws, _, err := websocket.DefaultDialer.Dial(env.url+"?apiKey="+testAPIKey, nil)
	if err != nil {
		t.Fatalf("dial with query key: %v", err)
	}
	ws.Close()
}

func TestControl_StartSendRecv(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.dial(t)
	ctx := testCtx(t)

	h, st, err := c.Start(ctx, testRTCAddr, testRTCEndpoint, false)
	if err != nil || st != boundary.StatusOK {
		t.Fatalf("Start()=%v, %v", st, err)
	}

	peer := netip.MustParseAddrPort("10.0.0.1:4000")
	env.fake.Connect(peer)

	st, err = c.Send(ctx, h, []byte("hello"), "10.0.0.1", 4000, boundary.KindText)
	if err != nil || st != boundary.StatusOK {
		t.Fatalf("Send()=%v, %v", st, err)
	}
	select {
	case sent := <-env.fake.SentCh():
		if sent.To != peer || string(sent.Payload) != "hello" || sent.Kind != transport.KindText {
			t.Fatalf("sent=%+v", sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for send")
	}

	env.fake.Deliver(peer, []byte{1, 2, 3}, transport.KindBinary)
	m, st, err := c.Recv(ctx, h, time.Second)
	if err != nil || st != boundary.StatusOK {
		t.Fatalf("Recv()=%v, %v", st, err)
	}
	if string(m.Payload) != "\x01\x02\x03" || m.Addr != "10.0.0.1:4000" || m.Text {
		t.Fatalf("received=%+v", m)
	}

	// Nothing queued: Recv times out with an empty message.
	m, st, err = c.Recv(ctx, h, 20*time.Millisecond)
	if err != nil || st != boundary.StatusOK || len(m.Payload) != 0 {
		t.Fatalf("empty Recv()=%+v, %v, %v", m, st, err)
	}

	clients, st, err := c.Clients(ctx, h)
	if err != nil || st != boundary.StatusOK || clients != "10.0.0.1:4000" {
		t.Fatalf("Clients()=%q, %v, %v", clients, st, err)
	}
	if n, err := c.ClientsCount(ctx, h); err != nil || n != 1 {
		t.Fatalf("ClientsCount()=%d, %v", n, err)
	}

	f, err := c.Call(ctx, Request{Op: OpState, Handle: h, Addr: "10.0.0.1", Port: 4000})
	if err != nil || f.Status != boundary.StatusOK || f.State == nil {
		t.Fatalf("state=%+v, %v", f, err)
	}
	f, err = c.Call(ctx, Request{Op: OpIsConnected, Handle: h, Addr: "10.0.0.1", Port: 4000})
	if err != nil || !f.Connected {
		t.Fatalf("is_connected=%+v, %v", f, err)
	}
}

func TestControl_Session(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.dial(t)
	ctx := testCtx(t)

	h, _, err := c.Start(ctx, testRTCAddr, testRTCEndpoint, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	answer, st, err := c.Session(ctx, h, "v=0\r\noffer")
	if err != nil || st != boundary.StatusOK || answer != "v=0\r\n" {
		t.Fatalf("Session()=%q, %v, %v", answer, st, err)
	}
	if offers := env.fake.Offers(); len(offers) != 1 || offers[0] != "v=0\r\noffer" {
		t.Fatalf("offers=%q", offers)
	}
}

func TestControl_Notifications(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.dial(t)
	ctx := testCtx(t)

	h, _, err := c.Start(ctx, testRTCAddr, testRTCEndpoint, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	peer := netip.MustParseAddrPort("10.0.0.2:5000")
	env.fake.Inject(transport.Event{Type: transport.EventPeerOpen, Datagram: transport.Datagram{From: peer}})

	select {
	case f := <-c.Notifications():
		if f.Handle != h || f.Notification == nil {
			t.Fatalf("frame=%+v", f)
		}
		n := *f.Notification
		if n.Code != relay.CodeDataChannelOpen || n.Event != relay.EventDataChannelOpen || n.Message != "10.0.0.2:5000" {
			t.Fatalf("notification=%+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
	}
}

func TestControl_HandlesAreScopedToConnection(t *testing.T) {
	env := newTestEnv(t, Config{})
	owner := env.dial(t)
	other := env.dial(t)
	ctx := testCtx(t)

	h, _, err := owner.Start(ctx, testRTCAddr, testRTCEndpoint, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	st, err := other.Send(ctx, h, []byte("x"), "10.0.0.1", 4000, boundary.KindBinary)
	if err != nil || st != boundary.StatusInvalidHandle {
		t.Fatalf("foreign Send()=%v, %v; want %v", st, err, boundary.StatusInvalidHandle)
	}

	if st, err := owner.Release(ctx, h); err != nil || st != boundary.StatusOK {
		t.Fatalf("Release()=%v, %v", st, err)
	}
	st, err = owner.Send(ctx, h, []byte("x"), "10.0.0.1", 4000, boundary.KindBinary)
	if err != nil || st != boundary.StatusInvalidHandle {
		t.Fatalf("Send after release=%v, %v; want %v", st, err, boundary.StatusInvalidHandle)
	}
}

func TestControl_SessionsReleasedOnDisconnect(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.dial(t)
	ctx := testCtx(t)

	if _, _, err := c.Start(ctx, testRTCAddr, testRTCEndpoint, false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Failed starts still hand out an owned placeholder.
	if _, st, err := c.Start(ctx, "nowhere", testRTCEndpoint, false); err != nil || st != boundary.StatusInvalidAddress {
		t.Fatalf("Start(bad)=%v, %v", st, err)
	}
	if env.adapter.Len() != 2 {
		t.Fatalf("Len()=%d, want 2", env.adapter.Len())
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitFor(t, func() bool { return env.adapter.Len() == 0 })
	if got := env.fake.CloseCalls(); got != 1 {
		t.Fatalf("transport CloseCalls=%d, want 1", got)
	}
}

func TestControl_UnknownOpAndBadFrame(t *testing.T) {
	env := newTestEnv(t, Config{})
	c := env.dial(t)
	ctx := testCtx(t)

	h, _, err := c.Start(ctx, testRTCAddr, testRTCEndpoint, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	f, err := c.Call(ctx, Request{Op: "explode", Handle: h})
	if err == nil || f.Status != boundary.StatusInvalidConfig {
		t.Fatalf("unknown op: frame=%+v err=%v", f, err)
	}
}

func TestControl_RateLimit(t *testing.T) {
	env := newTestEnv(t, Config{MessagesPerSecond: 1})

	header := http.Header{}
	header.Set("Authorization", "Bearer "+testAPIKey)
	ws, _, err := websocket.DefaultDialer.Dial(env.url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	req := []byte(`{"id":1,"op":"clients_count","handle":"1"}`)
	for i := 0; i < 2; i++ {
		if err := ws.WriteMessage(websocket.TextMessage, req); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("err=%v, want policy violation close", err)
		}
		break
	}
	if got := env.metrics.Get(metrics.ControlRateLimited); got != 1 {
		t.Fatalf("%s=%d, want 1", metrics.ControlRateLimited, got)
	}
}

func TestControl_PipelinedSendsKeepOrder(t *testing.T) {
	const n = 500
	env := newTestEnv(t, Config{MessagesPerSecond: 10 * n})

	header := http.Header{}
	header.Set("Authorization", "Bearer "+testAPIKey)
	ws, _, err := websocket.DefaultDialer.Dial(env.url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	cfg, _ := json.Marshal(boundary.StartConfig{RTCAddr: ptr(testRTCAddr), RTCEndpoint: ptr(testRTCEndpoint)})
	if err := ws.WriteJSON(Request{ID: 1, Op: OpStart, Config: cfg}); err != nil {
		t.Fatalf("write start: %v", err)
	}
	var started Frame
	if err := ws.ReadJSON(&started); err != nil || started.Status != boundary.StatusOK {
		t.Fatalf("start=%+v, %v", started, err)
	}

	peer := netip.MustParseAddrPort("10.0.0.1:4000")
	env.fake.Connect(peer)

	// Written back to back without waiting for responses.
	for i := 0; i < n; i++ {
		req := Request{ID: uint64(i + 2), Op: OpSend, Handle: started.Handle, Payload: []byte(strconv.Itoa(i)), Addr: "10.0.0.1", Port: 4000, Kind: boundary.KindBinary}
		if err := ws.WriteJSON(req); err != nil {
			t.Fatalf("write send %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case sent := <-env.fake.SentCh():
			if got := string(sent.Payload); got != strconv.Itoa(i) {
				t.Fatalf("transport saw %q at position %d", got, i)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d sends", i)
		}
	}

	// Responses also come back in request order.
	for i := 0; i < n; {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			t.Fatalf("read response %d: %v", i, err)
		}
		if f.Type != FrameResponse {
			continue
		}
		i++
		if f.ID != uint64(i+1) || f.Status != boundary.StatusOK {
			t.Fatalf("response %d=%+v", i-1, f)
		}
	}
}

func TestConn_NotifyDropsWhenClientIsSlow(t *testing.T) {
	m := metrics.New()
	c := &conn{
		srv:   &Server{cfg: Config{Metrics: m}},
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		notes: make(chan Frame, 1),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			c.notify(Frame{Type: FrameNotification, Notification: &relay.Notification{Code: relay.CodeDataChannelOpen}})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("notify blocked on a full buffer")
	}
	if got := m.Get(metrics.ControlNotificationsDropped); got != 2 {
		t.Fatalf("%s=%d, want 2", metrics.ControlNotificationsDropped, got)
	}
	if len(c.notes) != 1 {
		t.Fatalf("queued notifications=%d, want 1", len(c.notes))
	}
}

func ptr[T any](v T) *T { return &v }
