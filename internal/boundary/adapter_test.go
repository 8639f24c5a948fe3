package boundary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/relay"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/scheduler"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport/transporttest"
)

const startConfig = `{"rtc_addr":"0.0.0.0:9000","rtc_endpoint":"http://127.0.0.1:9000"}`

func newTestAdapter(t *testing.T, binder transport.Binder) *Adapter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := scheduler.New(2, logger)
	t.Cleanup(pool.Close)
	a := NewAdapter(Config{Binder: binder, Scheduler: pool, Logger: logger})
	t.Cleanup(a.ReleaseAll)
	return a
}

type recorder struct {
	ch chan relay.Notification
}

func newRecorder() *recorder { return &recorder{ch: make(chan relay.Notification, 64)} }

func (r *recorder) notify(n relay.Notification) { r.ch <- n }

func (r *recorder) next(t *testing.T) relay.Notification {
	t.Helper()
	select {
	case n := <-r.ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
		return relay.Notification{}
	}
}

func TestStart_StatusCodes(t *testing.T) {
	fake := transporttest.New()
	a := newTestAdapter(t, fake.Binder())
	cb := newRecorder().notify
	ctx := context.Background()

	tests := []struct {
		name   string
		config string
		cb     relay.Notifier
		want   Status
	}{
		{"ok", startConfig, cb, StatusOK},
		{"missing callback", startConfig, nil, StatusMissingCallback},
		{"bad json", `{"rtc_addr":`, cb, StatusInvalidConfig},
		{"missing endpoint", `{"rtc_addr":"0.0.0.0:9000"}`, cb, StatusInvalidConfig},
		{"bad listen", `{"rtc_addr":"nowhere","rtc_endpoint":"http://127.0.0.1:9000"}`, cb, StatusInvalidAddress},
		{"bad public", `{"rtc_addr":"0.0.0.0:9000","rtc_endpoint":"http://127.0.0.1:9000/a/b"}`, cb, StatusInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, st := a.Start(ctx, []byte(tt.config), tt.cb, false)
			if st != tt.want {
				t.Fatalf("status=%s, want %s", st, tt.want)
			}
			if h == 0 {
				t.Fatalf("Start returned the zero handle")
			}
			if tt.want != StatusOK {
				// Placeholders answer every operation as not bound.
				if _, st := a.Session(ctx, h, "v=0"); st != StatusNotBound {
					t.Fatalf("Session on placeholder status=%s, want %s", st, StatusNotBound)
				}
				if st := a.Close(h); st != StatusOK {
					t.Fatalf("Close on placeholder status=%s", st)
				}
			}
		})
	}
}

func TestStart_BindFailure(t *testing.T) {
	a := newTestAdapter(t, transporttest.FailingBinder(errors.New("address in use")))
	h, st := a.Start(context.Background(), []byte(startConfig), newRecorder().notify, false)
	if st != StatusNotBound {
		t.Fatalf("status=%s, want %s", st, StatusNotBound)
	}
	if _, st := a.Recv(context.Background(), h); st != StatusNotBound {
		t.Fatalf("Recv status=%s, want %s", st, StatusNotBound)
	}
	if st := a.Send(h, []byte{1}, "127.0.0.1", 5000, KindBinary); st != StatusSendFailed {
		t.Fatalf("Send status=%s, want %s", st, StatusSendFailed)
	}
}

func TestAdapter_SendRecvRoundTrip(t *testing.T) {
	fake := transporttest.New()
	a := newTestAdapter(t, fake.Binder())
	h, st := a.Start(context.Background(), []byte(startConfig), newRecorder().notify, false)
	if st != StatusOK {
		t.Fatalf("Start status=%s", st)
	}

	peer := netip.MustParseAddrPort("127.0.0.1:5000")
	fake.Connect(peer)

	if st := a.Send(h, []byte{1, 2, 3}, "127.0.0.1", 5000, KindBinary); st != StatusOK {
		t.Fatalf("Send status=%s", st)
	}
	select {
	case sent := <-fake.SentCh():
		if sent.To != peer || sent.Kind != transport.KindBinary || string(sent.Payload) != "\x01\x02\x03" {
			t.Fatalf("sent=%+v", sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("transport never saw the send")
	}

	// Kinds other than 0/1 follow the session default.
	if st := a.SetMessageKind(h, KindText); st != StatusOK {
		t.Fatalf("SetMessageKind status=%s", st)
	}
	a.Send(h, []byte("hi"), "127.0.0.1", 5000, 7)
	select {
	case sent := <-fake.SentCh():
		if sent.Kind != transport.KindText {
			t.Fatalf("kind=%s, want text", sent.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("transport never saw the second send")
	}
	if st := a.SetMessageKind(h, 9); st != StatusInvalidConfig {
		t.Fatalf("SetMessageKind(9) status=%s, want %s", st, StatusInvalidConfig)
	}

	fake.Deliver(peer, []byte("pong"), transport.KindText)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, st := a.Recv(ctx, h)
	if st != StatusOK || string(got.Payload) != "pong" || got.Addr != "127.0.0.1:5000" || !got.Text {
		t.Fatalf("Recv=%+v,%s", got, st)
	}

	if got, st := a.TryRecv(h); st != StatusOK || len(got.Payload) != 0 {
		t.Fatalf("TryRecv on empty queue=%+v,%s", got, st)
	}
}

func TestAdapter_SendFailureInvokesCallbackOnce(t *testing.T) {
	fake := transporttest.New()
	a := newTestAdapter(t, fake.Binder())
	rec := newRecorder()
	h, _ := a.Start(context.Background(), []byte(startConfig), rec.notify, false)

	fake.FailSendsTo(netip.MustParseAddrPort("127.0.0.1:5000"))
	if st := a.Send(h, []byte{1}, "127.0.0.1", 5000, KindBinary); st != StatusOK {
		t.Fatalf("Send status=%s", st)
	}
	n := rec.next(t)
	if n.Code != relay.CodeSocketSendError || n.Message != "127.0.0.1:5000" || n.Event != relay.EventSocketSendError {
		t.Fatalf("notification=%+v", n)
	}
	select {
	case extra := <-rec.ch:
		t.Fatalf("unexpected second notification %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
	if sends := fake.Sends(); len(sends) != 1 {
		t.Fatalf("transport sends=%d, want 1 (no retry)", len(sends))
	}
}

func TestAdapter_QueriesAndDisconnect(t *testing.T) {
	fake := transporttest.New()
	a := newTestAdapter(t, fake.Binder())
	h, _ := a.Start(context.Background(), []byte(startConfig), newRecorder().notify, false)
	ctx := context.Background()

	fake.Connect(netip.MustParseAddrPort("10.0.0.2:4000"))
	fake.Connect(netip.MustParseAddrPort("10.0.0.1:4000"))

	if n := a.ClientsCount(h); n != 2 {
		t.Fatalf("ClientsCount=%d, want 2", n)
	}
	if list, st := a.Clients(h); st != StatusOK || list != "10.0.0.1:4000,10.0.0.2:4000" {
		t.Fatalf("Clients=%q,%s", list, st)
	}
	if ok, st := a.IsConnected(h, "10.0.0.1", 4000); !ok || st != StatusOK {
		t.Fatalf("IsConnected=%v,%s", ok, st)
	}
	if _, st := a.IsConnected(h, "not-an-ip", 4000); st != StatusInvalidAddress {
		t.Fatalf("IsConnected(bad) status=%s, want %s", st, StatusInvalidAddress)
	}
	if v, st := a.State(h, "10.0.0.1", 4000); st != StatusOK || v[2] < 0 {
		t.Fatalf("State=%v,%s", v, st)
	}
	if _, st := a.State(h, "10.0.0.9", 4000); st != StatusNotFound {
		t.Fatalf("State(unknown) status=%s, want %s", st, StatusNotFound)
	}

	if st := a.Disconnect(ctx, h, "10.0.0.1", 4000); st != StatusOK {
		t.Fatalf("Disconnect status=%s", st)
	}
	if st := a.Disconnect(ctx, h, "127.0.0.1", 5000); st != StatusDisconnectFailed {
		t.Fatalf("Disconnect(unknown) status=%s, want %s", st, StatusDisconnectFailed)
	}
}

func TestAdapter_Session(t *testing.T) {
	fake := transporttest.New()
	fake.SetNegotiation("v=0\r\nanswer", nil)
	a := newTestAdapter(t, fake.Binder())
	h, _ := a.Start(context.Background(), []byte(startConfig), newRecorder().notify, false)

	answer, st := a.Session(context.Background(), h, "v=0\r\noffer")
	if st != StatusOK || !strings.Contains(answer, "answer") {
		t.Fatalf("Session=%q,%s", answer, st)
	}

	fake.SetNegotiation("", errors.New("bad offer"))
	if _, st := a.Session(context.Background(), h, "junk"); st != StatusNegotiationFailed {
		t.Fatalf("Session status=%s, want %s", st, StatusNegotiationFailed)
	}
}

func TestAdapter_CloseIsIdempotentAndReleaseInvalidates(t *testing.T) {
	fake := transporttest.New()
	a := newTestAdapter(t, fake.Binder())
	rec := newRecorder()
	h, _ := a.Start(context.Background(), []byte(startConfig), rec.notify, false)

	if st := a.Close(h); st != StatusOK {
		t.Fatalf("Close status=%s", st)
	}
	if st := a.Close(h); st != StatusOK {
		t.Fatalf("second Close status=%s", st)
	}
	if n := rec.next(t); n.Event != relay.EventServerClosed || n.Code != relay.CodeServerClosed {
		t.Fatalf("notification=%+v, want server_closed", n)
	}

	start := time.Now()
	if _, st := a.Recv(context.Background(), h); st != StatusNotBound {
		t.Fatalf("Recv after close status=%s, want %s", st, StatusNotBound)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Recv after close blocked")
	}
	if st := a.Send(h, []byte{1}, "127.0.0.1", 5000, KindBinary); st != StatusSendFailed {
		t.Fatalf("Send after close status=%s, want %s", st, StatusSendFailed)
	}
	if _, st := a.IsConnected(h, "127.0.0.1", 5000); st != StatusNotBound {
		t.Fatalf("IsConnected after close status=%s, want %s", st, StatusNotBound)
	}

	if st := a.Release(h); st != StatusOK {
		t.Fatalf("Release status=%s", st)
	}
	if st := a.Close(h); st != StatusInvalidHandle {
		t.Fatalf("Close after release status=%s, want %s", st, StatusInvalidHandle)
	}
	if _, st := a.Recv(context.Background(), h); st != StatusInvalidHandle {
		t.Fatalf("Recv after release status=%s, want %s", st, StatusInvalidHandle)
	}
	if fake.CloseCalls() != 1 {
		t.Fatalf("transport closed %d times, want 1", fake.CloseCalls())
	}
}
