// Package boundary exposes relay sessions through flat, status-coded
// operations addressed by opaque handles. It is the surface the control
// protocol (and any foreign caller) drives.
package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/endpoint"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/relay"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/scheduler"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
)

// Message kinds accepted by Send and SetMessageKind.
const (
	KindText   uint32 = 0
	KindBinary uint32 = 1
)

// StartConfig is the JSON document passed to Start.
type StartConfig struct {
	RTCAddr     *string `json:"rtc_addr"`
	RTCEndpoint *string `json:"rtc_endpoint"`
}

// Received is one inbound message as seen across the boundary.
type Received struct {
	Payload []byte
	Addr    string
	Text    bool
}

type Config struct {
	Binder    transport.Binder
	Scheduler *scheduler.Pool
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	// Resolver resolves public endpoint host names. Nil uses the system
	// resolver.
	Resolver    endpoint.Resolver
	DefaultKind transport.MessageKind
}

// entry is a registered session. A nil session marks a placeholder created
// for a failed Start; every operation on it reports StatusNotBound.
type entry struct {
	sess   *relay.Session
	notify relay.Notifier
}

type Adapter struct {
	cfg Config
	log *slog.Logger
	reg Registry[*entry]
}

func NewAdapter(cfg Config) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		cfg: cfg,
		log: cfg.Logger.With("component", "boundary"),
	}
}

// Start binds a new session. A handle is returned even on failure; it refers
// to an inactive placeholder that must still be released.
func (a *Adapter) Start(ctx context.Context, config []byte, cb relay.Notifier, debug bool) (Handle, Status) {
	if cb == nil {
		return a.placeholder(nil), StatusMissingCallback
	}

	var sc StartConfig
	if err := json.Unmarshal(config, &sc); err != nil || sc.RTCAddr == nil || sc.RTCEndpoint == nil {
		a.log.Debug("invalid start config", "err", err)
		return a.placeholder(cb), StatusInvalidConfig
	}

	listen, err := endpoint.ParseListen(*sc.RTCAddr)
	if err != nil {
		a.log.Debug("invalid listen address", "err", err)
		return a.placeholder(cb), StatusInvalidAddress
	}
	public, err := endpoint.ParsePublic(ctx, a.cfg.Resolver, *sc.RTCEndpoint)
	if err != nil {
		a.log.Debug("invalid public endpoint", "err", err)
		return a.placeholder(cb), StatusInvalidAddress
	}

	sess, err := relay.Bind(ctx, a.cfg.Binder, relay.Options{
		Listen:      listen,
		Public:      public,
		DefaultKind: a.cfg.DefaultKind,
		Notify:      cb,
		Debug:       debug,
		Scheduler:   a.cfg.Scheduler,
		Logger:      a.cfg.Logger,
		Metrics:     a.cfg.Metrics,
	})
	if err != nil {
		a.log.Warn("session bind failed", "listen", listen.String(), "err", err)
		return a.placeholder(cb), StatusNotBound
	}
	h := a.reg.Insert(&entry{sess: sess, notify: cb})
	a.log.Debug("session started", "handle", h.String(), "session_id", sess.ID())
	return h, StatusOK
}

func (a *Adapter) placeholder(cb relay.Notifier) Handle {
	return a.reg.Insert(&entry{notify: cb})
}

// lookup resolves h to a live session.
func (a *Adapter) lookup(h Handle) (*entry, Status) {
	e, ok := a.reg.Get(h)
	if !ok {
		return nil, StatusInvalidHandle
	}
	if e.sess == nil || !e.sess.Active() {
		return e, StatusNotBound
	}
	return e, StatusOK
}

// Recv waits for the next inbound message until ctx is done. An empty
// Received with StatusOK means nothing arrived.
func (a *Adapter) Recv(ctx context.Context, h Handle) (Received, Status) {
	e, st := a.lookup(h)
	if st != StatusOK {
		return Received{}, st
	}
	m, err := e.sess.Dequeue(ctx)
	switch {
	case err == nil:
		return received(m), StatusOK
	case errors.Is(err, relay.ErrNotActive):
		return Received{}, StatusNotBound
	default:
		return Received{}, StatusOK
	}
}

// TryRecv is Recv without waiting.
func (a *Adapter) TryRecv(h Handle) (Received, Status) {
	e, st := a.lookup(h)
	if st != StatusOK {
		return Received{}, st
	}
	m, ok, err := e.sess.TryDequeue()
	if err != nil {
		return Received{}, StatusNotBound
	}
	if !ok {
		return Received{}, StatusOK
	}
	return received(m), StatusOK
}

func received(m relay.Message) Received {
	return Received{Payload: m.Payload, Addr: m.Addr.String(), Text: m.Kind == transport.KindText}
}

// Send queues payload for addr:port. kind 0 is text, 1 binary and anything
// else uses the session default at send time.
func (a *Adapter) Send(h Handle, payload []byte, addr string, port uint16, kind uint32) Status {
	e, ok := a.reg.Get(h)
	if !ok {
		return StatusInvalidHandle
	}
	to, err := peerAddr(addr, port)
	if err != nil {
		return StatusInvalidAddress
	}

	var enqueueErr error = relay.ErrNotActive
	if e.sess != nil {
		enqueueErr = e.sess.Enqueue(relay.Message{Addr: to, Payload: payload, Kind: boundaryKind(kind)})
	}
	if enqueueErr != nil {
		n := relay.Notification{Code: relay.CodeMessageSendError, Message: enqueueErr.Error(), Event: relay.EventMessageSendError}
		if e.sess != nil {
			e.sess.Notify(n)
		} else if e.notify != nil {
			e.notify(n)
		}
		return StatusSendFailed
	}
	return StatusOK
}

func boundaryKind(kind uint32) transport.MessageKind {
	switch kind {
	case KindText:
		return transport.KindText
	case KindBinary:
		return transport.KindBinary
	default:
		return transport.KindDefault
	}
}

// Session answers an SDP offer.
func (a *Adapter) Session(ctx context.Context, h Handle, offer string) (string, Status) {
	e, st := a.lookup(h)
	if st != StatusOK {
		return "", st
	}
	answer, err := e.sess.Negotiate(ctx, offer)
	if err != nil {
		if errors.Is(err, relay.ErrNotActive) {
			return "", StatusNotBound
		}
		return "", StatusNegotiationFailed
	}
	return answer, StatusOK
}

// State reports [since last send, since last receive, age] in milliseconds.
func (a *Adapter) State(h Handle, addr string, port uint16) ([3]int64, Status) {
	e, st := a.lookup(h)
	if st == StatusInvalidHandle {
		return [3]int64{}, st
	}
	if st != StatusOK {
		return [3]int64{}, StatusNotFound
	}
	to, err := peerAddr(addr, port)
	if err != nil {
		return [3]int64{}, StatusNotFound
	}
	act, err := e.sess.Activity(to)
	if err != nil {
		return [3]int64{}, StatusNotFound
	}
	return [3]int64{
		act.SinceLastSend.Milliseconds(),
		act.SinceLastReceive.Milliseconds(),
		act.Age.Milliseconds(),
	}, StatusOK
}

func (a *Adapter) IsConnected(h Handle, addr string, port uint16) (bool, Status) {
	e, st := a.lookup(h)
	if st != StatusOK {
		return false, st
	}
	to, err := peerAddr(addr, port)
	if err != nil {
		return false, StatusInvalidAddress
	}
	ok, err := e.sess.IsConnected(to)
	if err != nil {
		return false, StatusNotBound
	}
	return ok, StatusOK
}

// ClientsCount is the number of connected peers. It is zero for anything
// other than a live session.
func (a *Adapter) ClientsCount(h Handle) uint32 {
	e, st := a.lookup(h)
	if st != StatusOK {
		return 0
	}
	n, err := e.sess.ActiveClients()
	if err != nil {
		return 0
	}
	return uint32(n)
}

// Clients lists connected peers as comma-joined "ip:port" text.
func (a *Adapter) Clients(h Handle) (string, Status) {
	e, st := a.lookup(h)
	if st != StatusOK {
		return "", st
	}
	addrs, err := e.sess.ConnectedClients()
	if err != nil {
		return "", StatusNotBound
	}
	parts := make([]string, len(addrs))
	for i, addr := range addrs {
		parts[i] = addr.String()
	}
	return strings.Join(parts, ","), StatusOK
}

func (a *Adapter) Disconnect(ctx context.Context, h Handle, addr string, port uint16) Status {
	e, st := a.lookup(h)
	if st != StatusOK {
		return st
	}
	to, err := peerAddr(addr, port)
	if err != nil {
		return StatusInvalidAddress
	}
	if err := e.sess.Disconnect(ctx, to); err != nil {
		if errors.Is(err, relay.ErrNotActive) {
			return StatusNotBound
		}
		return StatusDisconnectFailed
	}
	return StatusOK
}

// SetMessageKind changes the session default used by Send with kind other
// than 0 or 1.
func (a *Adapter) SetMessageKind(h Handle, kind uint32) Status {
	e, st := a.lookup(h)
	if st != StatusOK {
		return st
	}
	k := boundaryKind(kind)
	if k == transport.KindDefault {
		return StatusInvalidConfig
	}
	if err := e.sess.SetDefaultKind(k); err != nil {
		return StatusInvalidConfig
	}
	return StatusOK
}

// Close shuts the session down. The handle stays valid, so later calls
// (including Close) see an inactive session instead of faulting.
func (a *Adapter) Close(h Handle) Status {
	e, ok := a.reg.Get(h)
	if !ok {
		return StatusInvalidHandle
	}
	if e.sess != nil {
		if err := e.sess.Close(); err != nil && !errors.Is(err, relay.ErrAlreadyClosed) {
			a.log.Warn("session close", "handle", h.String(), "err", err)
		}
	}
	return StatusOK
}

// Release closes the session and invalidates h.
func (a *Adapter) Release(h Handle) Status {
	if st := a.Close(h); st != StatusOK {
		return st
	}
	a.reg.Remove(h)
	return StatusOK
}

// Len is the number of registered handles, placeholders included.
func (a *Adapter) Len() int { return a.reg.Len() }

// ReleaseAll releases every handle.
func (a *Adapter) ReleaseAll() {
	for _, h := range a.reg.Handles() {
		a.Release(h)
	}
}

func peerAddr(addr string, port uint16) (netip.AddrPort, error) {
	ip, err := netip.ParseAddr(strings.TrimSpace(addr))
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ip.Unmap(), port), nil
}
