// Package transporttest provides an in-memory transport.Transport for tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
)

// ErrSendFailed is returned by Send for addresses registered with FailSendsTo.
var ErrSendFailed = errors.New("fake send failure")

// Sent records one successful or failed Send call.
type Sent struct {
	To      transport.Address
	Payload []byte
	Kind    transport.MessageKind
	Err     error
}

type peer struct {
	connectedAt time.Time
	lastSend    time.Time
	lastRecv    time.Time
}

// Fake is a scriptable Transport. The zero value is not usable; use New.
type Fake struct {
	events chan transport.Event
	sent   chan Sent

	mu         sync.Mutex
	closed     bool
	closeCalls int
	peers      map[transport.Address]*peer
	failSend   map[transport.Address]bool
	answer     string
	negErr     error
	negBlock   bool
	offers     []string
	sends      []Sent
	now        func() time.Time
}

func New() *Fake {
	return &Fake{
		events:   make(chan transport.Event, 1024),
		sent:     make(chan Sent, 1024),
		peers:    make(map[transport.Address]*peer),
		failSend: make(map[transport.Address]bool),
		answer:   "v=0\r\n",
		now:      time.Now,
	}
}

// Binder returns a transport.Binder that always hands out f.
func (f *Fake) Binder() transport.Binder {
	return transport.BinderFunc(func(ctx context.Context, listen, public transport.Address) (transport.Transport, error) {
		return f, nil
	})
}

// FailingBinder returns a Binder that always fails with err.
func FailingBinder(err error) transport.Binder {
	return transport.BinderFunc(func(ctx context.Context, listen, public transport.Address) (transport.Transport, error) {
		return nil, err
	})
}

// Connect registers addr as a connected peer.
func (f *Fake) Connect(addr transport.Address) {
	f.mu.Lock()
	now := f.now()
	f.peers[addr] = &peer{connectedAt: now, lastSend: now, lastRecv: now}
	f.mu.Unlock()
}

// FailSendsTo makes every Send to addr fail with ErrSendFailed.
func (f *Fake) FailSendsTo(addr transport.Address) {
	f.mu.Lock()
	f.failSend[addr] = true
	f.mu.Unlock()
}

// SetNegotiation scripts the result of Negotiate.
func (f *Fake) SetNegotiation(answer string, err error) {
	f.mu.Lock()
	f.answer = answer
	f.negErr = err
	f.mu.Unlock()
}

// BlockNegotiation makes Negotiate wait for its context to end.
func (f *Fake) BlockNegotiation() {
	f.mu.Lock()
	f.negBlock = true
	f.mu.Unlock()
}

// Deliver injects a received message.
func (f *Fake) Deliver(from transport.Address, payload []byte, kind transport.MessageKind) {
	f.mu.Lock()
	if p, ok := f.peers[from]; ok {
		p.lastRecv = f.now()
	}
	f.mu.Unlock()
	f.events <- transport.Event{
		Type:     transport.EventMessage,
		Datagram: transport.Datagram{From: from, Payload: payload, Kind: kind},
	}
}

// Inject pushes an arbitrary event.
func (f *Fake) Inject(ev transport.Event) {
	f.events <- ev
}

// SentCh yields every Send call in call order.
func (f *Fake) SentCh() <-chan Sent { return f.sent }

// Sends returns a copy of every Send call so far.
func (f *Fake) Sends() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sends...)
}

func (f *Fake) Offers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.offers...)
}

func (f *Fake) CloseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *Fake) Events() <-chan transport.Event { return f.events }

func (f *Fake) Send(ctx context.Context, payload []byte, kind transport.MessageKind, to transport.Address) error {
	f.mu.Lock()
	var err error
	switch {
	case f.closed:
		err = transport.ErrClosed
	case f.failSend[to]:
		err = ErrSendFailed
	default:
		if p, ok := f.peers[to]; ok {
			p.lastSend = f.now()
		}
	}
	rec := Sent{To: to, Payload: append([]byte(nil), payload...), Kind: kind, Err: err}
	f.sends = append(f.sends, rec)
	f.mu.Unlock()

	select {
	case f.sent <- rec:
	default:
	}
	return err
}

func (f *Fake) Negotiate(ctx context.Context, offer string) (string, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return "", transport.ErrClosed
	}
	f.offers = append(f.offers, offer)
	answer, negErr, block := f.answer, f.negErr, f.negBlock
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", fmt.Errorf("%w: %w", transport.ErrNegotiation, ctx.Err())
	}
	if negErr != nil {
		return "", fmt.Errorf("%w: %w", transport.ErrNegotiation, negErr)
	}
	return answer, nil
}

func (f *Fake) Disconnect(ctx context.Context, addr transport.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	if _, ok := f.peers[addr]; !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownClient, addr)
	}
	delete(f.peers, addr)
	return nil
}

func (f *Fake) ActiveClients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *Fake) ConnectedClients() []transport.Address {
	f.mu.Lock()
	out := make([]transport.Address, 0, len(f.peers))
	for addr := range f.peers {
		out = append(out, addr)
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

func (f *Fake) IsConnected(addr transport.Address) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.peers[addr]
	return ok
}

func (f *Fake) Activity(addr transport.Address) (transport.Activity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.peers[addr]
	if !ok {
		return transport.Activity{}, false
	}
	now := f.now()
	return transport.Activity{
		SinceLastSend:    now.Sub(p.lastSend),
		SinceLastReceive: now.Sub(p.lastRecv),
		Age:              now.Sub(p.connectedAt),
	}, true
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if f.closed {
		return transport.ErrClosed
	}
	f.closed = true
	f.peers = make(map[transport.Address]*peer)
	return nil
}
