// Package transport defines the unreliable, peer-addressed datagram
// capability that sessions relay against.
//
// The package only holds the contract. internal/webrtcpeer implements it on
// top of pion WebRTC DataChannels and internal/transport/transporttest
// provides an in-memory fake.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"
)

var (
	ErrClosed        = errors.New("transport closed")
	ErrUnknownClient = errors.New("unknown client")
	ErrNegotiation   = errors.New("session negotiation failed")
)

// Address identifies a peer by the remote IP and port of its connection.
type Address = netip.AddrPort

// MessageKind tags a payload as text or binary. The zero value asks the
// session to substitute its configured default.
type MessageKind uint8

const (
	KindDefault MessageKind = iota
	KindText
	KindBinary
)

func (k MessageKind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("MessageKind(%d)", uint8(k))
	}
}

// ParseMessageKind accepts "text" and "binary".
func ParseMessageKind(s string) (MessageKind, error) {
	switch s {
	case "text":
		return KindText, nil
	case "binary":
		return KindBinary, nil
	default:
		return KindDefault, fmt.Errorf("invalid message kind %q (expected text or binary)", s)
	}
}

// Datagram is a single payload together with its peer and kind.
type Datagram struct {
	From    Address
	Payload []byte
	Kind    MessageKind
}

type EventType uint8

const (
	// EventMessage carries a received Datagram.
	EventMessage EventType = iota + 1
	// EventError reports a receive-side failure. Datagram.From may be zero.
	EventError
	EventPeerOpen
	EventPeerClose
	// EventPeerTimeout reports a negotiated peer that never opened its
	// channel. Datagram.From is zero because no candidate pair was selected.
	EventPeerTimeout
)

func (t EventType) String() string {
	switch t {
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventPeerOpen:
		return "peer_open"
	case EventPeerClose:
		return "peer_close"
	case EventPeerTimeout:
		return "peer_timeout"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(t))
	}
}

type Event struct {
	Type EventType
	Datagram
	Err error
}

// Activity is a per-peer timing snapshot.
type Activity struct {
	SinceLastSend    time.Duration
	SinceLastReceive time.Duration
	Age              time.Duration
}

// Transport is a bound listener multiplexing many peers.
//
// Events is the only receive path. The channel is never closed; consumers
// stop reading when their own context ends.
type Transport interface {
	Events() <-chan Event
	Send(ctx context.Context, payload []byte, kind MessageKind, to Address) error
	Negotiate(ctx context.Context, offer string) (string, error)
	Disconnect(ctx context.Context, addr Address) error
	ActiveClients() int
	// ConnectedClients returns the connected peers in ascending address order.
	ConnectedClients() []Address
	IsConnected(addr Address) bool
	Activity(addr Address) (Activity, bool)
	Close() error
}

// Binder creates bound transports.
type Binder interface {
	Bind(ctx context.Context, listen, public Address) (Transport, error)
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(ctx context.Context, listen, public Address) (Transport, error)

func (f BinderFunc) Bind(ctx context.Context, listen, public Address) (Transport, error) {
	return f(ctx, listen, public)
}
