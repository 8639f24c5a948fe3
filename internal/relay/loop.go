package relay

import (
	"context"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
)

// run is the relay loop. Each iteration handles exactly one transport event
// or one outbound message; select picks among ready cases at random so
// neither direction can starve the other.
func (s *Session) run(ctx context.Context, events <-chan transport.Event) error {
	s.log.Debug("relay loop started")
	defer s.log.Debug("relay loop stopped")

	for {
		if !s.Active() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			s.handleEvent(ev)
		case <-s.outbound.Ready():
			if m, ok := s.outbound.TryPop(); ok {
				s.send(ctx, m)
			}
		}
	}
}

func (s *Session) handleEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventMessage:
		kind := ev.Kind
		if kind == transport.KindDefault {
			kind = transport.KindBinary
		}
		if s.inbound.Push(Message{Addr: ev.From, Payload: ev.Payload, Kind: kind}) {
			s.metrics.Inc(metrics.InboundMessages)
		}

	case transport.EventError:
		s.metrics.Inc(metrics.RecvErrors)
		s.log.Debug("transport receive error", "peer", ev.From.String(), "err", ev.Err)
		if s.debug {
			msg := "receive error"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			s.Notify(Notification{Code: CodeSocketRecvError, Message: msg, Event: EventSocketRecvError})
		}

	case transport.EventPeerOpen:
		s.metrics.PeerOpened()
		s.Notify(Notification{Code: CodeDataChannelOpen, Message: ev.From.String(), Event: EventDataChannelOpen})

	case transport.EventPeerClose:
		s.metrics.PeerClosed()
		s.Notify(Notification{Code: CodeDataChannelClose, Message: ev.From.String(), Event: EventDataChannelClose})

	case transport.EventPeerTimeout:
		s.metrics.Inc(metrics.PeersTimedOut)
		s.Notify(Notification{Code: CodeDataChannelTimeout, Message: ev.From.String(), Event: EventDataChannelTimeout})

	default:
		s.log.Warn("unknown transport event", "type", ev.Type.String())
	}
}

// send transmits one outbound message. Failures are reported and the payload
// is dropped.
func (s *Session) send(ctx context.Context, m Message) {
	kind := m.Kind
	if kind == transport.KindDefault {
		kind = s.DefaultKind()
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	err := s.tr.Send(ctx, m.Payload, kind, m.Addr)
	s.mu.RUnlock()

	if err != nil {
		s.metrics.Inc(metrics.SendErrors)
		s.log.Debug("send failed", "peer", m.Addr.String(), "kind", kind.String(), "err", err)
		s.Notify(Notification{Code: CodeSocketSendError, Message: m.Addr.String(), Event: EventSocketSendError})
		return
	}
	s.metrics.Inc(metrics.OutboundMessages)
}
