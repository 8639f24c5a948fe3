package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/boundary"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/config"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/relay"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
)

const echoRecvTimeout = time.Second

// startDefaultSession binds the session served by the signaling endpoints.
// Its notifications go to the log.
func startDefaultSession(ctx context.Context, a *boundary.Adapter, cfg config.Config, logger *slog.Logger) (boundary.Handle, error) {
	startCfg, err := json.Marshal(boundary.StartConfig{RTCAddr: &cfg.RTCAddr, RTCEndpoint: &cfg.RTCEndpoint})
	if err != nil {
		return 0, err
	}
	log := logger.With("component", "default_session")
	notify := func(n relay.Notification) {
		log.Info("session notification", "code", n.Code, "event", n.Event, "message", n.Message)
	}

	h, st := a.Start(ctx, startCfg, notify, cfg.Debug)
	if st != boundary.StatusOK {
		a.Release(h)
		return 0, fmt.Errorf("start default session on %s: %s", cfg.RTCAddr, st)
	}
	return h, nil
}

// handleNegotiator answers offers on a boundary handle, translating status
// codes back into the errors the signaling server classifies.
type handleNegotiator struct {
	adapter *boundary.Adapter
	handle  boundary.Handle
}

func (n handleNegotiator) Negotiate(ctx context.Context, offer string) (string, error) {
	answer, st := n.adapter.Session(ctx, n.handle, offer)
	switch {
	case st == boundary.StatusOK:
		return answer, nil
	case ctx.Err() != nil:
		return "", fmt.Errorf("%w: %w", transport.ErrNegotiation, ctx.Err())
	case st == boundary.StatusNegotiationFailed:
		return "", transport.ErrNegotiation
	default:
		return "", fmt.Errorf("%w: %s", relay.ErrNotActive, st)
	}
}

// runEcho sends every inbound message back to its sender with the same kind
// until ctx is done or the session goes inactive.
func runEcho(ctx context.Context, a *boundary.Adapter, h boundary.Handle, logger *slog.Logger) {
	log := logger.With("component", "echo")
	log.Info("echo mode enabled")
	for ctx.Err() == nil {
		rctx, cancel := context.WithTimeout(ctx, echoRecvTimeout)
		m, st := a.Recv(rctx, h)
		cancel()
		if st != boundary.StatusOK {
			log.Info("echo stopped", "status", st.String())
			return
		}
		if m.Addr == "" {
			continue
		}
		from, err := netip.ParseAddrPort(m.Addr)
		if err != nil {
			log.Debug("echo: unparseable peer", "addr", m.Addr, "err", err)
			continue
		}
		kind := boundary.KindBinary
		if m.Text {
			kind = boundary.KindText
		}
		if st := a.Send(h, m.Payload, from.Addr().String(), from.Port(), kind); st != boundary.StatusOK {
			log.Debug("echo send failed", "addr", m.Addr, "status", st.String())
		}
	}
}
