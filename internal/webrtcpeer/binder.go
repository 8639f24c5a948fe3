package webrtcpeer

import (
	"context"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
)

// Binder creates one Server per Bind call. Base supplies everything except
// the listen and public addresses.
type Binder struct {
	Base ServerConfig
}

var _ transport.Binder = Binder{}

func (b Binder) Bind(ctx context.Context, listen, public transport.Address) (transport.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := b.Base
	cfg.ListenAddr = listen
	cfg.PublicAddr = public
	srv, err := Listen(cfg)
	if err != nil {
		return nil, err
	}
	return srv, nil
}
