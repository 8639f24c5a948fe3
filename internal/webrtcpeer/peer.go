package webrtcpeer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
)

// peer is one negotiated PeerConnection. It becomes addressable once its
// DataChannel opens.
type peer struct {
	pc      *webrtc.PeerConnection
	created time.Time

	mu     sync.Mutex
	dc     *webrtc.DataChannel
	addr   transport.Address
	opened bool
	timer  *time.Timer

	lastSend atomic.Int64
	lastRecv atomic.Int64

	closeOnce sync.Once
}

func newPeer(pc *webrtc.PeerConnection, now time.Time) *peer {
	p := &peer{pc: pc, created: now}
	p.lastSend.Store(now.UnixNano())
	p.lastRecv.Store(now.UnixNano())
	return p
}

func (p *peer) channel() *webrtc.DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dc
}

func (p *peer) activity(now time.Time) transport.Activity {
	return transport.Activity{
		SinceLastSend:    now.Sub(time.Unix(0, p.lastSend.Load())),
		SinceLastReceive: now.Sub(time.Unix(0, p.lastRecv.Load())),
		Age:              now.Sub(p.created),
	}
}
