package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
)

var ErrMessageTooLarge = errors.New("message too large")

// Server is a bound WebRTC datagram listener.
type Server struct {
	cfg     ServerConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	api     *webrtc.API
	conn    net.PacketConn
	mux     io.Closer
	local   netip.AddrPort

	events chan transport.Event
	quit   chan struct{}

	mu      sync.Mutex
	closed  bool
	pending map[*peer]struct{}
	peers   map[transport.Address]*peer

	now func() time.Time
}

var _ transport.Transport = (*Server)(nil)

// Listen binds the UDP socket and prepares the WebRTC stack. It does not
// retry on failure.
func Listen(cfg ServerConfig) (*Server, error) {
	cfg = cfg.withDefaults()
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	log := cfg.Logger.With("component", "webrtcpeer")
	lf := newSlogLoggerFactory(cfg.Logger.With("component", "pion"))

	var (
		conn net.PacketConn
		err  error
	)
	if cfg.Net != nil {
		conn, err = cfg.Net.ListenPacket("udp", cfg.ListenAddr.String())
	} else {
		conn, err = net.ListenPacket("udp", cfg.ListenAddr.String())
	}
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", cfg.ListenAddr, err)
	}

	local := cfg.ListenAddr
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		if ap := ua.AddrPort(); ap.IsValid() {
			local = netip.AddrPortFrom(cfg.ListenAddr.Addr(), ap.Port())
		}
	}

	se := newSettingEngine(cfg, lf)
	mux := webrtc.NewICEUDPMux(lf.NewLogger("ice-udp-mux"), conn)
	se.SetICEUDPMux(mux)

	s := &Server{
		cfg:     cfg,
		log:     log.With("listen", local.String()),
		metrics: cfg.Metrics,
		api:     webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		conn:    conn,
		mux:     mux,
		local:   local,
		events:  make(chan transport.Event, cfg.InboundBuffer),
		quit:    make(chan struct{}),
		pending: make(map[*peer]struct{}),
		peers:   make(map[transport.Address]*peer),
		now:     time.Now,
	}
	s.log.Info("webrtc listener bound", "public", cfg.PublicAddr.String())
	return s, nil
}

// LocalAddr is the bound UDP address. It differs from ServerConfig.ListenAddr
// only when an ephemeral port was requested.
func (s *Server) LocalAddr() netip.AddrPort { return s.local }

func (s *Server) Events() <-chan transport.Event { return s.events }

func (s *Server) Send(ctx context.Context, payload []byte, kind transport.MessageKind, to transport.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	p := s.peers[to]
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: %s", transport.ErrUnknownClient, to)
	}
	if len(payload) > s.cfg.MaxMessageBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(payload), s.cfg.MaxMessageBytes)
	}
	dc := p.channel()
	if dc == nil {
		return fmt.Errorf("%w: %s", transport.ErrUnknownClient, to)
	}

	var err error
	if kind == transport.KindText {
		err = dc.SendText(string(payload))
	} else {
		err = dc.Send(payload)
	}
	if err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	p.lastSend.Store(s.now().UnixNano())
	return nil
}

func (s *Server) Disconnect(ctx context.Context, addr transport.Address) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	p := s.peers[addr]
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: %s", transport.ErrUnknownClient, addr)
	}
	s.dropPeer(p, "disconnect")
	return nil
}

func (s *Server) ActiveClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) ConnectedClients() []transport.Address {
	s.mu.Lock()
	out := make([]transport.Address, 0, len(s.peers))
	for addr := range s.peers {
		out = append(out, addr)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

func (s *Server) IsConnected(addr transport.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[addr]
	return ok
}

func (s *Server) Activity(addr transport.Address) (transport.Activity, bool) {
	s.mu.Lock()
	p := s.peers[addr]
	s.mu.Unlock()
	if p == nil {
		return transport.Activity{}, false
	}
	return p.activity(s.now()), true
}

// Close tears down every peer and releases the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	s.closed = true
	all := make([]*peer, 0, len(s.pending)+len(s.peers))
	for p := range s.pending {
		all = append(all, p)
	}
	for _, p := range s.peers {
		all = append(all, p)
	}
	s.pending = make(map[*peer]struct{})
	s.peers = make(map[transport.Address]*peer)
	s.mu.Unlock()

	close(s.quit)
	for _, p := range all {
		p.mu.Lock()
		if p.timer != nil {
			p.timer.Stop()
		}
		p.mu.Unlock()
		// Claim the peer first so pion's close callbacks do not report it.
		p.closeOnce.Do(func() {})
		s.closePeerConnection(p)
	}

	var errs []error
	if err := s.mux.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close udp mux: %w", err))
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close udp socket: %w", err))
	}
	s.log.Info("webrtc listener closed", "peers", len(all))
	return errors.Join(errs...)
}

// admit wires a freshly announced DataChannel to p.
func (s *Server) admit(p *peer, dc *webrtc.DataChannel) {
	if !s.cfg.AllowReliable {
		if err := validateUnreliableDataChannel(dc); err != nil {
			s.metrics.Inc(metrics.DataChannelRejected)
			s.log.Warn("rejecting datachannel",
				"reason", rejectReason(dc),
				"label", dc.Label(),
				"ordered", dc.Ordered(),
				"err", err,
			)
			_ = dc.Close()
			return
		}
	}

	p.mu.Lock()
	if p.dc != nil {
		p.mu.Unlock()
		s.metrics.Inc(metrics.DataChannelRejected)
		s.log.Warn("rejecting datachannel", "reason", "duplicate", "label", dc.Label())
		_ = dc.Close()
		return
	}
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() { s.opened(p) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { s.received(p, msg) })
	dc.OnClose(func() { s.dropPeer(p, "datachannel closed") })
}

func (s *Server) opened(p *peer) {
	addr, err := selectedRemote(p.pc)
	if err != nil {
		s.log.Warn("cannot resolve peer address", "err", err)
		s.emit(transport.Event{Type: transport.EventError, Err: err}, false)
		s.dropPeer(p, "unresolved address")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.pending[p]; !ok {
		// Dropped (timed out or disconnected) while the channel was opening.
		s.mu.Unlock()
		return
	}
	delete(s.pending, p)
	prev := s.peers[addr]
	s.peers[addr] = p
	s.mu.Unlock()

	if prev != nil && prev != p {
		s.dropPeer(prev, "replaced")
	}

	p.mu.Lock()
	p.addr = addr
	p.opened = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	now := s.now().UnixNano()
	p.lastSend.Store(now)
	p.lastRecv.Store(now)
	s.log.Debug("peer connected", "peer", addr.String())
	s.emit(transport.Event{Type: transport.EventPeerOpen, Datagram: transport.Datagram{From: addr}}, true)
}

func (s *Server) received(p *peer, msg webrtc.DataChannelMessage) {
	p.mu.Lock()
	addr, opened := p.addr, p.opened
	p.mu.Unlock()
	if !opened {
		return
	}
	p.lastRecv.Store(s.now().UnixNano())

	if len(msg.Data) > s.cfg.MaxMessageBytes {
		s.emit(transport.Event{
			Type:     transport.EventError,
			Datagram: transport.Datagram{From: addr},
			Err:      fmt.Errorf("%w: %d > %d bytes from %s", ErrMessageTooLarge, len(msg.Data), s.cfg.MaxMessageBytes, addr),
		}, false)
		return
	}

	kind := transport.KindBinary
	if msg.IsString {
		kind = transport.KindText
	}
	// Copy because pion reuses internal buffers.
	payload := append([]byte(nil), msg.Data...)
	s.emit(transport.Event{
		Type:     transport.EventMessage,
		Datagram: transport.Datagram{From: addr, Payload: payload, Kind: kind},
	}, false)
}

// dropPeer forgets p and closes its PeerConnection. Peers that had opened
// report EventPeerClose.
func (s *Server) dropPeer(p *peer, reason string) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		addr, opened := p.addr, p.opened
		if p.timer != nil {
			p.timer.Stop()
		}
		p.mu.Unlock()

		s.mu.Lock()
		delete(s.pending, p)
		if opened && s.peers[addr] == p {
			delete(s.peers, addr)
		}
		s.mu.Unlock()

		// pion may call back into dropPeer from the closing goroutine.
		go s.closePeerConnection(p)

		if opened {
			s.log.Debug("peer disconnected", "peer", addr.String(), "reason", reason)
			s.emit(transport.Event{Type: transport.EventPeerClose, Datagram: transport.Datagram{From: addr}}, true)
		}
	})
}

// expire runs when a negotiated peer has not opened its channel in time.
func (s *Server) expire(p *peer) {
	p.mu.Lock()
	opened := p.opened
	p.mu.Unlock()
	if opened {
		return
	}
	fired := false
	p.closeOnce.Do(func() {
		fired = true
		s.mu.Lock()
		delete(s.pending, p)
		s.mu.Unlock()
		go s.closePeerConnection(p)
	})
	if fired {
		s.log.Debug("peer datachannel timed out", "after", s.cfg.ConnectTimeout.String())
		s.emit(transport.Event{Type: transport.EventPeerTimeout}, true)
	}
}

func (s *Server) closePeerConnection(p *peer) {
	if err := p.pc.Close(); err != nil {
		s.log.Debug("close peer connection", "err", err)
	}
}

// emit delivers ev to Events. Lifecycle events wait for room; messages and
// errors are dropped when the channel is full.
func (s *Server) emit(ev transport.Event, wait bool) {
	if wait {
		select {
		case s.events <- ev:
		case <-s.quit:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-s.quit:
	default:
		s.metrics.Inc(metrics.InboundDropped)
		s.log.Debug("inbound buffer full; dropping event", "type", ev.Type.String(), "peer", ev.From.String())
	}
}

// selectedRemote returns the remote address of pc's nominated candidate pair.
func selectedRemote(pc *webrtc.PeerConnection) (transport.Address, error) {
	sctp := pc.SCTP()
	if sctp == nil {
		return transport.Address{}, errors.New("no sctp transport")
	}
	pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil {
		return transport.Address{}, fmt.Errorf("selected candidate pair: %w", err)
	}
	if pair == nil || pair.Remote == nil {
		return transport.Address{}, errors.New("no selected candidate pair")
	}
	ip, err := netip.ParseAddr(pair.Remote.Address)
	if err != nil {
		return transport.Address{}, fmt.Errorf("remote candidate address %q: %w", pair.Remote.Address, err)
	}
	return netip.AddrPortFrom(ip.Unmap(), pair.Remote.Port), nil
}
