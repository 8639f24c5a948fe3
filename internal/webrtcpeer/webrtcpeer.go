// Package webrtcpeer implements transport.Transport on pion WebRTC.
//
// A Server owns one UDP socket. Every peer it negotiates shares that socket
// through an ICE UDP mux, the server runs ICE-lite and advertises a single
// host candidate at the configured public IP. Each peer contributes exactly
// one unordered, zero-retransmit DataChannel and is addressed by the remote
// end of its selected ICE candidate pair.
package webrtcpeer

import (
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/metrics"
)

const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultGatherTimeout   = 5 * time.Second
	DefaultMaxMessageBytes = 64 * 1024
	DefaultInboundBuffer   = 1024
)

type ServerConfig struct {
	// ListenAddr is the local UDP address shared by every peer.
	ListenAddr netip.AddrPort
	// PublicAddr is advertised as the host candidate. Only the IP is
	// rewritten; the port must match ListenAddr's.
	PublicAddr netip.AddrPort

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// ConnectTimeout bounds the time between a successful negotiation and
	// the peer's DataChannel opening.
	ConnectTimeout time.Duration
	// GatherTimeout bounds ICE gathering while answering an offer.
	GatherTimeout time.Duration

	MaxMessageBytes int
	// SCTPReceiveBufferBytes caps SCTP reassembly. Zero keeps pion's default.
	SCTPReceiveBufferBytes uint32

	// InboundBuffer is the capacity of the Events channel. Messages that
	// arrive while it is full are dropped.
	InboundBuffer int

	// AllowReliable admits DataChannels that are ordered or retransmit.
	AllowReliable bool

	// Net overrides the network stack, for example with a pion vnet.Net in
	// tests. Nil uses the host network.
	Net transport.Net
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = DefaultGatherTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = DefaultInboundBuffer
	}
	return c
}

// newSettingEngine builds the shared SettingEngine. The caller installs the
// UDP mux afterwards.
func newSettingEngine(cfg ServerConfig, lf *slogLoggerFactory) webrtc.SettingEngine {
	se := webrtc.SettingEngine{LoggerFactory: lf}
	if cfg.Net != nil {
		se.SetNet(cfg.Net)
	}
	se.SetLite(true)

	if cfg.ListenAddr.Addr().Is4() {
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	} else {
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP6})
	}

	if pub := cfg.PublicAddr.Addr(); pub.IsValid() && !pub.IsUnspecified() {
		if cfg.PublicAddr.Port() != 0 && cfg.PublicAddr.Port() != cfg.ListenAddr.Port() {
			cfg.Logger.Warn("public port differs from listen port; only the public IP is advertised",
				"listen", cfg.ListenAddr.String(),
				"public", cfg.PublicAddr.String(),
			)
		}
		se.SetNAT1To1IPs([]string{pub.String()}, webrtc.ICECandidateTypeHost)
	}

	if cfg.SCTPReceiveBufferBytes > 0 {
		se.SetSCTPMaxReceiveBufferSize(cfg.SCTPReceiveBufferBytes)
	}
	return se
}

func validateConfig(cfg ServerConfig) error {
	if !cfg.ListenAddr.IsValid() {
		return fmt.Errorf("invalid listen address %q", cfg.ListenAddr)
	}
	if cfg.PublicAddr.IsValid() && cfg.PublicAddr.Addr().Is4() != cfg.ListenAddr.Addr().Is4() {
		return fmt.Errorf("public address %s and listen address %s use different IP families", cfg.PublicAddr, cfg.ListenAddr)
	}
	return nil
}
