package webrtcpeer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/transport"
)

var errEmptyOffer = errors.New("empty offer")

// ParseOffer accepts either raw SDP text or a JSON session description
// ({"type":"offer","sdp":"..."}).
func ParseOffer(offer string) (webrtc.SessionDescription, error) {
	trimmed := strings.TrimSpace(offer)
	if trimmed == "" {
		return webrtc.SessionDescription{}, errEmptyOffer
	}
	if !strings.HasPrefix(trimmed, "{") {
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}, nil
	}

	var wire struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("invalid offer json: %w", err)
	}
	if wire.Type != "" && wire.Type != webrtc.SDPTypeOffer.String() {
		return webrtc.SessionDescription{}, fmt.Errorf("expected sdp type %q (got %q)", webrtc.SDPTypeOffer.String(), wire.Type)
	}
	if strings.TrimSpace(wire.SDP) == "" {
		return webrtc.SessionDescription{}, errEmptyOffer
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: wire.SDP}, nil
}

// Negotiate answers offer with a new PeerConnection and returns the answer
// SDP once ICE gathering has completed. The peer must open its DataChannel
// within ConnectTimeout.
func (s *Server) Negotiate(ctx context.Context, offer string) (string, error) {
	desc, err := ParseOffer(offer)
	if err != nil {
		return "", fmt.Errorf("%w: %w", transport.ErrNegotiation, err)
	}

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", fmt.Errorf("%w: new peer connection: %w", transport.ErrNegotiation, err)
	}
	p := newPeer(pc, s.now())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = pc.Close()
		return "", transport.ErrClosed
	}
	s.pending[p] = struct{}{}
	s.mu.Unlock()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.admit(p, dc)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.dropPeer(p, "connection "+state.String())
		}
	})

	answer, err := s.answer(ctx, pc, desc)
	if err != nil {
		s.dropPeer(p, "negotiation failed")
		return "", fmt.Errorf("%w: %w", transport.ErrNegotiation, err)
	}

	p.mu.Lock()
	if !p.opened {
		p.timer = time.AfterFunc(s.cfg.ConnectTimeout, func() { s.expire(p) })
	}
	p.mu.Unlock()
	return answer, nil
}

func (s *Server) answer(ctx context.Context, pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (string, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(s.cfg.GatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("ice gathering did not complete within %s", s.cfg.GatherTimeout)
	case <-s.quit:
		return "", transport.ErrClosed
	}

	local := pc.LocalDescription()
	if local == nil {
		return "", errors.New("missing local description")
	}
	return local.SDP, nil
}
