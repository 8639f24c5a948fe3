package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/boundary"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/control"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/webrtcpeer"
)

var errProbeTimeout = errors.New("probe timed out")

// probe starts a session, connects to it as a WebRTC peer and checks that a
// datagram crosses the bridge in each direction.
func newProbeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Round-trip one datagram through a fresh session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := probe(cmd.Context(), c, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok peer=%s open=%s inbound=%s outbound=%s\n",
				res.peer, res.open.Round(time.Millisecond), res.inbound.Round(time.Millisecond), res.outbound.Round(time.Millisecond))
			return nil
		},
	}
}

type probeResult struct {
	peer     string
	open     time.Duration
	inbound  time.Duration
	outbound time.Duration
}

func probe(ctx context.Context, c *control.Client, opts *globalOptions) (probeResult, error) {
	var res probeResult

	h, st, err := c.Start(ctx, opts.rtcAddr, opts.rtcEndpoint, opts.debug)
	if err != nil {
		return res, err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		_, _ = c.Release(rctx, h)
	}()
	if st != boundary.StatusOK {
		return res, fmt.Errorf("start session: %s", st)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return res, fmt.Errorf("create peer connection: %w", err)
	}
	defer pc.Close()

	dc, err := webrtcpeer.CreateUnreliableDataChannel(pc, "probe")
	if err != nil {
		return res, fmt.Errorf("create datachannel: %w", err)
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	replies := make(chan []byte, 8)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case replies <- msg.Data:
		default:
		}
	})

	start := time.Now()
	if err := negotiate(ctx, c, h, pc, opts.timeout); err != nil {
		return res, err
	}
	select {
	case <-opened:
		res.open = time.Since(start)
	case <-time.After(opts.timeout):
		return res, fmt.Errorf("%w: datachannel did not open", errProbeTimeout)
	case <-ctx.Done():
		return res, ctx.Err()
	}

	token := []byte("probe-" + uuid.NewString())
	start = time.Now()
	if err := dc.Send(token); err != nil {
		return res, fmt.Errorf("send probe: %w", err)
	}
	peer, err := awaitInbound(ctx, c, h, token, opts.timeout)
	if err != nil {
		return res, err
	}
	res.peer = peer
	res.inbound = time.Since(start)

	from, err := netip.ParseAddrPort(peer)
	if err != nil {
		return res, fmt.Errorf("parse peer %q: %w", peer, err)
	}
	start = time.Now()
	st, err = c.Send(ctx, h, token, from.Addr().String(), from.Port(), boundary.KindBinary)
	if err != nil {
		return res, err
	}
	if st != boundary.StatusOK {
		return res, fmt.Errorf("send reply: %s", st)
	}
	select {
	case got := <-replies:
		if !bytes.Equal(got, token) {
			return res, fmt.Errorf("reply mismatch: got %q", got)
		}
		res.outbound = time.Since(start)
	case <-time.After(opts.timeout):
		return res, fmt.Errorf("%w: no reply on datachannel", errProbeTimeout)
	case <-ctx.Done():
		return res, ctx.Err()
	}
	return res, nil
}

// negotiate runs a non-trickle offer/answer through the control session op.
func negotiate(ctx context.Context, c *control.Client, h boundary.Handle, pc *webrtc.PeerConnection, timeout time.Duration) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	select {
	case <-gathered:
	case <-time.After(timeout):
		return fmt.Errorf("%w: ice gathering", errProbeTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, st, err := c.Session(ctx, h, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if st != boundary.StatusOK {
		return fmt.Errorf("negotiate: %s", st)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// awaitInbound polls the session until token arrives and returns its sender.
func awaitInbound(ctx context.Context, c *control.Client, h boundary.Handle, token []byte, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		m, st, err := c.Recv(ctx, h, time.Until(deadline))
		if err != nil {
			return "", err
		}
		if st != boundary.StatusOK {
			return "", fmt.Errorf("recv: %s", st)
		}
		if bytes.Equal(m.Payload, token) {
			return m.Addr, nil
		}
	}
	return "", fmt.Errorf("%w: probe datagram never arrived", errProbeTimeout)
}
