package webrtcpeer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// validateUnreliableDataChannel requires the channel to behave like UDP:
// unordered and never retransmitted.
func validateUnreliableDataChannel(dc *webrtc.DataChannel) error {
	if dc.Ordered() {
		return fmt.Errorf("datachannel must be unordered (ordered=true)")
	}
	if dc.MaxPacketLifeTime() != nil {
		return fmt.Errorf("datachannel must not set maxPacketLifeTime (use maxRetransmits=0)")
	}
	maxRetransmits := dc.MaxRetransmits()
	if maxRetransmits == nil || *maxRetransmits != 0 {
		return fmt.Errorf("datachannel must set maxRetransmits=0")
	}
	return nil
}

func rejectReason(dc *webrtc.DataChannel) string {
	switch {
	case dc.Ordered():
		return "ordered"
	case dc.MaxPacketLifeTime() != nil:
		return "max_packet_life_time"
	default:
		return "reliable"
	}
}

// CreateUnreliableDataChannel opens the client side of a channel the server
// accepts.
func CreateUnreliableDataChannel(pc *webrtc.PeerConnection, label string) (*webrtc.DataChannel, error) {
	ordered := false
	maxRetransmits := uint16(0)
	return pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
}
