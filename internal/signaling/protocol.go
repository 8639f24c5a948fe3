package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type messageType string

const (
	messageTypeOffer  messageType = "offer"
	messageTypeAnswer messageType = "answer"
	messageTypeError  messageType = "error"
)

var (
	errUnknownMessageType = errors.New("signaling: unknown message type")
	errMissingSDP         = errors.New("signaling: missing session description sdp")
	errInvalidSDPType     = errors.New("signaling: invalid session description type")
)

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// wireMessage is one WebSocket frame. Data is an SDP string or a
// sessionDescription for offers, a sessionDescription for answers and a
// string for errors.
type wireMessage struct {
	Type messageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// offerSDP extracts the offer SDP from an "offer" frame.
func (m wireMessage) offerSDP() (string, error) {
	if m.Type != messageTypeOffer {
		return "", fmt.Errorf("%w: %q", errUnknownMessageType, m.Type)
	}
	data := strings.TrimSpace(string(m.Data))
	if data == "" || data == "null" {
		return "", errMissingSDP
	}

	var raw string
	if err := json.Unmarshal(m.Data, &raw); err == nil {
		if strings.TrimSpace(raw) == "" {
			return "", errMissingSDP
		}
		return raw, nil
	}

	var desc sessionDescription
	if err := json.Unmarshal(m.Data, &desc); err != nil {
		return "", fmt.Errorf("signaling: invalid offer data: %w", err)
	}
	if desc.Type != "" && desc.Type != "offer" {
		return "", fmt.Errorf("%w: %q", errInvalidSDPType, desc.Type)
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return "", errMissingSDP
	}
	return desc.SDP, nil
}

func answerMessage(sdp string) wireMessage {
	data, _ := json.Marshal(sessionDescription{Type: "answer", SDP: sdp})
	return wireMessage{Type: messageTypeAnswer, Data: data}
}

func errorMessage(reason string) wireMessage {
	data, _ := json.Marshal(reason)
	return wireMessage{Type: messageTypeError, Data: data}
}
