// Package control carries boundary operations over a WebSocket so other
// processes can drive relay sessions.
//
// Every text frame from the client is a Request. The server answers each
// with a Frame of type "response" carrying the same id. Requests that never
// block are applied in the order they were written; start, recv, session
// and disconnect run concurrently and may complete out of order. Session
// notifications arrive as Frames of type "notification" tagged with the
// session handle. Sessions started on a connection belong to it and are
// released when it closes.
package control

import (
	"encoding/json"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/boundary"
	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/relay"
)

type Op string

const (
	OpStart          Op = "start"
	OpRecv           Op = "recv"
	OpTryRecv        Op = "try_recv"
	OpSend           Op = "send"
	OpSession        Op = "session"
	OpState          Op = "state"
	OpIsConnected    Op = "is_connected"
	OpClientsCount   Op = "clients_count"
	OpClients        Op = "clients"
	OpDisconnect     Op = "disconnect"
	OpSetMessageKind Op = "set_message_kind"
	OpClose          Op = "close"
	OpRelease        Op = "release"
)

// Request is one client call. Only the fields the op reads are set; Payload
// travels as base64.
type Request struct {
	ID     uint64          `json:"id"`
	Op     Op              `json:"op"`
	Handle boundary.Handle `json:"handle,omitempty,string"`

	Config json.RawMessage `json:"config,omitempty"`
	Debug  bool            `json:"debug,omitempty"`

	Payload []byte `json:"payload,omitempty"`
	Addr    string `json:"addr,omitempty"`
	Port    uint16 `json:"port,omitempty"`
	Kind    uint32 `json:"kind,omitempty"`
	Offer   string `json:"offer,omitempty"`

	// TimeoutMS bounds recv and session. Zero uses the server default.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
}

type FrameType string

const (
	FrameResponse     FrameType = "response"
	FrameNotification FrameType = "notification"
)

// Frame is a server-to-client message.
type Frame struct {
	Type   FrameType       `json:"type"`
	ID     uint64          `json:"id,omitempty"`
	Status boundary.Status `json:"status"`
	Handle boundary.Handle `json:"handle,omitempty,string"`
	// Error describes a malformed request. Status is then
	// StatusInvalidConfig.
	Error string `json:"error,omitempty"`

	Payload   []byte    `json:"payload,omitempty"`
	Addr      string    `json:"addr,omitempty"`
	Text      bool      `json:"text,omitempty"`
	Answer    string    `json:"answer,omitempty"`
	State     *[3]int64 `json:"state,omitempty"`
	Connected bool      `json:"connected,omitempty"`
	Count     uint32    `json:"count,omitempty"`
	Clients   string    `json:"clients,omitempty"`

	Notification *relay.Notification `json:"notification,omitempty"`
}
