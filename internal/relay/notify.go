package relay

// Notification codes delivered to a session's Notifier.
const (
	CodeMessageSendError   = -1
	CodeSocketRecvError    = 1
	CodeServerClosed       = 2
	CodeSocketSendError    = 400
	CodeDataChannelOpen    = 1001
	CodeDataChannelTimeout = 1002
	CodeDataChannelClose   = 1003
)

// Notification event names.
const (
	EventMessageSendError   = "message_send_error"
	EventSocketRecvError    = "socket_recv_error"
	EventServerClosed       = "server_closed"
	EventSocketSendError    = "socket_send_error"
	EventDataChannelOpen    = "client_datachannel_open"
	EventDataChannelTimeout = "client_datachannel_timeout"
	EventDataChannelClose   = "client_datachannel_close"
)

// Notification is an asynchronous event reported to the session owner.
type Notification struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event"`
}

// Notifier receives notifications. Calls are serialized per session and
// server_closed is always the last one. A Notifier must not call Close on the
// session that invokes it.
type Notifier func(Notification)
