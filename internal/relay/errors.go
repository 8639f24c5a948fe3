package relay

import "errors"

var (
	// ErrBind wraps a transport that could not be bound.
	ErrBind = errors.New("failed to bind transport")
	// ErrNotActive is returned by every operation on a closed session.
	ErrNotActive     = errors.New("session not active")
	ErrAlreadyClosed = errors.New("session already closed")
	ErrPeerNotFound  = errors.New("peer not found")
	ErrDisconnect    = errors.New("failed to disconnect peer")
)
