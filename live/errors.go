// Package live implements the persistent-session transport a
// refresh-and-persist search upgrades to: a WebSocket-framed connection that
// delivers queued results until the backlog drains, then live notifications
// as they are emitted (see the provider package's Sender interface).
package live

import "errors"

var (
	ErrSessionClosed  = errors.New("live: session closed")
	ErrQueueFull      = errors.New("live: send queue full")
	ErrAuthFailed     = errors.New("live: authentication failed")
	ErrUpgradeFailed  = errors.New("live: websocket upgrade failed")
	ErrInvalidMessage = errors.New("live: invalid message")
)
