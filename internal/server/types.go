package server

import (
	"errors"
	"strings"
)

var (
	// ErrConnectionClosed is returned by Send when the target is closing or closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Send when the target's outbound queue is full.
	// The frame is dropped and the connection stays open.
	ErrSendBufferFull = errors.New("send buffer full")
	// ErrUnknownConnection is returned by Send for ids the hub does not hold.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrHubStopped is returned by Accept after the hub has shut down.
	ErrHubStopped = errors.New("hub stopped")
)

// ConnState is the lifecycle state of a Connection.
type ConnState int32

const (
	StateOpen ConnState = iota
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
