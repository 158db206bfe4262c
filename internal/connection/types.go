package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrAlreadyStarted   = errors.New("connection already started")
	ErrNotAuthenticated = errors.New("connection not authenticated")
	ErrAuthTimeout      = errors.New("authentication timed out")
	ErrAuthRejected     = errors.New("authentication rejected")
	ErrConnectionLost   = errors.New("connection lost")
)

// State is a handshake state machine position.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingAuth
	StateAuthenticated
	StateClosed
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	case StateAuthFailed:
		return "auth_failed"
	}
	return "unknown"
}

// Terminal reports whether the state admits no further frames on the
// current connection. AuthFailed is absorbing: only an external session
// renewal lets a new Start leave it.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateAuthFailed
}

// IncomingMessage wraps raw transport bytes with a receive timestamp.
type IncomingMessage struct {
	Data       []byte    // Raw message bytes from the transport
	ReceivedAt time.Time // Local timestamp when the read returned
}

// TransportConfig configures a single WebSocket transport.
type TransportConfig struct {
	URL              string        // WebSocket URL (e.g. wss://relay.praxisworks.com/ws)
	HandshakeTimeout time.Duration // TCP/TLS/upgrade deadline for the dial
	PingTimeout      time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Incoming message channel buffer size
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL          string            // WebSocket URL
	Token        string            // Session token sent in the auth frame
	ClientInfo   map[string]string // Client metadata negotiated during auth
	AuthTimeout  time.Duration     // Max wait for auth.ok after the auth frame
	PingTimeout  time.Duration     // Transport staleness threshold
	WriteTimeout time.Duration     // Transport write deadline
	BufferSize   int               // Transport buffer size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		AuthTimeout:  10 * time.Second,
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}
