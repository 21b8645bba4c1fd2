package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/livewire/internal/model"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no frames within liveness timeout)")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrManagerNotRunning  = errors.New("connection manager not running")
)

// TransportError is a socket-level failure. It drives the reconnect
// policy.
type TransportError struct {
	Op  string // "dial", "read", "write", "liveness"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ReconnectExhaustedError reports how many attempts were made before the
// manager gave up.
type ReconnectExhaustedError struct {
	Attempts int
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts", ErrReconnectExhausted, e.Attempts)
}

func (e *ReconnectExhaustedError) Is(target error) bool {
	return target == ErrReconnectExhausted
}

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Status is the collaborator-facing view of the connection.
type Status struct {
	State        State  `json:"-"`
	StateName    string `json:"state"`
	Connected    bool   `json:"connected"`
	Reconnecting bool   `json:"reconnecting"`
	Attempts     int    `json:"attempts"`
	MaxAttempts  int    `json:"maxAttempts"`
}

// TimestampedMessage wraps raw frame data with its receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the websocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// HeaderFunc returns handshake headers. It runs before every dial so
// signed headers carry a fresh timestamp.
type HeaderFunc func() (map[string]string, error)

// ClientConfig configures a websocket client.
type ClientConfig struct {
	URL              string        // Websocket URL (e.g., wss://feeds.example.com/stream)
	Headers          HeaderFunc    // Extra handshake headers, resolved per dial (nil = none)
	HandshakeTimeout time.Duration // Dial handshake timeout
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
	Binary           bool          // Send binary frames instead of text frames
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL                  string        // Websocket URL
	ReconnectInterval    time.Duration // Delay before the first reconnect attempt
	ReconnectMaxInterval time.Duration // Cap on the reconnect delay (0 = ReconnectInterval)
	ReconnectMultiplier  float64       // Delay growth per attempt (1 = fixed interval)
	ReconnectJitter      float64       // Random spread applied to each delay, 0-1
	MaxReconnectAttempts int           // Attempts before giving up (<= 0 = unlimited)
	HeartbeatInterval    time.Duration // Ping period while connected
	LivenessTimeout      time.Duration // Max silence before the socket is dropped (< 0 disables)
	EventBufferSize      int           // Event loop queue size
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectInterval:    3 * time.Second,
		ReconnectMultiplier:  1,
		MaxReconnectAttempts: 5,
		HeartbeatInterval:    30 * time.Second,
		LivenessTimeout:      90 * time.Second,
		EventBufferSize:      256,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	SessionID    string
	FramesIn     int64
	FramesOut    int64
	DecodeErrors int64
	Reconnects   int64
	PingsSent    int64
	PongsSent    int64
}

// Publisher receives decoded envelopes and connection notices. The
// dispatcher's Publish satisfies it and must not block.
type Publisher interface {
	Publish(env model.Envelope) bool
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(model.Envelope) bool

func (f PublisherFunc) Publish(env model.Envelope) bool { return f(env) }
