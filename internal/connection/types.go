package connection

import (
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected         = errors.New("not connected")
	ErrStaleConnection      = errors.New("connection stale (no ping)")
	ErrAlreadyClosed        = errors.New("already closed")
	ErrAuthRetriesExhausted = errors.New("authentication retries exhausted")
	ErrReconnectExhausted   = errors.New("reconnect attempts exhausted")
	ErrManagerStopped       = errors.New("manager stopped")
	ErrNotStarted           = errors.New("manager not started")
	ErrAlreadyStarted       = errors.New("manager already started")
	ErrEmptyRoomID          = errors.New("empty room id")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Push endpoint (e.g., wss://api.example.com/realtime)
	Header           http.Header   // Extra handshake headers
	PingInterval     time.Duration // How often to send keepalive pings
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration
	BufferSize       int // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     25 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the connection Manager.
type ManagerConfig struct {
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 = unlimited

	AuthRetryBaseDelay time.Duration
	AuthRetryMaxDelay  time.Duration
	MaxAuthAttempts    int // Rejections tolerated before settling in error

	BackoffJitter float64 // Fraction of the delay added at random, 0 disables

	OutboxSize int // Initial capacity of the notification buffer
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		AuthRetryBaseDelay: 1 * time.Second,
		AuthRetryMaxDelay:  30 * time.Second,
		MaxAuthAttempts:    5,
		OutboxSize:         256,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	d := DefaultManagerConfig()
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = d.ReconnectMaxDelay
	}
	if c.AuthRetryBaseDelay <= 0 {
		c.AuthRetryBaseDelay = d.AuthRetryBaseDelay
	}
	if c.AuthRetryMaxDelay <= 0 {
		c.AuthRetryMaxDelay = d.AuthRetryMaxDelay
	}
	if c.MaxAuthAttempts <= 0 {
		c.MaxAuthAttempts = d.MaxAuthAttempts
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = d.OutboxSize
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	return c
}
