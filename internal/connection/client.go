package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single push-channel transport. A Client is used for one
// connection attempt and then discarded.
type Client interface {
	// Connect dials and completes the WebSocket handshake.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection. It is safe to call more than once.
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// Messages returns inbound frames with their local receive time.
	Messages() <-chan TimestampedMessage

	// Errors delivers at most one error: the reason the connection ended.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// Dialer creates a fresh Client for every connection attempt.
type Dialer func(logger *slog.Logger) Client

// NewDialer returns a Dialer producing WebSocket clients for cfg.
func NewDialer(cfg ClientConfig) Dialer {
	return func(logger *slog.Logger) Client {
		return NewClient(cfg, logger)
	}
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	// Output channels
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	lastPingAt time.Time
	closed     bool
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}

	header := http.Header{}
	for k, v := range c.cfg.Header {
		header[k] = v
	}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		// Closed while dialing.
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	// Server pings count as liveness too.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop(conn)
	go c.heartbeatLoop(conn)

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()

	return conn.Close()
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) fail(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	select {
	case c.errors <- err:
	default:
	}
}

// readLoop reads frames until the connection fails or Close is called.
func (c *client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-c.done:
				// Closed locally; nothing to report.
			default:
				c.fail(err)
			}
			return
		}

		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		// Blocks when the consumer falls behind; frames are never dropped.
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop sends keepalive pings and watches for a stale peer.
func (c *client) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			lastPing := c.lastPingAt
			c.mu.RUnlock()

			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.fail(ErrStaleConnection)
				_ = conn.Close()
				return
			}
		}
	}
}
