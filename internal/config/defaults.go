package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultWSURL              = "wss://api.vesselwatch.io/realtime"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultAuthRetryBaseDelay = 1 * time.Second
	DefaultAuthRetryMaxDelay  = 30 * time.Second
	DefaultMaxAuthAttempts    = 5
	DefaultPingInterval       = 25 * time.Second
	DefaultPingTimeout        = 60 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultMessageBuffer      = 1000
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 500
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *Config) applyDefaults() {
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}

	conn := &c.Connection
	if conn.ReconnectBaseDelay == 0 {
		conn.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if conn.ReconnectMaxDelay == 0 {
		conn.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if conn.AuthRetryBaseDelay == 0 {
		conn.AuthRetryBaseDelay = DefaultAuthRetryBaseDelay
	}
	if conn.AuthRetryMaxDelay == 0 {
		conn.AuthRetryMaxDelay = DefaultAuthRetryMaxDelay
	}
	if conn.MaxAuthAttempts == 0 {
		conn.MaxAuthAttempts = DefaultMaxAuthAttempts
	}
	if conn.PingInterval == 0 {
		conn.PingInterval = DefaultPingInterval
	}
	if conn.PingTimeout == 0 {
		conn.PingTimeout = DefaultPingTimeout
	}
	if conn.WriteTimeout == 0 {
		conn.WriteTimeout = DefaultWriteTimeout
	}
	if conn.HandshakeTimeout == 0 {
		conn.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if conn.MessageBuffer == 0 {
		conn.MessageBuffer = DefaultMessageBuffer
	}

	if c.Database.Enabled() {
		applyDBDefaults(&c.Database.Timescale)
	}

	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
