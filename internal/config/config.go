package config

import "time"

// Config is the root configuration for a tracker instance.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	API        APIConfig        `yaml:"api"`
	Connection ConnectionConfig `yaml:"connection"`
	Rooms      RoomsConfig      `yaml:"rooms"`
	Database   DatabaseConfig   `yaml:"database"`
	Writers    WritersConfig    `yaml:"writers"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// InstanceConfig identifies this tracker.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds push endpoint settings.
type APIConfig struct {
	WSURL     string            `yaml:"ws_url"`
	Token     string            `yaml:"token"`      // Takes precedence over token_path
	TokenPath string            `yaml:"token_path"` // File holding the auth token
	Headers   map[string]string `yaml:"headers"`    // Extra handshake headers
}

// ConnectionConfig holds connection manager and transport settings.
type ConnectionConfig struct {
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = unlimited
	AuthRetryBaseDelay   time.Duration `yaml:"auth_retry_base_delay"`
	AuthRetryMaxDelay    time.Duration `yaml:"auth_retry_max_delay"`
	MaxAuthAttempts      int           `yaml:"max_auth_attempts"`
	BackoffJitter        float64       `yaml:"backoff_jitter"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	MessageBuffer        int           `yaml:"message_buffer"`
}

// RoomsConfig lists rooms joined at startup.
type RoomsConfig struct {
	Vessels []string `yaml:"vessels"`
	Areas   []string `yaml:"areas"`
}

// DatabaseConfig holds the optional TimescaleDB connection for the track
// recorder. Leave timescale.host empty to run without recording.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// Enabled reports whether a recorder database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Timescale.Host != ""
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WritersConfig holds batch writer settings.
type WritersConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
