package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	u, err := url.Parse(c.API.WSURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("api.ws_url must be a ws:// or wss:// URL, got %q", c.API.WSURL)
	}

	if err := c.Connection.validate(); err != nil {
		return err
	}

	for i, id := range c.Rooms.Vessels {
		if id == "" {
			return fmt.Errorf("rooms.vessels[%d] is empty", i)
		}
	}
	for i, id := range c.Rooms.Areas {
		if id == "" {
			return fmt.Errorf("rooms.areas[%d] is empty", i)
		}
	}

	if c.Database.Enabled() {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	}

	if c.Writers.BatchSize < 1 {
		return errors.New("writers.batch_size must be >= 1")
	}
	if c.Writers.BufferSize < 1 {
		return errors.New("writers.buffer_size must be >= 1")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (c *ConnectionConfig) validate() error {
	if c.ReconnectBaseDelay > c.ReconnectMaxDelay {
		return fmt.Errorf("connection.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.ReconnectBaseDelay, c.ReconnectMaxDelay)
	}
	if c.AuthRetryBaseDelay > c.AuthRetryMaxDelay {
		return fmt.Errorf("connection.auth_retry_base_delay (%s) cannot exceed auth_retry_max_delay (%s)",
			c.AuthRetryBaseDelay, c.AuthRetryMaxDelay)
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("connection.max_reconnect_attempts must be >= 0")
	}
	if c.MaxAuthAttempts < 1 {
		return errors.New("connection.max_auth_attempts must be >= 1")
	}
	if c.BackoffJitter < 0 || c.BackoffJitter > 1 {
		return fmt.Errorf("connection.backoff_jitter must be between 0 and 1, got %g", c.BackoffJitter)
	}
	if c.PingTimeout <= c.PingInterval {
		return errors.New("connection.ping_timeout must exceed ping_interval")
	}
	if c.MessageBuffer < 1 {
		return errors.New("connection.message_buffer must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
