package connection

import (
	"net/http"

	"github.com/rickgao/vesselwatch/internal/config"
)

// ConfigsFrom splits the connection config section into transport and
// manager settings. header is sent on every handshake.
func ConfigsFrom(url string, header http.Header, c config.ConnectionConfig) (ClientConfig, ManagerConfig) {
	cc := DefaultClientConfig()
	cc.URL = url
	cc.Header = header
	if c.PingInterval > 0 {
		cc.PingInterval = c.PingInterval
	}
	if c.PingTimeout > 0 {
		cc.PingTimeout = c.PingTimeout
	}
	if c.WriteTimeout > 0 {
		cc.WriteTimeout = c.WriteTimeout
	}
	if c.HandshakeTimeout > 0 {
		cc.HandshakeTimeout = c.HandshakeTimeout
	}
	if c.MessageBuffer > 0 {
		cc.BufferSize = c.MessageBuffer
	}

	mc := ManagerConfig{
		ReconnectBaseDelay:   c.ReconnectBaseDelay,
		ReconnectMaxDelay:    c.ReconnectMaxDelay,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		AuthRetryBaseDelay:   c.AuthRetryBaseDelay,
		AuthRetryMaxDelay:    c.AuthRetryMaxDelay,
		MaxAuthAttempts:      c.MaxAuthAttempts,
		BackoffJitter:        c.BackoffJitter,
	}.withDefaults()

	return cc, mc
}
