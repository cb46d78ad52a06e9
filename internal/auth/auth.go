// Package auth resolves the realtime session token and handshake headers.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/rickgao/vesselwatch/internal/config"
	"github.com/rickgao/vesselwatch/internal/version"
)

// TokenEnv is consulted when the config carries no inline token.
const TokenEnv = "VESSELWATCH_TOKEN"

// ErrNoToken is returned when no source yields a token.
var ErrNoToken = errors.New("auth token is required")

// Credentials holds what a connection needs to authenticate.
type Credentials struct {
	Token   string            // Sent in the authenticate event
	Headers map[string]string // Extra handshake headers from config
}

// LoadCredentials resolves the token from api.token, then $VESSELWATCH_TOKEN,
// then api.token_path.
func LoadCredentials(api config.APIConfig) (*Credentials, error) {
	token, err := ResolveToken(api.Token, api.TokenPath)
	if err != nil {
		return nil, err
	}
	return &Credentials{Token: token, Headers: api.Headers}, nil
}

// ResolveToken applies the inline > env > file precedence.
func ResolveToken(inline, path string) (string, error) {
	if t := strings.TrimSpace(inline); t != "" {
		return t, nil
	}
	if t := strings.TrimSpace(os.Getenv(TokenEnv)); t != "" {
		return t, nil
	}
	if path == "" {
		return "", ErrNoToken
	}
	return LoadToken(path)
}

// LoadToken reads a token file, trimming surrounding whitespace.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s: %w", path, ErrNoToken)
	}
	return token, nil
}

// HandshakeHeader builds the WebSocket upgrade header. The token is never
// placed here; it travels in the authenticate event.
func (c *Credentials) HandshakeHeader() http.Header {
	h := make(http.Header, len(c.Headers)+1)
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	if h.Get("User-Agent") == "" {
		h.Set("User-Agent", version.UserAgent())
	}
	return h
}

// Redacted returns a form of the token safe for logs.
func (c *Credentials) Redacted() string {
	return Redact(c.Token)
}

// Redact keeps the last four characters of long tokens and hides the rest.
func Redact(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
