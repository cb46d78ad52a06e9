// Package version carries build metadata injected with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/vesselwatch/internal/version.Version=0.4.0 \
//	                   -X github.com/rickgao/vesselwatch/internal/version.Commit=$(git rev-parse --short HEAD)" ./cmd/tracker
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String formats the build for log lines and /health.
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent is sent in the WebSocket handshake.
func UserAgent() string {
	return "vesselwatch-tracker/" + Version
}
