package router

import (
	"time"

	"github.com/goccy/go-json"
)

// Event is one inbound or locally synthesised event.
type Event struct {
	Name       string
	Data       json.RawMessage // Raw payload, nil for events without data
	ReceivedAt time.Time
}

// Handler receives events. Handlers run on the dispatch goroutine and must
// not block for long.
type Handler func(Event)

// Registration is a single listener. It lives until the unsubscribe func
// returned by On is called.
type Registration struct {
	ID      string
	Event   string // Empty for wildcard registrations
	Handler Handler
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	Dispatched     int64 `json:"dispatched"`
	Unhandled      int64 `json:"unhandled"` // Events that reached no listener
	DecodeErrors   int64 `json:"decode_errors"`
	ListenerPanics int64 `json:"listener_panics"`
	Listeners      int   `json:"listeners"`
}
