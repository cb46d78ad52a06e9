package router

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/vesselwatch/internal/metrics"
	"github.com/rickgao/vesselwatch/internal/protocol"
)

// Router fans events out to listeners registered by event name.
//
// Listeners of one event are called in registration order, wildcard
// listeners after named ones. Events with no listener are dropped. A
// panicking listener is recovered and logged; remaining listeners still run.
type Router struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string][]*Registration
	wildcard []*Registration

	dispatched     atomic.Int64
	unhandled      atomic.Int64
	decodeErrors   atomic.Int64
	listenerPanics atomic.Int64
}

// NewRouter creates an empty Router. m may be nil.
func NewRouter(logger *slog.Logger, m *metrics.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		logger:   logger,
		metrics:  m,
		handlers: make(map[string][]*Registration),
	}
}

// On registers h for event and returns a func that removes it. The returned
// func is idempotent.
func (r *Router) On(event string, h Handler) (unsubscribe func()) {
	reg := &Registration{ID: uuid.NewString(), Event: event, Handler: h}

	r.mu.Lock()
	r.handlers[event] = append(r.handlers[event], reg)
	r.mu.Unlock()

	return func() { r.remove(reg) }
}

// OnAny registers h for every event.
func (r *Router) OnAny(h Handler) (unsubscribe func()) {
	reg := &Registration{ID: uuid.NewString(), Handler: h}

	r.mu.Lock()
	r.wildcard = append(r.wildcard, reg)
	r.mu.Unlock()

	return func() { r.remove(reg) }
}

func (r *Router) remove(reg *Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg.Event == "" {
		r.wildcard = slices.DeleteFunc(r.wildcard, func(x *Registration) bool { return x == reg })
		return
	}

	regs := slices.DeleteFunc(r.handlers[reg.Event], func(x *Registration) bool { return x == reg })
	if len(regs) == 0 {
		delete(r.handlers, reg.Event)
		return
	}
	r.handlers[reg.Event] = regs
}

// Dispatch delivers ev to its listeners and returns how many ran.
func (r *Router) Dispatch(ev Event) int {
	r.mu.RLock()
	targets := make([]*Registration, 0, len(r.handlers[ev.Name])+len(r.wildcard))
	targets = append(targets, r.handlers[ev.Name]...)
	targets = append(targets, r.wildcard...)
	r.mu.RUnlock()

	if len(targets) == 0 {
		r.unhandled.Add(1)
		r.metrics.EventUnhandled(ev.Name)
		return 0
	}

	for _, reg := range targets {
		r.invoke(reg, ev)
	}

	r.dispatched.Add(1)
	r.metrics.EventDispatched(ev.Name)
	return len(targets)
}

func (r *Router) invoke(reg *Registration, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.listenerPanics.Add(1)
			r.metrics.ListenerPanic(ev.Name)
			r.logger.Error("listener panicked",
				"event", ev.Name,
				"listener", reg.ID,
				"panic", fmt.Sprint(p),
			)
		}
	}()

	reg.Handler(ev)
}

// ListenerCount returns the number of listeners registered for event,
// excluding wildcard listeners.
func (r *Router) ListenerCount(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	listeners := len(r.wildcard)
	for _, regs := range r.handlers {
		listeners += len(regs)
	}
	r.mu.RUnlock()

	return RouterStats{
		Dispatched:     r.dispatched.Load(),
		Unhandled:      r.unhandled.Load(),
		DecodeErrors:   r.decodeErrors.Load(),
		ListenerPanics: r.listenerPanics.Load(),
		Listeners:      listeners,
	}
}

// Handle registers a typed listener. The payload of every event named event
// is decoded into T before fn is called; payloads that fail to decode are
// logged and skipped.
func Handle[T any](r *Router, event string, fn func(T)) (unsubscribe func()) {
	return r.On(event, func(ev Event) {
		v, err := protocol.DecodeData[T](ev.Data)
		if err != nil {
			r.decodeErrors.Add(1)
			r.metrics.ProtocolError()
			r.logger.Warn("dropping undecodable payload", "event", ev.Name, "error", err)
			return
		}
		fn(v)
	})
}
