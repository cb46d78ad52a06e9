package connection

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/vesselwatch/internal/metrics"
	"github.com/rickgao/vesselwatch/internal/protocol"
	"github.com/rickgao/vesselwatch/internal/router"
)

// StateHandler observes state transitions.
type StateHandler func(from, to State)

// Manager maintains the single push channel to the backend.
//
// Every caller command, transport event and timer fire runs to completion
// under mu, so no two handlers interleave. Listener callbacks and state
// handlers are invoked afterwards, in order, from a separate notifier
// goroutine; they may call back into the Manager freely.
type Manager struct {
	cfg     ManagerConfig
	dial    Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics
	router  *router.Router
	sched   scheduler

	state atomic.Uint32

	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc

	token         string
	epoch         uint64
	client        Client
	attemptCancel context.CancelFunc

	timer    stopper
	timerSeq uint64

	reconnectBackoff *Backoff
	authBackoff      *Backoff
	reconnects       int // Consecutive reconnect attempts without a successful open
	authFailures     int // Rejections since the last successful authentication
	lastErr          error

	queue opQueue
	rooms *roomRegistry

	subsMu    sync.Mutex
	stateSubs map[uint64]StateHandler
	subSeq    uint64

	outbox       *router.GrowableBuffer[notice]
	notifierDone chan struct{}
	wg           sync.WaitGroup
}

// notice is one item for the notifier goroutine: either an event for the
// router or a state transition.
type notice struct {
	event    *router.Event
	from, to State
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records manager activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithRouter dispatches events to r instead of a private router.
func WithRouter(r *router.Router) Option {
	return func(mgr *Manager) { mgr.router = r }
}

func withScheduler(s scheduler) Option {
	return func(mgr *Manager) { mgr.sched = s }
}

// NewManager creates a Manager. dial is called once per connection attempt.
func NewManager(cfg ManagerConfig, dial Dialer, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:    cfg,
		dial:   dial,
		logger: logger,
		sched:  realScheduler{},
		reconnectBackoff: NewBackoffWithConfig(BackoffConfig{
			Base:   cfg.ReconnectBaseDelay,
			Max:    cfg.ReconnectMaxDelay,
			Jitter: cfg.BackoffJitter,
		}),
		authBackoff: NewBackoffWithConfig(BackoffConfig{
			Base:   cfg.AuthRetryBaseDelay,
			Max:    cfg.AuthRetryMaxDelay,
			Jitter: cfg.BackoffJitter,
		}),
		rooms:        newRoomRegistry(),
		stateSubs:    make(map[uint64]StateHandler),
		outbox:       router.NewGrowableBuffer[notice](cfg.OutboxSize),
		notifierDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.router == nil {
		m.router = router.NewRouter(logger, m.metrics)
	}

	return m
}

// Start launches the notifier. Cancelling ctx has the same effect as Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)

	go m.notifyLoop()
	go func() {
		<-m.ctx.Done()
		m.mu.Lock()
		m.shutdownLocked()
		m.mu.Unlock()
	}()

	m.logger.Info("connection manager started")
	return nil
}

// Stop tears down the transport and waits for pending notifications to be
// delivered.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.stopped = true
		m.mu.Unlock()
		return nil
	}
	m.shutdownLocked()
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		<-m.notifierDone
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) shutdownLocked() {
	if m.stopped {
		return
	}
	m.teardownLocked("manager stopped")
	m.metrics.OperationsDropped(m.queue.reset())
	m.setState(StateDisconnected)
	m.stopped = true
	m.cancel()
	m.outbox.Close()
}

// Connect starts a new connection attempt authenticated with token. Any
// current attempt is superseded. The outcome is observed through state
// handlers and the router.
func (m *Manager) Connect(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkRunningLocked(); err != nil {
		return err
	}

	m.token = token
	m.resetRetriesLocked()
	m.teardownLocked("superseded")
	m.dialLocked()
	return nil
}

// Authenticate replaces the token. With an open transport the token is sent
// immediately; while a dial is pending it is used once the transport opens;
// otherwise Authenticate behaves like Connect.
func (m *Manager) Authenticate(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkRunningLocked(); err != nil {
		return err
	}

	m.token = token
	m.authFailures = 0
	m.authBackoff.Reset()
	m.lastErr = nil

	switch st := m.State(); {
	case st == StateConnecting || st == StateReconnecting:
		return nil
	case m.client != nil && st != StateDisconnected:
		m.cancelTimerLocked()
		m.sendAuthLocked()
		return nil
	default:
		m.resetRetriesLocked()
		m.teardownLocked("superseded")
		m.dialLocked()
		return nil
	}
}

// Disconnect closes the transport, cancels pending retries and discards
// queued operations before returning. Desired rooms are kept for the next
// Connect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}

	m.teardownLocked("io client disconnect")
	if n := m.queue.reset(); n > 0 {
		m.metrics.OperationsDropped(n)
		m.logger.Info("discarded queued operations", "count", n)
	}
	m.resetRetriesLocked()
	m.setState(StateDisconnected)
	return nil
}

// JoinVesselRoom subscribes to updates for one vessel.
func (m *Manager) JoinVesselRoom(id string) error {
	return m.join(CategoryVessel, id)
}

// JoinAreaRoom subscribes to alerts for one area.
func (m *Manager) JoinAreaRoom(id string) error {
	return m.join(CategoryArea, id)
}

// LeaveVesselRoom drops a vessel subscription.
func (m *Manager) LeaveVesselRoom(id string) error {
	return m.leave(CategoryVessel, id)
}

// LeaveAreaRoom drops an area subscription.
func (m *Manager) LeaveAreaRoom(id string) error {
	return m.leave(CategoryArea, id)
}

// LeaveAllRooms drops every desired room.
func (m *Manager) LeaveAllRooms() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range m.rooms.desiredJoined() {
		m.leaveLocked(key)
	}
}

// MarkAlertRead queues a mark_alert_read action.
func (m *Manager) MarkAlertRead(alertID string) error {
	return m.action(protocol.EventMarkAlertRead, alertID)
}

// DismissAlert queues a dismiss_alert action.
func (m *Manager) DismissAlert(alertID string) error {
	return m.action(protocol.EventDismissAlert, alertID)
}

func (m *Manager) join(cat Category, id string) error {
	if id == "" {
		return ErrEmptyRoomID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.joinLocked(roomKey{category: cat, id: id})
	return nil
}

func (m *Manager) leave(cat Category, id string) error {
	if id == "" {
		return ErrEmptyRoomID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.leaveLocked(roomKey{category: cat, id: id})
	return nil
}

func (m *Manager) action(event, id string) error {
	if id == "" {
		return fmt.Errorf("%s: empty id", event)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue.enqueue(Operation{Kind: OpAction, Event: event, Payload: id})
	m.flushLocked()
	return nil
}

// On registers a listener on the manager's router.
func (m *Manager) On(event string, h router.Handler) (unsubscribe func()) {
	return m.router.On(event, h)
}

// Router returns the router events are dispatched to.
func (m *Manager) Router() *router.Router {
	return m.router
}

// OnStateChange registers fn for every state transition.
func (m *Manager) OnStateChange(fn StateHandler) (unsubscribe func()) {
	m.subsMu.Lock()
	m.subSeq++
	id := m.subSeq
	m.stateSubs[id] = fn
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		delete(m.stateSubs, id)
		m.subsMu.Unlock()
	}
}

// State returns the current state. Safe from any goroutine.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Rooms returns the registry in rejoin order.
func (m *Manager) Rooms() []Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms.snapshot()
}

// QueueLen returns the number of operations waiting for authentication.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// LastError returns the error that left the manager in StateError without
// a pending retry, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Epoch returns the current connection generation.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

func (m *Manager) checkRunningLocked() error {
	if m.stopped {
		return ErrManagerStopped
	}
	if !m.started {
		return ErrNotStarted
	}
	return nil
}

func (m *Manager) resetRetriesLocked() {
	m.reconnectBackoff.Reset()
	m.authBackoff.Reset()
	m.reconnects = 0
	m.authFailures = 0
	m.lastErr = nil
}

// setState records a transition and queues it for state handlers.
func (m *Manager) setState(to State) {
	from := State(m.state.Swap(uint32(to)))
	if from == to {
		return
	}

	m.metrics.StateChanged(from.String(), to.String())
	m.logger.Info("connection state changed",
		"from", from.String(),
		"to", to.String(),
		"epoch", m.epoch,
	)
	m.outbox.Send(notice{from: from, to: to})
}

// emit queues a locally synthesised event.
func (m *Manager) emit(name string, data any) {
	ev := router.Event{Name: name, ReceivedAt: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			m.logger.Error("failed to encode event", "event", name, "error", err)
			return
		}
		ev.Data = raw
	}
	m.outbox.Send(notice{event: &ev})
}

func (m *Manager) notifyLoop() {
	defer close(m.notifierDone)

	for {
		n, ok := m.outbox.Receive()
		if !ok {
			return
		}

		if n.event != nil {
			m.router.Dispatch(*n.event)
			continue
		}
		m.notifyState(n.from, n.to)
	}
}

func (m *Manager) notifyState(from, to State) {
	m.subsMu.Lock()
	ids := make([]uint64, 0, len(m.stateSubs))
	for id := range m.stateSubs {
		ids = append(ids, id)
	}
	m.subsMu.Unlock()

	// Registration order.
	slices.Sort(ids)

	for _, id := range ids {
		m.subsMu.Lock()
		fn, ok := m.stateSubs[id]
		m.subsMu.Unlock()
		if !ok {
			continue
		}
		m.callStateHandler(fn, from, to)
	}
}

func (m *Manager) callStateHandler(fn StateHandler, from, to State) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("state handler panicked", "from", from.String(), "to", to.String(), "panic", fmt.Sprint(p))
		}
	}()
	fn(from, to)
}
