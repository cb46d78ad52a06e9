package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/vesselwatch/internal/protocol"
	"github.com/rickgao/vesselwatch/internal/router"
)

// stopper is a cancellable timer handle.
type stopper interface {
	Stop() bool
}

type scheduler interface {
	AfterFunc(d time.Duration, f func()) stopper
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

type timerKind uint8

const (
	timerReconnect timerKind = iota
	timerAuthRetry
)

func (k timerKind) String() string {
	if k == timerAuthRetry {
		return "auth_retry"
	}
	return "reconnect"
}

// dialLocked starts a connection attempt under a new epoch.
func (m *Manager) dialLocked() {
	m.epoch++
	epoch := m.epoch
	session := uuid.NewString()

	client := m.dial(m.logger.With("epoch", epoch, "session", session))
	ctx, cancel := context.WithCancel(m.ctx)
	m.client = client
	m.attemptCancel = cancel

	m.setState(StateConnecting)
	m.logger.Debug("dialing", "epoch", epoch, "session", session)

	m.wg.Add(1)
	go m.pump(ctx, epoch, client)
}

// pump feeds one transport's lifecycle into the manager.
func (m *Manager) pump(ctx context.Context, epoch uint64, c Client) {
	defer m.wg.Done()

	if err := c.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.handleClose(epoch, err, true)
		return
	}
	m.handleOpen(epoch)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.Messages():
			m.handleFrame(epoch, msg)
		case err := <-c.Errors():
			// Frames read before the failure still count.
			for drained := false; !drained; {
				select {
				case msg := <-c.Messages():
					m.handleFrame(epoch, msg)
				default:
					drained = true
				}
			}
			m.handleClose(epoch, err, false)
			return
		}
	}
}

// current reports whether a transport callback for epoch may act.
func (m *Manager) current(epoch uint64) bool {
	return !m.stopped && epoch == m.epoch && m.client != nil
}

func (m *Manager) handleOpen(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(epoch) {
		return
	}

	if m.reconnects > 0 {
		m.emit(protocol.EventReconnect, m.reconnects)
		m.reconnects = 0
	}
	m.emit(protocol.EventConnect, nil)
	m.setState(StateConnected)
	m.sendAuthLocked()
}

func (m *Manager) handleClose(epoch uint64, err error, dialFailed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(epoch) {
		return
	}

	m.transportLostLocked(err, dialFailed)
}

func (m *Manager) handleFrame(epoch uint64, msg TimestampedMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(epoch) {
		return
	}

	f, err := protocol.Decode(msg.Data)
	if err != nil {
		m.metrics.ProtocolError()
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(msg.Data))
		return
	}

	switch f.Event {
	case protocol.EventAuthenticated:
		p, err := protocol.DecodeData[protocol.AuthenticatedPayload](f.Data)
		switch {
		case err != nil:
			m.metrics.ProtocolError()
			m.logger.Warn("bad authenticated payload", "error", err)
		case p.Success:
			m.onAuthenticatedLocked(p.UserID)
		default:
			m.onUnauthorizedLocked("authentication unsuccessful")
		}

	case protocol.EventUnauthorized:
		p, _ := protocol.DecodeData[protocol.UnauthorizedPayload](f.Data)
		m.onUnauthorizedLocked(p.Message)

	case protocol.EventRoomJoined, protocol.EventRoomLeft:
		p, err := protocol.DecodeData[protocol.RoomPayload](f.Data)
		if err != nil {
			m.metrics.ProtocolError()
			m.logger.Warn("bad room payload", "event", f.Event, "error", err)
			break
		}
		cat, ok := categoryFromType(p.Type)
		if !ok {
			m.logger.Warn("unknown room type", "event", f.Event, "type", p.Type)
			break
		}
		c := ConfirmedJoined
		if f.Event == protocol.EventRoomLeft {
			c = ConfirmedLeft
		}
		m.rooms.confirm(roomKey{category: cat, id: p.RoomID()}, c)

	case protocol.EventRoomJoinError:
		p, err := protocol.DecodeData[protocol.RoomJoinErrorPayload](f.Data)
		if err != nil {
			m.metrics.ProtocolError()
			break
		}
		if cat, ok := categoryFromType(p.Type); ok {
			m.rooms.confirm(roomKey{category: cat, id: p.RoomID()}, ConfirmedLeft)
		}
		m.logger.Warn("room join rejected", "room", p.Room, "type", p.Type, "message", p.Message)
	}

	m.outbox.Send(notice{event: &router.Event{
		Name:       f.Event,
		Data:       f.Data,
		ReceivedAt: msg.ReceivedAt,
	}})
}

func (m *Manager) onAuthenticatedLocked(userID string) {
	if m.State() == StateAuthenticated {
		// Token refresh on a live session.
		m.authFailures = 0
		m.authBackoff.Reset()
		return
	}

	m.cancelTimerLocked()
	m.resetRetriesLocked()
	m.setState(StateAuthenticated)
	m.logger.Info("authenticated", "user_id", userID, "epoch", m.epoch)

	m.rejoinLocked()
	m.flushLocked()
}

// rejoinLocked queues a join for every desired room. Confirmation state from
// earlier connections is ignored.
func (m *Manager) rejoinLocked() {
	keys := m.rooms.desiredJoined()
	for _, key := range keys {
		m.queue.removeFunc(func(op Operation) bool {
			return op.Kind == OpJoinRoom && op.room == key
		})
		m.rooms.setPending(key)
		m.queue.enqueue(joinOp(key))
	}
	if len(keys) > 0 {
		m.logger.Info("rejoining rooms", "count", len(keys), "epoch", m.epoch)
	}
}

func (m *Manager) onUnauthorizedLocked(reason string) {
	m.metrics.AuthFailure()
	m.authFailures++
	m.cancelTimerLocked()

	if m.authFailures > m.cfg.MaxAuthAttempts {
		m.lastErr = fmt.Errorf("%w after %d attempts: %s", ErrAuthRetriesExhausted, m.authFailures, reason)
		m.logger.Error("authentication failed", "error", m.lastErr, "epoch", m.epoch)

		// Nothing more will happen on this transport until the caller acts.
		m.closeTransportLocked()
		m.rooms.resetConfirmed()
		m.setState(StateError)
		m.emit(protocol.EventDisconnect, "authentication failed")
		return
	}

	delay := m.authBackoff.Next()
	m.logger.Warn("authentication rejected, retrying",
		"reason", reason,
		"attempt", m.authFailures,
		"delay", delay,
	)
	m.setState(StateError)
	m.scheduleLocked(delay, timerAuthRetry)
}

// transportLostLocked handles the end of the current transport.
func (m *Manager) transportLostLocked(err error, dialFailed bool) {
	m.closeTransportLocked()
	m.cancelTimerLocked()
	m.rooms.resetConfirmed()
	if n := m.queue.removeFunc(func(op Operation) bool { return op.Kind != OpAction }); n > 0 {
		m.logger.Debug("dropped queued room operations", "count", n)
	}

	if dialFailed {
		m.logger.Warn("connect failed", "error", err, "epoch", m.epoch)
		m.emit(protocol.EventConnectError, errString(err))
	} else {
		m.logger.Warn("connection lost", "error", err, "epoch", m.epoch)
		m.emit(protocol.EventDisconnect, errString(err))
	}

	m.scheduleReconnectLocked(err)
}

func (m *Manager) scheduleReconnectLocked(cause error) {
	if limit := m.cfg.MaxReconnectAttempts; limit > 0 && m.reconnects >= limit {
		m.lastErr = fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, m.reconnects, cause)
		m.logger.Error("giving up on reconnect", "error", m.lastErr)
		m.setState(StateError)
		m.emit(protocol.EventReconnectFailed, nil)
		return
	}

	delay := m.reconnectBackoff.Next()
	m.setState(StateReconnecting)
	m.logger.Info("reconnect scheduled", "attempt", m.reconnects+1, "delay", delay)
	m.scheduleLocked(delay, timerReconnect)
}

func (m *Manager) scheduleLocked(d time.Duration, kind timerKind) {
	m.cancelTimerLocked()

	seq, epoch := m.timerSeq, m.epoch
	m.timer = m.sched.AfterFunc(d, func() { m.fire(epoch, seq, kind) })
}

// cancelTimerLocked stops the pending timer. Bumping timerSeq also rejects a
// callback that already started.
func (m *Manager) cancelTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

func (m *Manager) fire(epoch, seq uint64, kind timerKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || epoch != m.epoch || seq != m.timerSeq || m.timer == nil {
		m.logger.Debug("ignoring stale timer", "kind", kind.String(), "epoch", epoch)
		return
	}
	m.timer = nil

	switch kind {
	case timerReconnect:
		m.reconnects++
		m.metrics.ReconnectAttempt()
		m.emit(protocol.EventReconnectAttempt, m.reconnects)
		m.dialLocked()
	case timerAuthRetry:
		if m.client != nil {
			m.sendAuthLocked()
		}
	}
}

func (m *Manager) sendAuthLocked() {
	data, err := protocol.Encode(protocol.EventAuthenticate, m.token)
	if err != nil {
		m.logger.Error("failed to encode authenticate", "error", err)
		return
	}
	if err := m.client.Send(data); err != nil {
		m.transportLostLocked(fmt.Errorf("send authenticate: %w", err), false)
		return
	}
	m.metrics.OperationSent(protocol.EventAuthenticate)

	if m.State() != StateAuthenticated {
		m.setState(StateAuthenticating)
	}
}

// flushLocked writes the queue in order. A send failure drops whatever was
// not yet written and is handled as transport loss. Each Send holds the lock
// for at most the client's WriteTimeout.
func (m *Manager) flushLocked() {
	if m.State() != StateAuthenticated || m.client == nil {
		return
	}

	ops := m.queue.drain()
	for i, op := range ops {
		data, err := protocol.Encode(op.Event, op.Payload)
		if err != nil {
			m.logger.Error("failed to encode operation", "event", op.Event, "error", err)
			continue
		}

		if err := m.client.Send(data); err != nil {
			dropped := len(ops) - i
			m.metrics.OperationsDropped(dropped)
			m.logger.Warn("flush interrupted", "error", err, "dropped", dropped)
			m.transportLostLocked(fmt.Errorf("send %s: %w", op.Event, err), false)
			return
		}
		m.metrics.OperationSent(op.Event)
	}
}

func (m *Manager) joinLocked(key roomKey) {
	added := m.rooms.want(key)

	if m.State() != StateAuthenticated {
		// The next rejoin sweep sends it.
		m.queue.removeFunc(func(op Operation) bool {
			return op.Kind == OpLeaveRoom && op.room == key
		})
		return
	}

	e, _ := m.rooms.get(key)
	switch {
	case e.confirmed == ConfirmedJoined:
		return
	case !added && e.confirmed == ConfirmedPending:
		// Join already in flight.
		return
	}
	m.rooms.setPending(key)
	m.queue.enqueue(joinOp(key))
	m.flushLocked()
}

func (m *Manager) leaveLocked(key roomKey) {
	confirmed := m.rooms.unwant(key)

	cancelled := m.queue.removeFunc(func(op Operation) bool {
		return op.Kind == OpJoinRoom && op.room == key
	})
	if confirmed == ConfirmedLeft {
		return
	}

	m.rooms.confirm(key, ConfirmedLeft)

	// A pending room only has a join on the wire once authenticated.
	sent := confirmed == ConfirmedJoined || m.State() == StateAuthenticated
	if cancelled > 0 || m.client == nil || !sent {
		return
	}

	m.queue.enqueue(Operation{Kind: OpLeaveRoom, Event: key.category.leaveEvent(), Payload: key.id, room: key})
	m.flushLocked()
}

// teardownLocked closes the transport and invalidates every callback of the
// current epoch.
func (m *Manager) teardownLocked(reason string) {
	hadTransport := m.client != nil && m.State() != StateConnecting

	m.cancelTimerLocked()
	m.closeTransportLocked()
	m.epoch++
	m.rooms.resetConfirmed()
	m.queue.removeFunc(func(op Operation) bool { return op.Kind != OpAction })

	if hadTransport {
		m.emit(protocol.EventDisconnect, reason)
	}
}

func (m *Manager) closeTransportLocked() {
	if m.attemptCancel != nil {
		m.attemptCancel()
		m.attemptCancel = nil
	}
	if m.client != nil {
		if err := m.client.Close(); err != nil && !errors.Is(err, ErrAlreadyClosed) {
			m.logger.Debug("close transport", "error", err)
		}
		m.client = nil
	}
}

func joinOp(key roomKey) Operation {
	return Operation{Kind: OpJoinRoom, Event: key.category.joinEvent(), Payload: key.id, room: key}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
