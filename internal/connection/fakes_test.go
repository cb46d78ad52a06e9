package connection

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rickgao/vesselwatch/internal/protocol"
)

// fakeClient is an in-memory transport.
type fakeClient struct {
	msgs chan TimestampedMessage
	errs chan error

	mu         sync.Mutex
	connectErr error
	sendErr    error
	connected  bool
	closed     bool
	sent       [][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		msgs: make(chan TimestampedMessage, 64),
		errs: make(chan error, 1),
	}
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return c.connectErr
	}
	if c.closed {
		return ErrAlreadyClosed
	}
	c.connected = true
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.connected = false
	return nil
}

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if !c.connected {
		return ErrNotConnected
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.msgs }
func (c *fakeClient) Errors() <-chan error                 { return c.errs }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) push(raw string) {
	c.msgs <- TimestampedMessage{Data: []byte(raw), ReceivedAt: time.Now()}
}

func (c *fakeClient) fail(err error) {
	c.errs <- err
}

func (c *fakeClient) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// frames decodes everything written to the client.
func (c *fakeClient) frames(t *testing.T) []protocol.Frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]protocol.Frame, 0, len(c.sent))
	for _, raw := range c.sent {
		f, err := protocol.Decode(raw)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

type sentOp struct {
	Event string
	Arg   string
}

// ops returns the sent frames as event/argument pairs.
func (c *fakeClient) ops(t *testing.T) []sentOp {
	t.Helper()
	var out []sentOp
	for _, f := range c.frames(t) {
		arg, err := protocol.DecodeData[string](f.Data)
		require.NoError(t, err)
		out = append(out, sentOp{Event: f.Event, Arg: arg})
	}
	return out
}

// opsExceptAuth filters out authenticate frames.
func (c *fakeClient) opsExceptAuth(t *testing.T) []sentOp {
	t.Helper()
	var out []sentOp
	for _, op := range c.ops(t) {
		if op.Event != protocol.EventAuthenticate {
			out = append(out, op)
		}
	}
	return out
}

// fakeNet hands out fakeClients and remembers them.
type fakeNet struct {
	mu         sync.Mutex
	clients    []*fakeClient
	connectErr error
}

func (n *fakeNet) dial(*slog.Logger) Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := newFakeClient()
	c.connectErr = n.connectErr
	n.clients = append(n.clients, c)
	return c
}

func (n *fakeNet) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

func (n *fakeNet) client(t *testing.T, i int) *fakeClient {
	t.Helper()
	require.Eventually(t, func() bool { return n.count() > i }, time.Second, time.Millisecond)
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clients[i]
}

func (n *fakeNet) setConnectErr(err error) {
	n.mu.Lock()
	n.connectErr = err
	n.mu.Unlock()
}

// fakeScheduler records timers instead of running them.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.stopped
	t.stopped = true
	return !was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.delay
	}
	return out
}

// fire runs timer i regardless of whether it was stopped, like a timer
// that raced its cancellation.
func (s *fakeScheduler) fire(i int) {
	s.timer(i).f()
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectBaseDelay: 100 * time.Millisecond,
		ReconnectMaxDelay:  time.Second,
		AuthRetryBaseDelay: 100 * time.Millisecond,
		AuthRetryMaxDelay:  time.Second,
		MaxAuthAttempts:    3,
	}
}

type harness struct {
	m     *Manager
	net   *fakeNet
	sched *fakeScheduler
}

func newHarness(t *testing.T, cfg ManagerConfig, opts ...Option) *harness {
	t.Helper()

	h := &harness{net: &fakeNet{}, sched: &fakeScheduler{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append(opts, withScheduler(h.sched))
	h.m = NewManager(cfg, h.net.dial, logger, opts...)

	require.NoError(t, h.m.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.m.Stop(ctx)
	})
	return h
}

// waitState waits for s and then for the handler that set it to finish.
func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.m.State() == s }, time.Second, time.Millisecond,
		"state = %s, want %s", h.m.State(), s)
	h.m.Epoch()
}

// connect waits for client i to open and send authenticate.
func (h *harness) connect(t *testing.T, i int) *fakeClient {
	t.Helper()
	c := h.net.client(t, i)
	h.waitState(t, StateAuthenticating)
	return c
}

func (h *harness) authenticate(t *testing.T, c *fakeClient) {
	t.Helper()
	c.push(`{"event":"authenticated","data":{"userId":"u-1","success":true}}`)
	h.waitState(t, StateAuthenticated)
}

// connectAndAuth runs a full Connect for a fresh manager.
func (h *harness) connectAndAuth(t *testing.T) *fakeClient {
	t.Helper()
	i := h.net.count()
	require.NoError(t, h.m.Connect("tok"))
	c := h.connect(t, i)
	h.authenticate(t, c)
	return c
}
