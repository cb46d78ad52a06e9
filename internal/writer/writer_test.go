package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/vesselwatch/internal/config"
	"github.com/rickgao/vesselwatch/internal/metrics"
	"github.com/rickgao/vesselwatch/internal/protocol"
	"github.com/rickgao/vesselwatch/internal/router"
)

// fakeDB accepts batches and reports a conflict for every argument list
// whose first value is in conflicts.
type fakeDB struct {
	mu        sync.Mutex
	batches   [][]*pgx.QueuedQuery
	conflicts map[any]bool
	err       error
}

func (db *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.batches = append(db.batches, b.QueuedQueries)
	return &fakeResults{queries: b.QueuedQueries, conflicts: db.conflicts, err: db.err}
}

func (db *fakeDB) rows() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, b := range db.batches {
		n += len(b)
	}
	return n
}

type fakeResults struct {
	queries   []*pgx.QueuedQuery
	conflicts map[any]bool
	err       error
	i         int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	q := r.queries[r.i]
	r.i++
	if len(q.Arguments) > 0 && r.conflicts[q.Arguments[0]] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row { return nil }
func (r *fakeResults) Close() error { return nil }

// gateDB holds every batch until release is closed, failing early if the
// caller's context ends first.
type gateDB struct {
	fakeDB
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateDB() *gateDB {
	return &gateDB{entered: make(chan struct{}), release: make(chan struct{})}
}

func (db *gateDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	db.once.Do(func() { close(db.entered) })
	select {
	case <-db.release:
		return db.fakeDB.SendBatch(ctx, b)
	case <-ctx.Done():
		return &fakeResults{queries: b.QueuedQueries, err: ctx.Err()}
	}
}

func testConfig(batch int) WriterConfig {
	return WriterConfig{BatchSize: batch, FlushInterval: time.Hour, BufferSize: 16}
}

func TestTransformPosition(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)

	row := transformPosition(protocol.VesselPositionUpdate{
		VesselID:  "v-1",
		Timestamp: ts,
		Position:  protocol.Position{Lat: 51.5, Lng: -0.12},
		Heading:   270,
		Speed:     12.5,
		Status:    "underway",
	}, got)

	assert.Equal(t, "v-1", row.VesselID)
	assert.Equal(t, ts, row.Ts)
	assert.Equal(t, got, row.ReceivedAt)
	assert.Equal(t, 51.5, row.Lat)
	assert.Equal(t, -0.12, row.Lng)
	assert.Equal(t, 270.0, row.Heading)
	assert.Equal(t, 12.5, row.Speed)
	assert.Equal(t, "underway", row.Status)
}

func TestTransformPosition_MissingTimestamp(t *testing.T) {
	got := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)

	row := transformPosition(protocol.VesselPositionUpdate{VesselID: "v-1"}, got)

	assert.Equal(t, got, row.Ts, "server timestamp falls back to receive time")
}

func TestTransformAlert(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	row := transformAlert(protocol.AreaAlert{
		ID:        "al-1",
		AreaID:    "a-1",
		AreaName:  "Dover Strait",
		Type:      "entry",
		Severity:  "high",
		Message:   "vessel entered",
		Timestamp: ts,
	}, ts.Add(time.Second))

	assert.Equal(t, "al-1", row.AlertID)
	assert.Equal(t, "a-1", row.AreaID)
	assert.Equal(t, "Dover Strait", row.AreaName)
	assert.Equal(t, "high", row.Severity)
	assert.Equal(t, ts, row.Ts)
	assert.Equal(t, ts.Add(time.Second), row.ReceivedAt)
}

func TestTransformBalance(t *testing.T) {
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	row := transformBalance(protocol.CreditBalanceUpdated{Balance: 40, Change: -2}, at)

	assert.Equal(t, at, row.ReceivedAt)
	assert.Equal(t, 40.0, row.Balance)
	assert.Equal(t, -2.0, row.Change)
}

func TestFlush_CountsConflicts(t *testing.T) {
	db := &fakeDB{conflicts: map[any]bool{"al-2": true}}
	reg := prometheus.NewRegistry()
	w := NewAlertWriter(testConfig(10), db, metrics.New(reg), nil)

	now := time.Now()
	for _, id := range []string{"al-1", "al-2", "al-3"} {
		require.True(t, w.enqueue(protocol.AreaAlert{ID: id}, now))
	}
	for _, msg := range w.input.DrainTo(0) {
		w.add(msg)
	}
	w.flush(context.Background())

	stats := w.Stats()
	assert.Equal(t, int64(2), stats.Inserts)
	assert.Equal(t, int64(1), stats.Conflicts)
	assert.Equal(t, int64(1), stats.Flushes)
	assert.Equal(t, 0, w.Pending())

	n, err := testutil.GatherAndCount(reg, "vesselwatch_recorder_rows_written_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFlush_Error(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	w := NewPositionWriter(testConfig(10), db, nil, nil)

	w.add(received[protocol.VesselPositionUpdate]{payload: protocol.VesselPositionUpdate{VesselID: "v-1"}, receivedAt: time.Now()})
	w.flush(context.Background())

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(0), stats.Inserts)
	assert.Equal(t, int64(0), stats.Flushes)
}

func TestFlush_Empty(t *testing.T) {
	db := &fakeDB{}
	w := NewPositionWriter(testConfig(10), db, nil, nil)

	w.flush(context.Background())

	assert.Equal(t, 0, db.rows())
	assert.Equal(t, int64(0), w.Stats().Flushes)
}

func TestWriter_BatchSizeTriggersFlush(t *testing.T) {
	db := &fakeDB{}
	w := NewPositionWriter(testConfig(2), db, nil, nil)
	require.NoError(t, w.Start(context.Background()))

	w.enqueue(protocol.VesselPositionUpdate{VesselID: "v-1", Timestamp: time.Unix(1, 0)}, time.Now())
	w.enqueue(protocol.VesselPositionUpdate{VesselID: "v-1", Timestamp: time.Unix(2, 0)}, time.Now())

	assert.Eventually(t, func() bool { return db.rows() == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
}

func TestWriter_StopFlushesRemainder(t *testing.T) {
	db := &fakeDB{}
	w := NewPositionWriter(testConfig(100), db, nil, nil)
	require.NoError(t, w.Start(context.Background()))

	for i := 0; i < 5; i++ {
		w.enqueue(protocol.VesselPositionUpdate{VesselID: "v-1", Timestamp: time.Unix(int64(i), 0)}, time.Now())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	assert.Equal(t, 5, db.rows())
	assert.Equal(t, int64(5), w.Stats().Inserts)
	assert.False(t, w.enqueue(protocol.VesselPositionUpdate{VesselID: "v-2"}, time.Now()), "closed writer rejects input")
}

func TestWriter_StopWaitsForRunningFlush(t *testing.T) {
	db := newGateDB()
	w := NewPositionWriter(testConfig(1), db, nil, nil)
	require.NoError(t, w.Start(context.Background()))

	w.enqueue(protocol.VesselPositionUpdate{VesselID: "v-1", Timestamp: time.Unix(1, 0)}, time.Now())
	select {
	case <-db.entered:
	case <-time.After(time.Second):
		t.Fatal("batch never reached the database")
	}

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopped <- w.Stop(ctx)
	}()

	// Let Stop end the loops while the insert is still outstanding.
	time.Sleep(20 * time.Millisecond)
	close(db.release)

	require.NoError(t, <-stopped)
	assert.Equal(t, 1, db.rows())
	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Inserts)
	assert.Zero(t, stats.Errors)
}

func TestFlush_CancelledKeepsRows(t *testing.T) {
	db := newGateDB()
	w := NewPositionWriter(testConfig(10), db, nil, nil)

	w.add(received[protocol.VesselPositionUpdate]{payload: protocol.VesselPositionUpdate{VesselID: "v-1"}, receivedAt: time.Now()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.flush(ctx)

	assert.Equal(t, int64(1), w.Stats().Errors)
	assert.Equal(t, 1, w.Pending(), "rows survive an interrupted insert")

	close(db.release)
	w.flush(context.Background())
	assert.Equal(t, 1, db.rows())
	assert.Equal(t, 0, w.Pending())
}

func TestWriter_Subscribe(t *testing.T) {
	r := router.NewRouter(nil, nil)
	w := NewAlertWriter(testConfig(10), &fakeDB{}, nil, nil)
	unsubscribe := w.Subscribe(r)

	data, err := json.Marshal(protocol.AreaAlert{ID: "al-1", AreaID: "a-1"})
	require.NoError(t, err)
	r.Dispatch(router.Event{Name: protocol.EventAreaAlert, Data: data})
	r.Dispatch(router.Event{Name: protocol.EventVesselPositionUpdate, Data: data})

	require.Equal(t, 1, w.Pending())
	msg, ok := w.input.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "al-1", msg.payload.ID)
	assert.False(t, msg.receivedAt.IsZero())

	unsubscribe()
	r.Dispatch(router.Event{Name: protocol.EventAreaAlert, Data: data})
	assert.Equal(t, 0, w.Pending())
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.WritersConfig{BatchSize: 50})

	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, config.DefaultFlushInterval, cfg.FlushInterval)
	assert.Equal(t, config.DefaultBufferSize, cfg.BufferSize)
}
