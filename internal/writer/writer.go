package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/vesselwatch/internal/config"
	"github.com/rickgao/vesselwatch/internal/metrics"
	"github.com/rickgao/vesselwatch/internal/router"
)

// DB is the subset of *pgxpool.Pool the writers use.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig controls batching.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // Initial input buffer capacity
}

// DefaultWriterConfig returns the config defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     config.DefaultBatchSize,
		FlushInterval: config.DefaultFlushInterval,
		BufferSize:    config.DefaultBufferSize,
	}
}

// ConfigFrom converts the writers config section.
func ConfigFrom(c config.WritersConfig) WriterConfig {
	cfg := DefaultWriterConfig()
	if c.BatchSize > 0 {
		cfg.BatchSize = c.BatchSize
	}
	if c.FlushInterval > 0 {
		cfg.FlushInterval = c.FlushInterval
	}
	if c.BufferSize > 0 {
		cfg.BufferSize = c.BufferSize
	}
	return cfg
}

// WriterMetrics counts rows and flushes for one writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// pollInterval is how long the consumer sleeps on an empty buffer.
const pollInterval = 10 * time.Millisecond

// received pairs a decoded payload with its arrival time.
type received[T any] struct {
	payload    T
	receivedAt time.Time
}

// batchWriter is the shared consume/batch/flush loop. Concrete writers
// supply the row transform and the INSERT statement.
type batchWriter[T, R any] struct {
	name      string // Table name, used in logs and metrics
	cfg       WriterConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
	db        DB
	transform func(T, time.Time) R
	queue     func(*pgx.Batch, R)

	input *router.GrowableBuffer[received[T]]

	batch   []R
	batchMu sync.Mutex
	stats   WriterMetrics

	// quit ends the loops; writeCtx outlives it so a flush that is already
	// running when Stop begins still lands.
	quit     context.Context
	stop     context.CancelFunc
	writeCtx context.Context
	wg       sync.WaitGroup
}

func newBatchWriter[T, R any](
	name string,
	cfg WriterConfig,
	db DB,
	m *metrics.Metrics,
	logger *slog.Logger,
	transform func(T, time.Time) R,
	queue func(*pgx.Batch, R),
) *batchWriter[T, R] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.DefaultFlushInterval
	}
	return &batchWriter[T, R]{
		name:      name,
		cfg:       cfg,
		logger:    logger.With("table", name),
		metrics:   m,
		db:        db,
		transform: transform,
		queue:     queue,
		input:     router.NewGrowableBuffer[received[T]](cfg.BufferSize),
		batch:     make([]R, 0, cfg.BatchSize),
	}
}

// subscribe feeds event payloads from r into the input buffer.
func (w *batchWriter[T, R]) subscribe(r *router.Router, event string) (unsubscribe func()) {
	return router.Handle(r, event, func(v T) {
		w.enqueue(v, time.Now())
	})
}

func (w *batchWriter[T, R]) enqueue(v T, at time.Time) bool {
	return w.input.Send(received[T]{payload: v, receivedAt: at})
}

// Start launches the consumer and flush ticker.
func (w *batchWriter[T, R]) Start(ctx context.Context) error {
	w.quit, w.stop = context.WithCancel(ctx)
	w.writeCtx = context.WithoutCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop halts the loops, then writes whatever is still buffered using ctx.
func (w *batchWriter[T, R]) Stop(ctx context.Context) error {
	w.logger.Info("stopping writer")

	if w.stop != nil {
		w.stop()
	}
	w.input.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("writer stop timed out")
		return ctx.Err()
	}

	for _, msg := range w.input.DrainTo(0) {
		w.add(msg)
	}
	w.flush(ctx)

	w.logger.Info("writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns a snapshot of the writer's counters.
func (w *batchWriter[T, R]) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.stats
}

// Pending is the number of payloads not yet flushed.
func (w *batchWriter[T, R]) Pending() int {
	w.batchMu.Lock()
	n := len(w.batch)
	w.batchMu.Unlock()
	return n + w.input.Len()
}

func (w *batchWriter[T, R]) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.quit.Done():
			return
		default:
		}

		msg, ok := w.input.TryReceive()
		if !ok {
			select {
			case <-w.quit.Done():
				return
			case <-time.After(pollInterval):
				continue
			}
		}

		if w.add(msg) {
			w.flush(w.writeCtx)
		}
	}
}

func (w *batchWriter[T, R]) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.quit.Done():
			return
		case <-ticker.C:
			w.flush(w.writeCtx)
		}
	}
}

// add appends one row and reports whether the batch is full.
func (w *batchWriter[T, R]) add(msg received[T]) bool {
	row := w.transform(msg.payload, msg.receivedAt)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *batchWriter[T, R]) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	rows := w.batch
	w.batch = make([]R, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.insert(ctx, rows)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(rows))
		w.metrics.WriteError(w.name)
		w.batchMu.Lock()
		w.stats.Errors++
		if ctx.Err() != nil {
			// Cut short rather than rejected: keep the rows for the next flush.
			w.batch = append(rows, w.batch...)
		}
		w.batchMu.Unlock()
		return
	}

	inserted := len(rows) - conflicts
	w.metrics.RowsWritten(w.name, inserted)

	w.batchMu.Lock()
	w.stats.Inserts += int64(inserted)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed batch",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (w *batchWriter[T, R]) insert(ctx context.Context, rows []R) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		w.queue(batch, r)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
