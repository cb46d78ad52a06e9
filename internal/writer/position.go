package writer

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/vesselwatch/internal/metrics"
	"github.com/rickgao/vesselwatch/internal/protocol"
	"github.com/rickgao/vesselwatch/internal/router"
)

const positionsTable = "vessel_positions"

type positionRow struct {
	VesselID   string
	Ts         time.Time
	ReceivedAt time.Time
	Lat        float64
	Lng        float64
	Heading    float64
	Speed      float64
	Status     string
}

// PositionWriter records vessel_position_update events.
type PositionWriter struct {
	*batchWriter[protocol.VesselPositionUpdate, positionRow]
}

// NewPositionWriter creates a PositionWriter. Call Subscribe to attach it
// to a router and Start to begin writing.
func NewPositionWriter(cfg WriterConfig, db DB, m *metrics.Metrics, logger *slog.Logger) *PositionWriter {
	return &PositionWriter{newBatchWriter(positionsTable, cfg, db, m, logger, transformPosition, queuePosition)}
}

// Subscribe routes vessel position updates into the writer.
func (w *PositionWriter) Subscribe(r *router.Router) (unsubscribe func()) {
	return w.subscribe(r, protocol.EventVesselPositionUpdate)
}

func transformPosition(p protocol.VesselPositionUpdate, receivedAt time.Time) positionRow {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = receivedAt
	}
	return positionRow{
		VesselID:   p.VesselID,
		Ts:         ts.UTC(),
		ReceivedAt: receivedAt.UTC(),
		Lat:        p.Position.Lat,
		Lng:        p.Position.Lng,
		Heading:    p.Heading,
		Speed:      p.Speed,
		Status:     p.Status,
	}
}

func queuePosition(b *pgx.Batch, r positionRow) {
	b.Queue(`
		INSERT INTO vessel_positions (vessel_id, ts, received_at, lat, lng, heading, speed, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (vessel_id, ts) DO NOTHING
	`, r.VesselID, r.Ts, r.ReceivedAt, r.Lat, r.Lng, r.Heading, r.Speed, r.Status)
}
