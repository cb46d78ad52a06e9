package writer

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/vesselwatch/internal/metrics"
	"github.com/rickgao/vesselwatch/internal/protocol"
	"github.com/rickgao/vesselwatch/internal/router"
)

const alertsTable = "area_alerts"

type alertRow struct {
	AlertID    string
	AreaID     string
	AreaName   string
	Type       string
	Severity   string
	Message    string
	Ts         time.Time
	ReceivedAt time.Time
}

// AlertWriter records area_alert events, one row per alert id.
type AlertWriter struct {
	*batchWriter[protocol.AreaAlert, alertRow]
}

// NewAlertWriter creates an AlertWriter.
func NewAlertWriter(cfg WriterConfig, db DB, m *metrics.Metrics, logger *slog.Logger) *AlertWriter {
	return &AlertWriter{newBatchWriter(alertsTable, cfg, db, m, logger, transformAlert, queueAlert)}
}

// Subscribe routes area alerts into the writer.
func (w *AlertWriter) Subscribe(r *router.Router) (unsubscribe func()) {
	return w.subscribe(r, protocol.EventAreaAlert)
}

func transformAlert(a protocol.AreaAlert, receivedAt time.Time) alertRow {
	ts := a.Timestamp
	if ts.IsZero() {
		ts = receivedAt
	}
	return alertRow{
		AlertID:    a.ID,
		AreaID:     a.AreaID,
		AreaName:   a.AreaName,
		Type:       a.Type,
		Severity:   a.Severity,
		Message:    a.Message,
		Ts:         ts.UTC(),
		ReceivedAt: receivedAt.UTC(),
	}
}

func queueAlert(b *pgx.Batch, r alertRow) {
	b.Queue(`
		INSERT INTO area_alerts (alert_id, area_id, area_name, type, severity, message, ts, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (alert_id) DO NOTHING
	`, r.AlertID, r.AreaID, r.AreaName, r.Type, r.Severity, r.Message, r.Ts, r.ReceivedAt)
}
