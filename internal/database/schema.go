package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs DDL. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema is applied in order by EnsureSchema. Every statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS vessel_positions (
		vessel_id   TEXT             NOT NULL,
		ts          TIMESTAMPTZ      NOT NULL,
		received_at TIMESTAMPTZ      NOT NULL,
		lat         DOUBLE PRECISION NOT NULL,
		lng         DOUBLE PRECISION NOT NULL,
		heading     DOUBLE PRECISION,
		speed       DOUBLE PRECISION,
		status      TEXT,
		PRIMARY KEY (vessel_id, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS area_alerts (
		alert_id    TEXT        PRIMARY KEY,
		area_id     TEXT        NOT NULL,
		area_name   TEXT,
		type        TEXT,
		severity    TEXT,
		message     TEXT,
		ts          TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS area_alerts_area_ts ON area_alerts (area_id, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS credit_balances (
		received_at TIMESTAMPTZ      PRIMARY KEY,
		balance     DOUBLE PRECISION NOT NULL,
		change      DOUBLE PRECISION NOT NULL
	)`,
}

// hypertables are converted when the timescaledb extension is installed.
var hypertables = []struct{ table, column string }{
	{"vessel_positions", "ts"},
	{"credit_balances", "received_at"},
}

// EnsureSchema creates the recorder tables. When the timescaledb extension
// is present the time-series tables also become hypertables.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range Schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	timescale, err := HasTimescale(ctx, db)
	if err != nil {
		return err
	}
	if !timescale {
		return nil
	}
	for _, h := range hypertables {
		if _, err := db.Exec(ctx,
			`SELECT create_hypertable($1::regclass, $2::name, if_not_exists => TRUE, migrate_data => TRUE)`,
			h.table, h.column,
		); err != nil {
			return fmt.Errorf("create hypertable %s: %w", h.table, err)
		}
	}
	return nil
}

// HasTimescale reports whether the timescaledb extension is installed.
func HasTimescale(ctx context.Context, db Execer) (bool, error) {
	var ok bool
	err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check timescaledb extension: %w", err)
	}
	return ok, nil
}
