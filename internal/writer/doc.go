// Package writer records realtime telemetry into TimescaleDB.
//
// Writers:
//   - PositionWriter: vessel_position_update -> vessel_positions
//   - AlertWriter: area_alert -> area_alerts
//   - BalanceWriter: credit_balance_updated -> credit_balances
//
// Each writer subscribes to the connection router, buffers decoded payloads
// in a GrowableBuffer, and flushes batches with pgx.Batch. Inserts are
// append-only with ON CONFLICT DO NOTHING, so a replayed event after a
// reconnect is counted as a conflict rather than a duplicate row.
package writer
