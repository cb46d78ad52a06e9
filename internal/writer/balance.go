package writer

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/vesselwatch/internal/metrics"
	"github.com/rickgao/vesselwatch/internal/protocol"
	"github.com/rickgao/vesselwatch/internal/router"
)

const balancesTable = "credit_balances"

type balanceRow struct {
	ReceivedAt time.Time
	Balance    float64
	Change     float64
}

// BalanceWriter keeps a ledger of credit_balance_updated events.
type BalanceWriter struct {
	*batchWriter[protocol.CreditBalanceUpdated, balanceRow]
}

// NewBalanceWriter creates a BalanceWriter.
func NewBalanceWriter(cfg WriterConfig, db DB, m *metrics.Metrics, logger *slog.Logger) *BalanceWriter {
	return &BalanceWriter{newBatchWriter(balancesTable, cfg, db, m, logger, transformBalance, queueBalance)}
}

// Subscribe routes balance updates into the writer.
func (w *BalanceWriter) Subscribe(r *router.Router) (unsubscribe func()) {
	return w.subscribe(r, protocol.EventCreditBalanceUpdated)
}

func transformBalance(c protocol.CreditBalanceUpdated, receivedAt time.Time) balanceRow {
	return balanceRow{
		ReceivedAt: receivedAt.UTC(),
		Balance:    c.Balance,
		Change:     c.Change,
	}
}

func queueBalance(b *pgx.Batch, r balanceRow) {
	b.Queue(`
		INSERT INTO credit_balances (received_at, balance, change)
		VALUES ($1, $2, $3)
		ON CONFLICT (received_at) DO NOTHING
	`, r.ReceivedAt, r.Balance, r.Change)
}
