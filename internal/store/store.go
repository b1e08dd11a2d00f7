// Package store implements a narrow trade-store contract: insert,
// status-update, query-by-(symbol,status=open), query-most-recent-N.
// Persistence schema and migrations beyond this contract are out of scope;
// this is deliberately a smaller surface than the full position/order/
// session schema in internal/db.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridianquant/tradecore/internal/domain"
)

// Status is the lifecycle state of a stored trade row.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
)

// Trade is a persisted trade row: domain.TradeRecord plus the identity
// and lifecycle fields the store itself owns.
type Trade struct {
	ID     string
	Status Status
	domain.TradeRecord
}

// PoolInterface is the slice of pgxpool.Pool this package depends on,
// narrow enough to satisfy with pgxmock in tests.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store is a pgx-backed implementation of the trade-store contract.
// It satisfies controlloop.TradeStore (InsertOpen/MarkCompleted) plus
// a handful of read-side query operations.
type Store struct {
	pool PoolInterface
}

// New wraps an already-connected pool. Schema creation is the caller's
// responsibility (see EnsureSchema for the one table this package owns).
func New(pool PoolInterface) *Store {
	return &Store{pool: pool}
}

// NewWithPool is the concrete-pgxpool convenience constructor used by
// the application entrypoint.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the trades table if it does not already exist.
// This package owns exactly one table; it does not run a migration
// framework over it.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS trades (
			id               TEXT PRIMARY KEY,
			symbol           TEXT NOT NULL,
			status           TEXT NOT NULL,
			entry_price      NUMERIC NOT NULL,
			exit_price       NUMERIC,
			quantity         NUMERIC NOT NULL,
			entry_time       TIMESTAMPTZ NOT NULL,
			exit_time        TIMESTAMPTZ,
			gross_pnl        NUMERIC,
			fees             NUMERIC,
			net_pnl          NUMERIC,
			pnl_pct          DOUBLE PRECISION,
			hold_minutes     DOUBLE PRECISION,
			confidence_entry DOUBLE PRECISION,
			regime_entry     TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades (symbol, status);
		CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades (entry_time DESC);
	`
	_, err := s.pool.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("ensure trades schema: %w", err)
	}
	return nil
}

// InsertOpen inserts a new open trade row. The row ID is always built
// from trade.Symbol and trade.EntryTime (in UnixNano), whatever
// trade.ID holds; it returns that ID.
func (s *Store) InsertOpen(ctx context.Context, trade domain.TradeRecord) (string, error) {
	id := fmt.Sprintf("%s-%d", trade.Symbol, trade.EntryTime.UnixNano())

	const q = `
		INSERT INTO trades (
			id, symbol, status, entry_price, quantity, entry_time,
			confidence_entry, regime_entry
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, q,
		id,
		trade.Symbol,
		string(StatusOpen),
		trade.EntryPrice,
		trade.Quantity,
		trade.EntryTime,
		trade.ConfidenceAtEntry,
		trade.RegimeAtEntry,
	)
	if err != nil {
		return "", fmt.Errorf("insert open trade: %w", err)
	}
	return id, nil
}

// MarkCompleted closes an open trade row with its exit price/time. The
// gross/net PnL and fee breakdown are computed by the caller (feegate
// and controlloop already own that math) and passed in separately via
// UpdatePnL, kept distinct so a bare exit can be recorded even if the
// PnL computation fails.
func (s *Store) MarkCompleted(ctx context.Context, id string, exitPrice decimal.Decimal, exitTime time.Time) error {
	const q = `
		UPDATE trades
		SET status = $2, exit_price = $3, exit_time = $4
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, q, id, string(StatusCompleted), exitPrice, exitTime)
	if err != nil {
		return fmt.Errorf("mark trade completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade not found: %s", id)
	}
	return nil
}

// UpdatePnL records the realized PnL breakdown for an already-completed
// trade. The performance tracker computes the breakdown; the store only
// persists it.
func (s *Store) UpdatePnL(ctx context.Context, id string, grossPnl, fees, netPnl decimal.Decimal, pnlPct, holdMinutes float64) error {
	const q = `
		UPDATE trades
		SET gross_pnl = $2, fees = $3, net_pnl = $4, pnl_pct = $5, hold_minutes = $6
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, q, id, grossPnl, fees, netPnl, pnlPct, holdMinutes)
	if err != nil {
		return fmt.Errorf("update trade pnl: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade not found: %s", id)
	}
	return nil
}

// OpenBySymbol returns the open trade for symbol, if any.
func (s *Store) OpenBySymbol(ctx context.Context, symbol string) (*Trade, error) {
	const q = `
		SELECT id, symbol, status, entry_price, exit_price, quantity,
		       entry_time, exit_time, gross_pnl, fees, net_pnl, pnl_pct,
		       hold_minutes, confidence_entry, regime_entry
		FROM trades
		WHERE symbol = $1 AND status = $2
		ORDER BY entry_time DESC
		LIMIT 1
	`
	row := s.pool.QueryRow(ctx, q, symbol, string(StatusOpen))
	trade, err := scanTrade(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query open trade for %s: %w", symbol, err)
	}
	return trade, nil
}

// Recent returns the most recent n trades across all symbols, newest
// first.
func (s *Store) Recent(ctx context.Context, n int) ([]*Trade, error) {
	const q = `
		SELECT id, symbol, status, entry_price, exit_price, quantity,
		       entry_time, exit_time, gross_pnl, fees, net_pnl, pnl_pct,
		       hold_minutes, confidence_entry, regime_entry
		FROM trades
		ORDER BY entry_time DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("query recent trades: %w", err)
	}
	defer rows.Close()

	var out []*Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent trade: %w", err)
		}
		out = append(out, trade)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*Trade, error) {
	var t Trade
	var exitPrice, grossPnl, fees, netPnl *decimal.Decimal
	var exitTime *time.Time
	var pnlPct, holdMinutes *float64
	var status string

	err := row.Scan(
		&t.ID, &t.Symbol, &status, &t.EntryPrice, &exitPrice, &t.Quantity,
		&t.EntryTime, &exitTime, &grossPnl, &fees, &netPnl, &pnlPct,
		&holdMinutes, &t.ConfidenceAtEntry, &t.RegimeAtEntry,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	if exitPrice != nil {
		t.ExitPrice = *exitPrice
	}
	if exitTime != nil {
		t.ExitTime = *exitTime
	}
	if grossPnl != nil {
		t.GrossPnl = *grossPnl
	}
	if fees != nil {
		t.Fees = *fees
	}
	if netPnl != nil {
		t.NetPnl = *netPnl
	}
	if pnlPct != nil {
		t.PnlPct = *pnlPct
	}
	if holdMinutes != nil {
		t.HoldMinutes = *holdMinutes
	}
	return &t, nil
}
