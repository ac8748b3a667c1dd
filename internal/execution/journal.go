package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

// Journal is a SQLite trade ledger. It implements model.Ledger and
// model.SignalStore and records paper fills for audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS positions (
		id           TEXT PRIMARY KEY,
		symbol       TEXT NOT NULL,
		side         TEXT NOT NULL,
		entry_price  TEXT NOT NULL,
		size         TEXT NOT NULL,
		stop_loss    TEXT NOT NULL,
		take_profit  TEXT NOT NULL,
		opened_at    INTEGER NOT NULL,
		manual       INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL DEFAULT 'open',
		exit_price   TEXT,
		pnl          TEXT,
		closed_at    INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);

	CREATE TABLE IF NOT EXISTS signals (
		id          TEXT PRIMARY KEY,
		ts          INTEGER NOT NULL,
		symbol      TEXT NOT NULL,
		action      TEXT NOT NULL,
		trend       TEXT NOT NULL,
		price       TEXT NOT NULL,
		confidence  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals(symbol, ts);

	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		client_id   TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		kind        TEXT NOT NULL,
		price       TEXT NOT NULL,
		size        TEXT NOT NULL,
		slippage    TEXT NOT NULL,
		manual      INTEGER NOT NULL DEFAULT 0,
		filled_at   DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}

	slog.Info("opened trade journal", "path", dbPath)
	return &Journal{db: db}, nil
}

// SaveOrder inserts a newly opened position.
func (j *Journal) SaveOrder(ctx context.Context, pos model.Position, manual bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO positions (id, symbol, side, entry_price, size, stop_loss, take_profit, opened_at, manual)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pos.ID, pos.Symbol, pos.Side.String(),
		pos.EntryPrice.String(), pos.Size.String(), pos.StopLoss.String(), pos.TakeProfit.String(),
		pos.OpenedAt, manual,
	)
	if err != nil {
		return fmt.Errorf("journal: save order %s: %w", pos.ID, err)
	}
	return nil
}

// CloseOrder marks an open position closed.
func (j *Journal) CloseOrder(ctx context.Context, id string, exitPrice, pnl decimal.Decimal) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx,
		`UPDATE positions SET status = 'closed', exit_price = ?, pnl = ?, closed_at = ?
		 WHERE id = ? AND status = 'open'`,
		exitPrice.String(), pnl.String(), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("journal: close order %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("journal: close order %s: no open position", id)
	}
	return nil
}

// LoadOpenPositions returns all open positions, oldest first.
func (j *Journal) LoadOpenPositions(ctx context.Context) ([]model.Position, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, symbol, side, entry_price, size, stop_loss, take_profit, opened_at
		 FROM positions WHERE status = 'open' ORDER BY opened_at, id`)
	if err != nil {
		return nil, fmt.Errorf("journal: load open positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var (
			p    model.Position
			side string
		)
		if err := rows.Scan(&p.ID, &p.Symbol, &side, &p.EntryPrice, &p.Size,
			&p.StopLoss, &p.TakeProfit, &p.OpenedAt); err != nil {
			return nil, fmt.Errorf("journal: scan position: %w", err)
		}
		if p.Side, err = model.ParsePositionSide(side); err != nil {
			return nil, fmt.Errorf("journal: position %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveSignal persists an emitted signal. Re-saving the same id is a no-op.
func (j *Journal) SaveSignal(ctx context.Context, sig model.Signal) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO signals (id, ts, symbol, action, trend, price, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Timestamp, sig.Symbol, sig.Action.String(), sig.Trend.String(),
		sig.Price.String(), sig.Confidence.String(),
	)
	if err != nil {
		return fmt.Errorf("journal: save signal %s: %w", sig.ID, err)
	}
	return nil
}

// RecordFill persists a fill to the journal.
func (j *Journal) RecordFill(f Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO fills (order_id, client_id, symbol, side, kind, price, size, slippage, manual, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.ClientID, f.Symbol, f.Side.String(), f.Kind.String(),
		f.Price.String(), f.Size.String(), f.Slippage.String(), f.Manual,
		f.FilledAt.Format(time.RFC3339),
	)
	return err
}

// TradeRecord represents a row from the positions table.
type TradeRecord struct {
	ID         string              `json:"id"`
	Symbol     string              `json:"symbol"`
	Side       string              `json:"side"`
	EntryPrice decimal.Decimal     `json:"entry_price"`
	Size       decimal.Decimal     `json:"size"`
	Manual     bool                `json:"manual"`
	Status     string              `json:"status"`
	ExitPrice  decimal.NullDecimal `json:"exit_price"`
	PnL        decimal.NullDecimal `json:"pnl"`
	OpenedAt   int64               `json:"opened_at"`
}

// GetTrades returns the last N positions, newest first.
func (j *Journal) GetTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, symbol, side, entry_price, size, manual, status, exit_price, pnl, opened_at
		 FROM positions ORDER BY opened_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: get trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.EntryPrice, &t.Size, &t.Manual,
			&t.Status, &t.ExitPrice, &t.PnL, &t.OpenedAt); err != nil {
			return nil, fmt.Errorf("journal: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Ping checks the database handle.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
