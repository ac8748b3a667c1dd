// Package postgres is the durable ledger: open/closed trades, emitted
// signals and candle history in PostgreSQL via a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

// ErrTradeNotFound is returned when CloseOrder matches no open trade.
var ErrTradeNotFound = errors.New("postgres: no open trade with that id")

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		trade_id    TEXT PRIMARY KEY,
		symbol      VARCHAR(20) NOT NULL,
		side        VARCHAR(5) NOT NULL,
		entry_price NUMERIC(28, 10) NOT NULL,
		quantity    NUMERIC(28, 10) NOT NULL,
		stop_loss   NUMERIC(28, 10) NOT NULL,
		take_profit NUMERIC(28, 10) NOT NULL,
		opened_at   TIMESTAMPTZ NOT NULL,
		closed_at   TIMESTAMPTZ,
		exit_price  NUMERIC(28, 10),
		pnl         NUMERIC(28, 10),
		status      VARCHAR(10) NOT NULL DEFAULT 'open',
		manual      BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,

	`CREATE TABLE IF NOT EXISTS signals (
		id         TEXT PRIMARY KEY,
		timestamp  BIGINT NOT NULL,
		symbol     VARCHAR(20) NOT NULL,
		action     VARCHAR(5) NOT NULL,
		price      NUMERIC(28, 10) NOT NULL,
		confidence NUMERIC(10, 6) NOT NULL,
		trend      VARCHAR(10) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals(symbol, timestamp)`,

	`CREATE TABLE IF NOT EXISTS candles (
		symbol    VARCHAR(20) NOT NULL,
		timestamp BIGINT NOT NULL,
		open      NUMERIC(28, 10) NOT NULL,
		high      NUMERIC(28, 10) NOT NULL,
		low       NUMERIC(28, 10) NOT NULL,
		close     NUMERIC(28, 10) NOT NULL,
		volume    NUMERIC(28, 10) NOT NULL,
		PRIMARY KEY (symbol, timestamp)
	)`,
}

// Store implements model.Ledger, model.SignalStore and model.CandleStore.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, pings and runs migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("connected to postgres", "database", cfg.ConnConfig.Database)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration %d: %w", i, err)
		}
	}
	return nil
}

// SaveOrder inserts a newly opened trade.
func (s *Store) SaveOrder(ctx context.Context, pos model.Position, manual bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (trade_id, symbol, side, entry_price, quantity,
			stop_loss, take_profit, opened_at, status, manual)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'open', $9)`,
		pos.ID, pos.Symbol, pos.Side.String(), pos.EntryPrice, pos.Size,
		pos.StopLoss, pos.TakeProfit, time.Unix(pos.OpenedAt, 0).UTC(), manual,
	)
	if err != nil {
		return fmt.Errorf("postgres: save order %s: %w", pos.ID, err)
	}
	return nil
}

// CloseOrder marks an open trade closed with its exit price and realized PnL.
func (s *Store) CloseOrder(ctx context.Context, id string, exitPrice, pnl decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades
		SET closed_at = $1, exit_price = $2, pnl = $3, status = 'closed'
		WHERE trade_id = $4 AND status = 'open'`,
		time.Now().UTC(), exitPrice, pnl, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: close order %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTradeNotFound, id)
	}
	return nil
}

// LoadOpenPositions returns every open trade, oldest first.
func (s *Store) LoadOpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, symbol, side, entry_price, quantity, stop_loss, take_profit, opened_at
		FROM trades
		WHERE status = 'open'
		ORDER BY opened_at, trade_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load open positions: %w", err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var (
			p        model.Position
			side     string
			openedAt time.Time
		)
		if err := rows.Scan(&p.ID, &p.Symbol, &side, &p.EntryPrice, &p.Size,
			&p.StopLoss, &p.TakeProfit, &openedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		if p.Side, err = model.ParsePositionSide(side); err != nil {
			return nil, fmt.Errorf("postgres: trade %s: %w", p.ID, err)
		}
		p.OpenedAt = openedAt.Unix()
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveSignal persists an emitted signal. Re-saving the same id is a no-op.
func (s *Store) SaveSignal(ctx context.Context, sig model.Signal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO signals (id, timestamp, symbol, action, price, confidence, trend)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		sig.ID, sig.Timestamp, sig.Symbol, sig.Action.String(), sig.Price, sig.Confidence, sig.Trend.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: save signal %s: %w", sig.ID, err)
	}
	return nil
}

// SaveCandle upserts a candle.
func (s *Store) SaveCandle(ctx context.Context, symbol string, c model.Candle) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO candles (symbol, timestamp, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, timestamp) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume`,
		model.NormalizeSymbol(symbol), c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume,
	)
	if err != nil {
		return fmt.Errorf("postgres: save candle %s@%d: %w", symbol, c.Timestamp, err)
	}
	return nil
}

// LoadCandles returns up to limit most recent candles for symbol, oldest first.
func (s *Store) LoadCandles(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT timestamp, open, high, low, close, volume FROM (
			SELECT timestamp, open, high, low, close, volume
			FROM candles
			WHERE symbol = $1
			ORDER BY timestamp DESC
			LIMIT $2
		) recent ORDER BY timestamp ASC`,
		model.NormalizeSymbol(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: load candles: %w", err)
	}
	return collectCandles(rows)
}

// LoadAll returns every stored candle for symbol with timestamp > after, oldest first.
func (s *Store) LoadAll(ctx context.Context, symbol string, after int64) ([]model.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles WHERE symbol = $1 AND timestamp > $2 ORDER BY timestamp ASC`,
		model.NormalizeSymbol(symbol), after)
	if err != nil {
		return nil, fmt.Errorf("postgres: load all candles: %w", err)
	}
	return collectCandles(rows)
}

func collectCandles(rows pgx.Rows) ([]model.Candle, error) {
	defer rows.Close()
	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("postgres: scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TradeStats summarises closed trades for one symbol.
type TradeStats struct {
	Wins     int64           `json:"wins"`
	Losses   int64           `json:"losses"`
	TotalPnL decimal.Decimal `json:"total_pnl"`
}

// TradeStats counts wins (pnl > 0) and losses (pnl <= 0) over closed trades.
func (s *Store) TradeStats(ctx context.Context, symbol string) (TradeStats, error) {
	var st TradeStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE pnl > 0),
			COUNT(*) FILTER (WHERE pnl <= 0),
			COALESCE(SUM(pnl), 0)
		FROM trades
		WHERE symbol = $1 AND status = 'closed'`, symbol,
	).Scan(&st.Wins, &st.Losses, &st.TotalPnL)
	if err != nil {
		return TradeStats{}, fmt.Errorf("postgres: trade stats %s: %w", symbol, err)
	}
	return st, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}
