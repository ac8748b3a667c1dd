package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"sniperbot/internal/model"
)

// Reader provides read-only access to stored candles for warm-start and backtests.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	slog.Info("opened candle reader", "path", path)
	return &Reader{db: db}, nil
}

// LoadCandles returns up to limit most recent candles for symbol, oldest first.
func (r *Reader) LoadCandles(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	return loadCandles(ctx, r.db, symbol, limit)
}

// LoadAll returns every stored candle for symbol with ts > after, oldest first.
func (r *Reader) LoadAll(ctx context.Context, symbol string, after int64) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND ts > ?
		ORDER BY ts ASC
	`, model.NormalizeSymbol(symbol), after)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

// LastTimestamp returns the newest stored candle time for symbol, or 0.
func (r *Reader) LastTimestamp(ctx context.Context, symbol string) (int64, error) {
	var ts sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM candles WHERE symbol = ?`, model.NormalizeSymbol(symbol)).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("sqlite: last timestamp: %w", err)
	}
	return ts.Int64, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

func loadCandles(ctx context.Context, db *sql.DB, symbol string, limit int) ([]model.Candle, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume FROM (
			SELECT ts, open, high, low, close, volume
			FROM candles
			WHERE symbol = ?
			ORDER BY ts DESC
			LIMIT ?
		) ORDER BY ts ASC
	`, model.NormalizeSymbol(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query recent candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows)
}

func scanCandles(rows *sql.Rows) ([]model.Candle, error) {
	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite: scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
