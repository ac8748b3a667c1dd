// Package sqlite stores closed candles and indicator snapshots in a local
// SQLite file. The writer batches inserts; the reader serves warm-start and
// backtest replay.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sniperbot/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	keepSnapshots     = 10
)

const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// Writer is a single-connection SQLite writer with transaction batching.
// It implements model.CandleStore and model.SnapshotStore.
type Writer struct {
	db         *sql.DB
	batchSize  int
	flushDelay time.Duration
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database at path in WAL mode and creates the schema.
func New(path string) (*Writer, error) {
	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	slog.Info("opened candle store", "path", path)
	return &Writer{db: db, batchSize: defaultBatchSize, flushDelay: defaultFlushDelay}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol  TEXT    NOT NULL,
			ts      INTEGER NOT NULL,
			open    TEXT    NOT NULL,
			high    TEXT    NOT NULL,
			low     TEXT    NOT NULL,
			close   TEXT    NOT NULL,
			volume  TEXT    NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS indicator_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_symbol ON indicator_snapshots(symbol, id);
	`)
	return err
}

// Run reads candles for symbol from ch and inserts them in batched
// transactions, flushing every batchSize candles or flushDelay, whichever
// comes first. Blocks until ctx is cancelled or ch is closed; pending
// candles are flushed before returning.
func (w *Writer) Run(ctx context.Context, symbol string, ch <-chan model.Candle) {
	symbol = model.NormalizeSymbol(symbol)
	batch := make([]model.Candle, 0, w.batchSize)
	timer := time.NewTimer(w.flushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(symbol, batch); err != nil {
			slog.Error("candle batch insert failed", "symbol", symbol, "count", len(batch), "error", err)
		} else {
			slog.Debug("committed candles", "symbol", symbol, "count", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case c, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= w.batchSize {
				flush()
				timer.Reset(w.flushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(w.flushDelay)
		}
	}
}

// SaveCandle upserts a single candle.
func (w *Writer) SaveCandle(ctx context.Context, symbol string, c model.Candle) error {
	_, err := w.db.ExecContext(ctx, upsertCandle, candleArgs(model.NormalizeSymbol(symbol), c)...)
	if err != nil {
		return fmt.Errorf("sqlite: save candle %s@%d: %w", symbol, c.Timestamp, err)
	}
	return nil
}

// LoadCandles returns up to limit most recent candles for symbol, oldest first.
func (w *Writer) LoadCandles(ctx context.Context, symbol string, limit int) ([]model.Candle, error) {
	return loadCandles(ctx, w.db, symbol, limit)
}

const upsertCandle = `
	INSERT OR REPLACE INTO candles (symbol, ts, open, high, low, close, volume)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

func candleArgs(symbol string, c model.Candle) []any {
	return []any{symbol, c.Timestamp, c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String()}
}

func (w *Writer) insertBatch(symbol string, candles []model.Candle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(upsertCandle)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(candleArgs(symbol, c)...); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SaveSnapshotJSON stores an encoded indicator snapshot and prunes all but
// the most recent few for symbol.
func (w *Writer) SaveSnapshotJSON(ctx context.Context, symbol string, data []byte) error {
	symbol = model.NormalizeSymbol(symbol)
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO indicator_snapshots (symbol, data, created_at) VALUES (?, ?, ?)`,
		symbol, string(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: insert snapshot: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `
		DELETE FROM indicator_snapshots
		WHERE symbol = ? AND id NOT IN (
			SELECT id FROM indicator_snapshots WHERE symbol = ? ORDER BY id DESC LIMIT ?
		)`, symbol, symbol, keepSnapshots)
	if err != nil {
		slog.Warn("prune snapshots failed", "symbol", symbol, "error", err)
	}
	return nil
}

// ReadSnapshotJSON loads the newest snapshot for symbol. Returns nil, nil if none exists.
func (w *Writer) ReadSnapshotJSON(ctx context.Context, symbol string) ([]byte, error) {
	var data string
	err := w.db.QueryRowContext(ctx,
		`SELECT data FROM indicator_snapshots WHERE symbol = ? ORDER BY id DESC LIMIT 1`,
		model.NormalizeSymbol(symbol)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read snapshot: %w", err)
	}
	return []byte(data), nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
