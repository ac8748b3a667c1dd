package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// ── Collaborator Port Interfaces ──
// These interfaces decouple the trading core from concrete adapters
// (Binance, Postgres, SQLite, Redis, webhooks).

// Exchange places orders and reports the quote-asset balance.
type Exchange interface {
	// PlaceOrder submits the order and returns the exchange order id.
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)

	// FetchBalance returns the free balance available for sizing.
	FetchBalance(ctx context.Context) (decimal.Decimal, error)
}

// Ledger is the durable source of truth for positions.
type Ledger interface {
	// SaveOrder persists a newly opened position.
	SaveOrder(ctx context.Context, pos Position, manual bool) error

	// CloseOrder marks a position closed with its exit price and realized PnL.
	CloseOrder(ctx context.Context, id string, exitPrice, pnl decimal.Decimal) error

	// LoadOpenPositions returns every position still marked open.
	LoadOpenPositions(ctx context.Context) ([]Position, error)
}

// SignalStore persists emitted signals.
type SignalStore interface {
	SaveSignal(ctx context.Context, sig Signal) error
}

// CandleStore persists and reloads candle history.
type CandleStore interface {
	SaveCandle(ctx context.Context, symbol string, c Candle) error

	// LoadCandles returns up to limit most recent candles, oldest first.
	LoadCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)
}

// Notifier delivers best-effort trading events to the operator.
type Notifier interface {
	NotifySignal(ctx context.Context, sig Signal) error
	NotifyPositionOpened(ctx context.Context, pos Position) error
	NotifyPositionClosed(ctx context.Context, pos Position, exitPrice, pnl decimal.Decimal) error
	NotifyError(ctx context.Context, msg string) error
}

// Publisher mirrors signals and orders to external observers.
type Publisher interface {
	PublishSignal(ctx context.Context, sig Signal) error
	PublishOrder(ctx context.Context, order OrderRequest) error
}

// SnapshotStore reads and writes the indicator window as raw JSON.
// Using []byte avoids a model→indicator→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded indicator snapshot for symbol.
	SaveSnapshotJSON(ctx context.Context, symbol string, data []byte) error

	// ReadSnapshotJSON loads the most recent snapshot.
	// Returns nil, nil if no snapshot exists.
	ReadSnapshotJSON(ctx context.Context, symbol string) ([]byte, error)
}
