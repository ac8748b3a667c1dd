// Package memory provides an in-process ledger used by backtests and tests.
// It implements model.Ledger, model.SignalStore and model.CandleStore.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

// Trade is a ledger row: a position plus its close, if any.
type Trade struct {
	Position  model.Position
	Manual    bool
	Status    string // "open" or "closed"
	ExitPrice decimal.Decimal
	PnL       decimal.Decimal
	ClosedAt  time.Time
}

// Ledger is a mutex-guarded in-memory ledger.
type Ledger struct {
	mu      sync.RWMutex
	trades  map[string]*Trade
	order   []string
	signals []model.Signal
	candles map[string][]model.Candle
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		trades:  make(map[string]*Trade),
		candles: make(map[string][]model.Candle),
	}
}

func (l *Ledger) SaveOrder(_ context.Context, pos model.Position, manual bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.trades[pos.ID]; exists {
		return fmt.Errorf("memory: duplicate trade id %s", pos.ID)
	}
	l.trades[pos.ID] = &Trade{Position: pos, Manual: manual, Status: "open"}
	l.order = append(l.order, pos.ID)
	return nil
}

func (l *Ledger) CloseOrder(_ context.Context, id string, exitPrice, pnl decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[id]
	if !ok || t.Status != "open" {
		return fmt.Errorf("memory: no open trade %s", id)
	}
	t.Status = "closed"
	t.ExitPrice = exitPrice
	t.PnL = pnl
	t.ClosedAt = time.Now().UTC()
	return nil
}

func (l *Ledger) LoadOpenPositions(_ context.Context) ([]model.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Position
	for _, id := range l.order {
		if t := l.trades[id]; t.Status == "open" {
			out = append(out, t.Position)
		}
	}
	return out, nil
}

// Trades returns every recorded trade in insertion order.
func (l *Ledger) Trades() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Trade, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.trades[id])
	}
	return out
}

func (l *Ledger) SaveSignal(_ context.Context, sig model.Signal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, sig)
	return nil
}

// Signals returns a copy of the saved signals.
func (l *Ledger) Signals() []model.Signal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]model.Signal, len(l.signals))
	copy(cp, l.signals)
	return cp
}

func (l *Ledger) SaveCandle(_ context.Context, symbol string, c model.Candle) error {
	key := model.NormalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candles[key] = append(l.candles[key], c)
	return nil
}

func (l *Ledger) LoadCandles(_ context.Context, symbol string, limit int) ([]model.Candle, error) {
	l.mu.RLock()
	src := l.candles[model.NormalizeSymbol(symbol)]
	cp := make([]model.Candle, len(src))
	copy(cp, src)
	l.mu.RUnlock()

	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Timestamp < cp[j].Timestamp })
	if limit > 0 && len(cp) > limit {
		cp = cp[len(cp)-limit:]
	}
	return cp, nil
}
