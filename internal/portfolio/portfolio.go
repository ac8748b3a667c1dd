// Package portfolio owns the set of open positions.
//
// It enforces one position per normalized symbol, sizes new positions from
// account risk, detects stop-loss / take-profit triggers and realizes PnL on
// close. The durable ledger is the source of truth: every mutation is
// persisted first and only then applied in memory.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
)

var (
	// ErrPositionNotFound is returned when closing an id the store does not hold.
	ErrPositionNotFound = errors.New("position not found")

	// ErrPositionBusy is returned when a close for the same id is already in flight.
	ErrPositionBusy = errors.New("position close in progress")

	// ErrSymbolTaken is returned by Reserve when the symbol already has a
	// position or an open in flight.
	ErrSymbolTaken = errors.New("symbol already has a position or an open in flight")
)

// Store tracks all open positions. Reads run concurrently; open and close
// hold the lock only around the in-memory mutation, never across ledger I/O.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*model.Position // key = normalized symbol
	byID      map[string]string          // id -> normalized symbol
	pending   map[string]struct{}        // symbols with an open in flight
	closing   map[string]struct{}        // ids with a close in flight
	stats     Stats

	riskPerTrade decimal.Decimal
	ledger       model.Ledger
}

// New creates an empty Store. riskPerTrade is a fraction (0.02 = 2%).
func New(ledger model.Ledger, riskPerTrade decimal.Decimal) *Store {
	return &Store{
		positions:    make(map[string]*model.Position),
		byID:         make(map[string]string),
		pending:      make(map[string]struct{}),
		closing:      make(map[string]struct{}),
		riskPerTrade: riskPerTrade,
		ledger:       ledger,
	}
}

// Load rehydrates the store from the ledger's open positions.
// A second position on an already loaded symbol is skipped and logged.
func (s *Store) Load(ctx context.Context) (int, error) {
	open, err := s.ledger.LoadOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("portfolio: load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for i := range open {
		pos := open[i]
		key := pos.Key()
		if _, exists := s.positions[key]; exists {
			slog.Warn("duplicate open position in ledger, skipping",
				"id", pos.ID, "symbol", pos.Symbol)
			continue
		}
		s.positions[key] = &pos
		s.byID[pos.ID] = key
		loaded++
	}
	return loaded, nil
}

// Reserve claims the normalized symbol for an open whose entry order is
// about to be placed. It fails with ErrSymbolTaken while the symbol holds
// a position or another reservation. A successful Reserve must be followed
// by OpenReserved or Release.
func (s *Store) Reserve(symbol string) error {
	key := model.NormalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.positions[key]; exists {
		return fmt.Errorf("portfolio: reserve %s: %w", symbol, ErrSymbolTaken)
	}
	if _, inFlight := s.pending[key]; inFlight {
		return fmt.Errorf("portfolio: reserve %s: %w", symbol, ErrSymbolTaken)
	}
	s.pending[key] = struct{}{}
	return nil
}

// Release drops a reservation taken with Reserve.
func (s *Store) Release(symbol string) {
	s.mu.Lock()
	delete(s.pending, model.NormalizeSymbol(symbol))
	s.mu.Unlock()
}

// Open reserves the symbol, persists pos and adds it to the store.
//
// Non-positive price or size, or an existing position or reservation for
// the same normalized symbol, is a no-op that reports opened=false with a
// nil error. A ledger failure leaves memory unchanged and is returned.
func (s *Store) Open(ctx context.Context, pos model.Position, manual bool) (bool, error) {
	if !validPosition(pos) {
		slog.Warn("invalid position, skipping",
			"symbol", pos.Symbol, "price", pos.EntryPrice.String(), "size", pos.Size.String())
		return false, nil
	}
	if err := s.Reserve(pos.Symbol); err != nil {
		slog.Warn("position already exists or is opening for symbol", "symbol", pos.Symbol)
		return false, nil
	}
	if err := s.OpenReserved(ctx, pos, manual); err != nil {
		return false, err
	}
	return true, nil
}

// OpenReserved persists pos on a symbol claimed with Reserve and adds it to
// the store. The reservation is released whatever the outcome.
func (s *Store) OpenReserved(ctx context.Context, pos model.Position, manual bool) error {
	key := pos.Key()
	if !validPosition(pos) {
		s.Release(pos.Symbol)
		return fmt.Errorf("portfolio: open %s: price %s and size %s must be positive",
			pos.ID, pos.EntryPrice, pos.Size)
	}

	err := s.ledger.SaveOrder(ctx, pos, manual)

	s.mu.Lock()
	delete(s.pending, key)
	if err == nil {
		p := pos
		s.positions[key] = &p
		s.byID[pos.ID] = key
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("portfolio: save order %s: %w", pos.ID, err)
	}

	slog.Info("position opened",
		"id", pos.ID, "symbol", pos.Symbol, "side", pos.Side.String(),
		"entry", pos.EntryPrice.String(), "size", pos.Size.String(), "manual", manual)
	return nil
}

func validPosition(pos model.Position) bool {
	return pos.EntryPrice.IsPositive() && pos.Size.IsPositive()
}

// BeginClose marks the position as closing and returns it. Only one close
// per id can be in flight; a second caller gets ErrPositionBusy until
// FinishClose or AbortClose runs.
func (s *Store) BeginClose(id string) (model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return model.Position{}, fmt.Errorf("portfolio: close %s: %w", id, ErrPositionNotFound)
	}
	if _, busy := s.closing[id]; busy {
		return model.Position{}, fmt.Errorf("portfolio: close %s: %w", id, ErrPositionBusy)
	}
	s.closing[id] = struct{}{}
	return *s.positions[key], nil
}

// AbortClose clears the closing mark set by BeginClose.
func (s *Store) AbortClose(id string) {
	s.mu.Lock()
	delete(s.closing, id)
	s.mu.Unlock()
}

// FinishClose realizes a position marked by BeginClose at exitPrice and
// removes it once the ledger has recorded the close. On ledger failure the
// position stays open. The closing mark is cleared either way.
func (s *Store) FinishClose(ctx context.Context, id string, exitPrice decimal.Decimal) (model.Position, decimal.Decimal, error) {
	s.mu.RLock()
	key, ok := s.byID[id]
	var pos model.Position
	if ok {
		pos = *s.positions[key]
	}
	s.mu.RUnlock()
	if !ok {
		s.AbortClose(id)
		return model.Position{}, decimal.Zero, fmt.Errorf("portfolio: close %s: %w", id, ErrPositionNotFound)
	}

	pnl := pos.PnLAt(exitPrice)
	err := s.ledger.CloseOrder(ctx, id, exitPrice, pnl)

	s.mu.Lock()
	delete(s.closing, id)
	if err == nil {
		delete(s.positions, key)
		delete(s.byID, id)
		s.stats.record(pnl)
	}
	s.mu.Unlock()

	if err != nil {
		return pos, decimal.Zero, fmt.Errorf("portfolio: close order %s: %w", id, err)
	}

	slog.Info("position closed",
		"id", id, "symbol", pos.Symbol, "exit", exitPrice.String(), "pnl", pnl.String())
	return pos, pnl, nil
}

// Close realizes the position at exitPrice and removes it once the ledger
// has recorded the close. On ledger failure the position stays open.
func (s *Store) Close(ctx context.Context, id string, exitPrice decimal.Decimal) (model.Position, decimal.Decimal, error) {
	if _, err := s.BeginClose(id); err != nil {
		return model.Position{}, decimal.Zero, err
	}
	return s.FinishClose(ctx, id, exitPrice)
}

// Get returns the open position with the given id.
func (s *Store) Get(id string) (model.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[id]
	if !ok {
		return model.Position{}, false
	}
	return *s.positions[key], true
}

// HasPositionForSymbol reports whether a position is open on symbol (any notation).
func (s *Store) HasPositionForSymbol(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.positions[model.NormalizeSymbol(symbol)]
	return ok
}

// PositionsForSymbol returns the open positions on symbol (at most one).
func (s *Store) PositionsForSymbol(symbol string) []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pos, ok := s.positions[model.NormalizeSymbol(symbol)]; ok {
		return []model.Position{*pos}
	}
	return nil
}

// Positions returns a snapshot of all open positions, oldest first.
func (s *Store) Positions() []model.Position {
	s.mu.RLock()
	out := make([]model.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, *pos)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt != out[j].OpenedAt {
			return out[i].OpenedAt < out[j].OpenedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of open positions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}
