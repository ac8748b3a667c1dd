package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sniperbot/internal/model"
	"sniperbot/internal/portfolio"
)

var (
	// ErrPositionExists is returned by OpenManual when the symbol already has
	// a position or an open in flight.
	ErrPositionExists = errors.New("position already open for symbol")

	// ErrInvalidLevels is returned when a stop-loss or take-profit lies on the
	// wrong side of the entry price.
	ErrInvalidLevels = errors.New("stop-loss or take-profit on the wrong side of entry")
)

// ManualOrder is an operator-initiated entry.
type ManualOrder struct {
	Symbol     string
	Side       model.PositionSide
	Price      decimal.Decimal
	Size       decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Kind       model.OrderKind
}

// OpenManual places an operator entry and records it with manual=true.
// Zero stop-loss or take-profit fall back to the automatic 2% / 4% levels.
func (e *Engine) OpenManual(ctx context.Context, m ManualOrder) (model.Position, error) {
	if !m.Price.IsPositive() || !m.Size.IsPositive() {
		return model.Position{}, fmt.Errorf("strategy: manual order needs positive price and size")
	}
	if e.positions.HasPositionForSymbol(m.Symbol) {
		return model.Position{}, fmt.Errorf("strategy: manual open %s: %w", m.Symbol, ErrPositionExists)
	}
	if err := ValidateLevels(m.Side, m.Price, m.StopLoss, m.TakeProfit); err != nil {
		return model.Position{}, fmt.Errorf("strategy: manual open %s: %w", m.Symbol, err)
	}

	tp, sl := ExitLevels(m.Side, m.Price)
	if !m.TakeProfit.IsZero() {
		tp = m.TakeProfit
	}
	if !m.StopLoss.IsZero() {
		sl = m.StopLoss
	}

	id := uuid.NewString()
	req := model.OrderRequest{
		ID:         id,
		Symbol:     m.Symbol,
		Side:       m.Side.EntryAction(),
		Price:      m.Price,
		Size:       m.Size,
		Kind:       m.Kind,
		StopLoss:   &sl,
		TakeProfit: &tp,
		Manual:     true,
	}
	pos := model.Position{
		ID:         id,
		Symbol:     m.Symbol,
		Side:       m.Side,
		EntryPrice: m.Price,
		Size:       m.Size,
		StopLoss:   sl,
		TakeProfit: tp,
		OpenedAt:   time.Now().Unix(),
	}

	if err := e.open(ctx, req, pos, true); err != nil {
		return model.Position{}, err
	}
	return pos, nil
}

// ValidateLevels checks that explicit exit levels fit side at price: a Long
// needs stopLoss < price < takeProfit and a Short the reverse. Zero levels
// are unset and always pass.
func ValidateLevels(side model.PositionSide, price, stopLoss, takeProfit decimal.Decimal) error {
	if stopLoss.IsNegative() || takeProfit.IsNegative() {
		return fmt.Errorf("%w: negative level", ErrInvalidLevels)
	}
	below := func(level decimal.Decimal) bool { return level.IsZero() || level.LessThan(price) }
	above := func(level decimal.Decimal) bool { return level.IsZero() || level.GreaterThan(price) }

	ok := below(stopLoss) && above(takeProfit)
	if side == model.SideShort {
		ok = above(stopLoss) && below(takeProfit)
	}
	if !ok {
		return fmt.Errorf("%w: %s entry %s, stop_loss %s, take_profit %s",
			ErrInvalidLevels, side, price, stopLoss, takeProfit)
	}
	return nil
}

// CloseManual exits an open position at price with an opposite-side market order.
func (e *Engine) CloseManual(ctx context.Context, id string, price decimal.Decimal) (decimal.Decimal, error) {
	pos, ok := e.positions.Get(id)
	if !ok {
		return decimal.Zero, fmt.Errorf("strategy: manual close %s: %w", id, portfolio.ErrPositionNotFound)
	}
	if !price.IsPositive() {
		if latest, ok := e.indicators.Latest(); ok {
			price = latest.Close
		} else {
			return decimal.Zero, fmt.Errorf("strategy: manual close %s: no price available", id)
		}
	}
	return e.exit(ctx, pos, price, true)
}
