package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sniperbot/internal/logger"
	"sniperbot/internal/model"
	"sniperbot/internal/portfolio"
)

// processExits closes every position on symbol whose stop-loss or take-profit
// is reached at price. A failed exit leaves the position open; the next candle
// re-evaluates it.
func (e *Engine) processExits(ctx context.Context, price decimal.Decimal, symbol string) {
	for _, trig := range e.positions.CheckTriggers(price, symbol) {
		pos, ok := e.positions.Get(trig.ID)
		if !ok {
			continue // closed concurrently
		}
		slog.Info("exit triggered", append(logger.LogWithTrace(ctx),
			"id", pos.ID, "symbol", pos.Symbol, "kind", trig.Kind.String(), "price", trig.Price.String())...)

		if _, err := e.exit(ctx, pos, trig.Price, false); err != nil {
			if errors.Is(err, portfolio.ErrPositionBusy) || errors.Is(err, portfolio.ErrPositionNotFound) {
				slog.Info("position already closing", append(logger.LogWithTrace(ctx), "id", pos.ID)...)
				continue
			}
			slog.Error("exit failed", append(logger.LogWithTrace(ctx), "id", pos.ID, "error", err)...)
		}
	}
}

// exit marks pos as closing, places the opposite-side market order and,
// once filled, closes it in the store and notifies. A position already
// closing elsewhere gets no order. The exchange and ledger steps run on a
// detached context.
func (e *Engine) exit(ctx context.Context, pos model.Position, price decimal.Decimal, manual bool) (decimal.Decimal, error) {
	cur, err := e.positions.BeginClose(pos.ID)
	if err != nil {
		return decimal.Zero, err
	}

	ctx, cancel := detached(ctx)
	defer cancel()

	req := model.OrderRequest{
		ID:     uuid.NewString(),
		Symbol: cur.Symbol,
		Side:   cur.Side.ExitAction(),
		Price:  price,
		Size:   cur.Size,
		Kind:   model.OrderMarket,
		Manual: manual,
	}

	if _, err := e.placeOrder(ctx, req); err != nil {
		e.positions.AbortClose(cur.ID)
		e.notifyError(ctx, fmt.Sprintf("Failed to place close order for %s: %v", cur.ID, err))
		return decimal.Zero, fmt.Errorf("strategy: exit order: %w", err)
	}

	closed, pnl, err := e.positions.FinishClose(ctx, cur.ID, price)
	if err != nil {
		if errors.Is(err, portfolio.ErrPositionNotFound) {
			return decimal.Zero, err
		}
		// position stays open and is picked up again on the next trigger check
		e.notifyError(ctx, fmt.Sprintf("Close order for %s filled but not recorded: %v", cur.ID, err))
		return decimal.Zero, fmt.Errorf("strategy: close position: %w", err)
	}

	e.rec.PositionClosed(pnl.InexactFloat64())
	e.rec.PositionsOpen(e.positions.Count())
	e.notify(ctx, "position_closed", func(n model.Notifier) error {
		return n.NotifyPositionClosed(ctx, closed, price, pnl)
	})
	return pnl, nil
}
